package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/basket/rwm/internal/store"
)

// Candidate item types.
const (
	ItemTask  = "TASK"
	ItemEvent = "EVENT"
	ItemFact  = "FACT"
)

const (
	maxCandidateTasks  = 20
	maxCandidateEvents = 100
	nowCardListLimit   = 5
	mandatoryPerKind   = 3
)

// Item is one scored bundle candidate.
type Item struct {
	ID        string
	Type      string
	Text      string
	TokenCost int
	Score     float64
}

// Pointer references a picked item in the structured bundle output.
type Pointer struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// NowCard is the structured header of a rehydration bundle.
type NowCard struct {
	Objective string   `json:"objective"`
	Active    []string `json:"active"`
	Decisions []string `json:"decisions"`
	Failing   []string `json:"failing"`
}

// Metric records the token cost attributed to one picked item.
type Metric struct {
	PointerID string
	TokenCost int
}

// Bundle is a composed rehydration bundle.
type Bundle struct {
	Text          string
	Now           NowCard
	Pointers      []Pointer
	TokenEstimate int
	Budget        int
	Metrics       []Metric
}

// Compose builds a rehydration bundle for a session under a token budget.
// Recent decisions and failures are mandatory and admitted first; the rest
// of the candidates fill the remaining budget greedily by utility density.
func (e *Engine) Compose(ctx context.Context, sessionID string, budget int, now time.Time) (Bundle, error) {
	tasks, err := e.store.ListActiveTasks(ctx, sessionID, maxCandidateTasks)
	if err != nil {
		return Bundle{}, err
	}
	events, err := e.store.ListRecentEvents(ctx, sessionID, maxCandidateEvents)
	if err != nil {
		return Bundle{}, err
	}
	facts, err := e.store.ListFacts(ctx)
	if err != nil {
		return Bundle{}, err
	}

	items := make([]Item, 0, len(tasks)+len(events)+len(facts))
	for _, task := range tasks {
		text := fmt.Sprintf("TASK %s: %s [%s]", task.ID, task.Title, task.Status)
		if task.AcceptCriteria != nil {
			text += "\nACCEPT: " + *task.AcceptCriteria
		}
		items = append(items, Item{
			ID:        task.ID,
			Type:      ItemTask,
			Text:      text,
			TokenCost: e.estimator.Estimate(text, e.family),
			Score:     5.0 + boost(3, 0.5, ageHours(now, task.UpdatedAt)),
		})
	}
	for _, ev := range events {
		text := fmt.Sprintf("%s %s: %s", ev.Kind, ev.ID, ev.Summary)
		base := 2.0
		switch ev.Kind {
		case store.EventTestFail, store.EventBlocker:
			base = 4.0
		case store.EventDecision:
			base = 3.5
		}
		items = append(items, Item{
			ID:        ev.ID,
			Type:      ItemEvent,
			Text:      text,
			TokenCost: e.estimator.Estimate(text, e.family),
			Score:     base + boost(4, 1, ageHours(now, ev.TS)),
		})
	}
	for _, fact := range facts {
		text := fmt.Sprintf("FACT %s=%s (%s)", fact.Key, fact.Value, fact.Scope)
		items = append(items, Item{
			ID:        fact.ID,
			Type:      ItemFact,
			Text:      text,
			TokenCost: e.estimator.Estimate(text, e.family),
			Score:     1.5,
		})
	}

	mandatory := mandatoryIDs(events)
	picked, used := selectItems(items, mandatory, budget)

	card := nowCard(tasks, events)
	pointers := make([]Pointer, 0, len(picked))
	metrics := make([]Metric, 0, len(picked))
	for _, item := range picked {
		pointers = append(pointers, Pointer{ID: item.ID, Type: item.Type})
		metrics = append(metrics, Metric{PointerID: item.ID, TokenCost: item.TokenCost})
	}

	return Bundle{
		Text:          renderBundle(card, picked),
		Now:           card,
		Pointers:      pointers,
		TokenEstimate: used,
		Budget:        budget,
		Metrics:       metrics,
	}, nil
}

func ageHours(now, t time.Time) float64 {
	hours := now.Sub(t).Hours()
	if hours < 0 {
		return 0
	}
	return hours
}

// boost computes a linear recency bonus: ceiling minus decay per hour,
// floored at zero.
func boost(ceiling, perHour, hours float64) float64 {
	v := ceiling - perHour*hours
	if v < 0 {
		return 0
	}
	return v
}

// mandatoryIDs returns the IDs that must be admitted first: up to three most
// recent decisions and up to three most recent failures or blockers. events
// must already be ordered by descending ts.
func mandatoryIDs(events []store.Event) []string {
	var decisions, failures []string
	for _, ev := range events {
		switch ev.Kind {
		case store.EventDecision:
			if len(decisions) < mandatoryPerKind {
				decisions = append(decisions, ev.ID)
			}
		case store.EventTestFail, store.EventBlocker:
			if len(failures) < mandatoryPerKind {
				failures = append(failures, ev.ID)
			}
		}
	}

	want := make(map[string]struct{}, len(decisions)+len(failures))
	for _, id := range decisions {
		want[id] = struct{}{}
	}
	for _, id := range failures {
		want[id] = struct{}{}
	}

	// Preserve ts-descending order across both kinds.
	ordered := make([]string, 0, len(want))
	for _, ev := range events {
		if _, ok := want[ev.ID]; ok {
			ordered = append(ordered, ev.ID)
		}
	}
	return ordered
}

// selectItems runs the greedy knapsack: mandatory items by recency first,
// then the remainder by descending utility density. Zero-cost items always
// fit.
func selectItems(items []Item, mandatory []string, budget int) ([]Item, int) {
	byID := make(map[string]int, len(items))
	for i, item := range items {
		byID[item.ID] = i
	}

	used := 0
	picked := make([]Item, 0, len(items))
	chosen := make(map[string]struct{}, len(items))

	admit := func(item Item) {
		if _, ok := chosen[item.ID]; ok {
			return
		}
		if item.TokenCost > 0 && used+item.TokenCost > budget {
			return
		}
		used += item.TokenCost
		picked = append(picked, item)
		chosen[item.ID] = struct{}{}
	}

	for _, id := range mandatory {
		if i, ok := byID[id]; ok {
			admit(items[i])
		}
	}

	rest := make([]Item, 0, len(items))
	for _, item := range items {
		if _, ok := chosen[item.ID]; !ok {
			rest = append(rest, item)
		}
	}
	sort.SliceStable(rest, func(i, j int) bool {
		return density(rest[i]) > density(rest[j])
	})
	for _, item := range rest {
		admit(item)
	}
	return picked, used
}

func density(item Item) float64 {
	return item.Score / float64(item.TokenCost+1)
}

func nowCard(tasks []store.Task, events []store.Event) NowCard {
	card := NowCard{
		Objective: "No active task",
		Active:    []string{},
		Decisions: []string{},
		Failing:   []string{},
	}
	if len(tasks) > 0 {
		card.Objective = tasks[0].Title
	}
	for _, task := range tasks {
		card.Active = append(card.Active, task.ID)
	}
	for _, ev := range events {
		switch ev.Kind {
		case store.EventDecision:
			if len(card.Decisions) < nowCardListLimit {
				card.Decisions = append(card.Decisions, ev.ID)
			}
		case store.EventTestFail:
			if len(card.Failing) < nowCardListLimit {
				card.Failing = append(card.Failing, ev.ID)
			}
		}
	}
	return card
}

func renderBundle(card NowCard, picked []Item) string {
	var b strings.Builder
	b.WriteString("NOW:\n")
	b.WriteString("- Objective: " + card.Objective + "\n")
	b.WriteString("- Active: " + joinOrDash(card.Active) + "\n")
	b.WriteString("- Decisions: " + joinOrDash(card.Decisions) + "\n")
	b.WriteString("- Failing tests: " + joinOrDash(card.Failing) + "\n")
	b.WriteString("\nPOINTERS:\n")
	for _, item := range picked {
		b.WriteString("• " + item.Type + " " + item.ID + "\n")
	}
	return b.String()
}

func joinOrDash(ids []string) string {
	if len(ids) == 0 {
		return "—"
	}
	return strings.Join(ids, ", ")
}
