package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/basket/rwm/internal/artifacts"
	"github.com/basket/rwm/internal/audit"
	"github.com/basket/rwm/internal/engine"
	"github.com/basket/rwm/internal/ident"
	"github.com/basket/rwm/internal/session"
	"github.com/basket/rwm/internal/shared"
	"github.com/basket/rwm/internal/store"
)

const defaultSearchLimit = 20

// resolveSession canonicalizes the raw session and, when the caller gave no
// usable suffix, folds previously persisted aliases of the same base into
// the canonical ID. The canonical ID is stamped into the returned context
// for downstream logging.
func (s *Server) resolveSession(ctx context.Context, raw string) (context.Context, string) {
	canonical := s.resolver.Normalize(raw, s.root)

	suffix := ""
	if i := strings.Index(raw, "@"); i >= 0 {
		suffix = raw[i+1:]
	}
	if suffix == "" || suffix == "unknown" {
		base := session.Base(canonical)
		if err := s.store.CanonicalizeSessions(ctx, base, canonical); err != nil {
			s.logger.Warn("session alias folding failed", "base", base, "error", err)
		}
	}
	return shared.WithSessionID(ctx, canonical), canonical
}

func (s *Server) handleResume(ctx context.Context, params json.RawMessage) (*Result, *Error) {
	var in struct {
		SessionID   string `json:"session_id"`
		TokenBudget int    `json:"token_budget"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, validationError(err.Error())
	}

	ctx, canonical := s.resolveSession(ctx, in.SessionID)
	budget := in.TokenBudget
	if budget <= 0 {
		budget = s.BundleTokens()
	}

	now := time.Now().UTC()
	bundle, err := s.engine.Compose(ctx, canonical, budget, now)
	if err != nil {
		return nil, classify(err)
	}

	// Diagnostics only; a failed metric write never fails the resume.
	for _, m := range bundle.Metrics {
		err := s.store.InsertTokenMetric(ctx, store.TokenMetric{
			ID:        ident.NewID("M"),
			SessionID: canonical,
			PointerID: m.PointerID,
			TokenCost: m.TokenCost,
			Budget:    budget,
			CreatedAt: now,
		})
		if err != nil {
			s.logger.Warn("token metric write failed", "pointer_id", m.PointerID, "error", err)
			break
		}
	}
	s.metrics.BundleTokens.Record(ctx, int64(bundle.TokenEstimate))

	return &Result{
		Text: bundle.Text,
		Structured: map[string]any{
			"now":            bundle.Now,
			"pointers":       bundle.Pointers,
			"token_estimate": bundle.TokenEstimate,
			"budget":         bundle.Budget,
			"session_id":     canonical,
		},
	}, nil
}

type commitDecision struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Summary  string   `json:"summary"`
	TaskID   *string  `json:"task_id"`
	Evidence []string `json:"evidence"`
}

type commitArtifact struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	URI       string         `json:"uri"`
	Text      *string        `json:"text"`
	Path      string         `json:"path"`
	StartLine int            `json:"startLine"`
	EndLine   int            `json:"endLine"`
	Meta      map[string]any `json:"meta"`
}

type commitFact struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Scope string `json:"scope"`
}

func (s *Server) handleCommit(ctx context.Context, params json.RawMessage, traceID string) (*Result, *Error) {
	var in struct {
		SessionID string           `json:"session_id"`
		Task      string           `json:"task"`
		Decisions []commitDecision `json:"decisions"`
		Artifacts []commitArtifact `json:"artifacts"`
		Facts     []commitFact     `json:"facts"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, validationError(err.Error())
	}

	ctx, canonical := s.resolveSession(ctx, in.SessionID)
	input := engine.CommitInput{
		SessionID: canonical,
		Task:      in.Task,
	}
	for _, d := range in.Decisions {
		input.Decisions = append(input.Decisions, engine.DecisionInput{
			ID:       d.ID,
			Type:     store.EventKind(d.Type),
			Summary:  d.Summary,
			TaskID:   d.TaskID,
			Evidence: d.Evidence,
		})
	}
	for _, a := range in.Artifacts {
		input.Artifacts = append(input.Artifacts, artifacts.Descriptor{
			ID:        a.ID,
			Kind:      store.ArtifactKind(a.Kind),
			URI:       a.URI,
			Text:      a.Text,
			Path:      a.Path,
			StartLine: a.StartLine,
			EndLine:   a.EndLine,
			Meta:      a.Meta,
		})
	}
	for _, f := range in.Facts {
		input.Facts = append(input.Facts, engine.FactInput{
			Key:   f.Key,
			Value: f.Value,
			Scope: store.FactScope(f.Scope),
		})
	}

	ts := time.Now().UTC()
	artifactIDs, pruned, err := s.engine.Commit(ctx, input, ts)
	if err != nil {
		return nil, classify(err)
	}

	s.metrics.CommitsTotal.Add(ctx, 1)
	s.metrics.EventsTotal.Add(ctx, int64(len(in.Decisions)))
	s.metrics.ArtifactsTotal.Add(ctx, int64(len(artifactIDs)))
	if pruned > 0 {
		s.metrics.PruneRemovals.Add(ctx, int64(pruned))
	}
	audit.Record("memory_commit", canonical, traceID,
		fmt.Sprintf("task=%q decisions=%d artifacts=%d facts=%d", in.Task, len(in.Decisions), len(artifactIDs), len(in.Facts)))

	if artifactIDs == nil {
		artifactIDs = []string{}
	}
	return &Result{
		Text: fmt.Sprintf("committed: %d events, %d artifacts, %d facts", len(in.Decisions), len(artifactIDs), len(in.Facts)),
		Structured: map[string]any{
			"ok":          true,
			"ts":          ts.Format(time.RFC3339Nano),
			"artifactIds": artifactIDs,
			"session_id":  canonical,
		},
	}, nil
}

func (s *Server) handleUpdate(ctx context.Context, params json.RawMessage, traceID string) (*Result, *Error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(params, &fields); err != nil {
		return nil, validationError(err.Error())
	}

	var target, id string
	if err := json.Unmarshal(fields["target"], &target); err != nil {
		return nil, validationError("decode target: " + err.Error())
	}
	if err := json.Unmarshal(fields["id"], &id); err != nil {
		return nil, validationError("decode id: " + err.Error())
	}
	delete(fields, "target")
	delete(fields, "id")

	record, err := s.engine.Update(ctx, target, id, fields, time.Now().UTC())
	if err != nil {
		return nil, classify(err)
	}

	audit.Record("memory_update", "", traceID, fmt.Sprintf("%s %s", target, id))
	return &Result{
		Text:       fmt.Sprintf("updated %s %s", target, id),
		Structured: record,
	}, nil
}

func (s *Server) handleFetch(ctx context.Context, params json.RawMessage) (*Result, *Error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, validationError(err.Error())
	}

	if task, err := s.store.GetTask(ctx, in.ID); err == nil {
		return &Result{Text: fmt.Sprintf("task %s", in.ID), Structured: task}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, classify(err)
	}
	if ev, err := s.store.GetEvent(ctx, in.ID); err == nil {
		return &Result{Text: fmt.Sprintf("event %s", in.ID), Structured: ev}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, classify(err)
	}
	if rec, err := s.store.GetArtifact(ctx, in.ID); err == nil {
		return &Result{
			Text: fmt.Sprintf("artifact %s", in.ID),
			Structured: map[string]any{
				"record":        rec,
				"resource_link": store.BodyURIPrefix + rec.SHA256,
			},
		}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, classify(err)
	}
	if fact, err := s.store.GetFact(ctx, in.ID); err == nil {
		return &Result{Text: fmt.Sprintf("fact %s", in.ID), Structured: fact}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, classify(err)
	}
	if cp, err := s.store.GetCheckpoint(ctx, in.ID); err == nil {
		return &Result{Text: fmt.Sprintf("checkpoint %s", in.ID), Structured: cp}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, classify(err)
	}

	return nil, &Error{Kind: KindNotFound, Message: fmt.Sprintf("no record with id %q", in.ID)}
}

func (s *Server) handleSpan(ctx context.Context, params json.RawMessage) (*Result, *Error) {
	var in struct {
		Path      string `json:"path"`
		StartLine int    `json:"startLine"`
		EndLine   int    `json:"endLine"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, validationError(err.Error())
	}

	text, err := s.ws.ReadSpan(in.Path, in.StartLine, in.EndLine)
	if err != nil {
		return nil, classify(err)
	}
	return &Result{
		Text: text,
		Structured: map[string]any{
			"path":      in.Path,
			"startLine": in.StartLine,
			"endLine":   in.EndLine,
		},
	}, nil
}

func (s *Server) handleSearch(ctx context.Context, params json.RawMessage) (*Result, *Error) {
	var in struct {
		SessionID string `json:"session_id"`
		Query     string `json:"query"`
		Limit     int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, validationError(err.Error())
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	ctx, canonical := s.resolveSession(ctx, in.SessionID)

	result, err := s.store.Search(ctx, canonical, in.Query, limit)
	if err != nil {
		return nil, classify(err)
	}
	return &Result{
		Text: fmt.Sprintf("%d events, %d tasks, %d facts match %q",
			len(result.Events), len(result.Tasks), len(result.Facts), in.Query),
		Structured: result,
	}, nil
}

func (s *Server) handleCheckpoint(ctx context.Context, params json.RawMessage, traceID string) (*Result, *Error) {
	var in struct {
		SessionID string `json:"session_id"`
		Label     string `json:"label"`
	}
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, validationError(err.Error())
	}

	ctx, canonical := s.resolveSession(ctx, in.SessionID)
	cp, err := s.engine.Checkpoint(ctx, canonical, in.Label, time.Now().UTC())
	if err != nil {
		return nil, classify(err)
	}

	audit.Record("memory_checkpoint", canonical, traceID, in.Label)
	return &Result{
		Text: fmt.Sprintf("checkpoint %s (%s)", cp.ID, cp.Label),
		Structured: map[string]any{
			"id":         cp.ID,
			"session_id": cp.SessionID,
			"label":      cp.Label,
		},
	}, nil
}
