package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/basket/rwm/internal/artifacts"
	"github.com/basket/rwm/internal/ident"
	"github.com/basket/rwm/internal/shared"
	"github.com/basket/rwm/internal/store"
)

// DecisionInput is one event in a state frame. A nil Evidence slice means
// "inherit every artifact ID this commit produced"; an explicit (even empty)
// slice is kept verbatim.
type DecisionInput struct {
	ID       string
	Type     store.EventKind
	Summary  string
	TaskID   *string
	Evidence []string
}

// FactInput is one durable key/value in a state frame.
type FactInput struct {
	Key   string
	Value string
	Scope store.FactScope
}

// CommitInput is a full state frame: one logical step of the session.
// SessionID must already be canonical.
type CommitInput struct {
	SessionID string
	Task      string
	Decisions []DecisionInput
	Artifacts []artifacts.Descriptor
	Facts     []FactInput
}

// Commit applies a state frame: upsert the task, prepare and store all
// artifacts, insert decision events linked to the current task, upsert
// facts, then prune orphaned bodies. All rows written share ts. Returns the
// artifact IDs in input order and the number of bodies pruned.
//
// The artifact ID list is fully built before any event is inserted, so a
// decision without explicit evidence inherits every artifact of the commit,
// not just the ones preceding it.
func (e *Engine) Commit(ctx context.Context, in CommitInput, ts time.Time) (artifactIDs []string, pruned int, err error) {
	var currentTask *string
	if in.Task != "" {
		taskID := ident.TaskID(in.Task)
		task := store.Task{
			ID:        taskID,
			SessionID: in.SessionID,
			Title:     in.Task,
			Status:    store.TaskStatusDoing,
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		if err := e.store.UpsertTask(ctx, task); err != nil {
			return nil, 0, err
		}
		currentTask = &taskID
	}

	artifactIDs = make([]string, 0, len(in.Artifacts))
	for _, desc := range in.Artifacts {
		id, rec, err := e.pool.Prepare(desc, ts)
		if err != nil {
			return nil, 0, err
		}
		if err := e.store.UpsertArtifact(ctx, rec); err != nil {
			return nil, 0, err
		}
		artifactIDs = append(artifactIDs, id)
	}

	for _, d := range in.Decisions {
		id := d.ID
		if id == "" {
			id = ident.NewID("D")
		}
		taskID := d.TaskID
		if taskID == nil {
			taskID = currentTask
		}
		evidence := d.Evidence
		if evidence == nil {
			evidence = artifactIDs
		}
		evidenceJSON, err := json.Marshal(evidence)
		if err != nil {
			return nil, 0, fmt.Errorf("encode evidence: %w", err)
		}
		event := store.Event{
			ID:          id,
			Kind:        d.Type,
			TaskID:      taskID,
			SessionID:   in.SessionID,
			Summary:     d.Summary,
			EvidenceIDs: string(evidenceJSON),
			TS:          ts,
		}
		if err := e.store.InsertEvent(ctx, event); err != nil {
			return nil, 0, err
		}
	}

	for _, f := range in.Facts {
		fact := store.Fact{
			ID:    ident.FactID(f.Key, string(f.Scope)),
			Key:   f.Key,
			Value: f.Value,
			Scope: f.Scope,
		}
		if err := e.store.UpsertFact(ctx, fact); err != nil {
			return nil, 0, err
		}
	}

	return artifactIDs, e.pruneOrphans(ctx), nil
}

// pruneOrphans removes unreferenced pool bodies and reports how many went.
// Best-effort: a failed hash listing just skips the prune until the next
// commit.
func (e *Engine) pruneOrphans(ctx context.Context) int {
	hashes, err := e.store.ListArtifactHashes(ctx)
	if err != nil {
		slog.Warn("prune skipped", "session_id", shared.SessionID(ctx), "error", err)
		return 0
	}
	removed := e.pool.PruneOrphans(hashes)
	if removed > 0 {
		slog.Debug("pruned orphan bodies", "session_id", shared.SessionID(ctx), "removed", removed)
	}
	return removed
}
