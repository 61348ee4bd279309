package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/basket/rwm/internal/ident"
	"github.com/basket/rwm/internal/store"
)

const checkpointListLimit = 5

// CheckpointMeta is the trimmed session snapshot stored with a checkpoint.
type CheckpointMeta struct {
	Objective    string          `json:"objective"`
	ActiveTasks  []TaskSnapshot  `json:"active_tasks"`
	RecentEvents []EventSnapshot `json:"recent_events"`
	Facts        []FactSnapshot  `json:"facts"`
}

// TaskSnapshot is the minimal task view inside checkpoint metadata.
type TaskSnapshot struct {
	ID     string           `json:"id"`
	Title  string           `json:"title"`
	Status store.TaskStatus `json:"status"`
}

// EventSnapshot is the minimal event view inside checkpoint metadata.
type EventSnapshot struct {
	ID      string          `json:"id"`
	Kind    store.EventKind `json:"kind"`
	Summary string          `json:"summary"`
}

// FactSnapshot is the minimal fact view inside checkpoint metadata.
type FactSnapshot struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// BuildCheckpointMeta snapshots the session: objective, up to five active
// tasks, five recent events, and five facts.
func (e *Engine) BuildCheckpointMeta(ctx context.Context, sessionID string) (CheckpointMeta, error) {
	tasks, err := e.store.ListActiveTasks(ctx, sessionID, checkpointListLimit)
	if err != nil {
		return CheckpointMeta{}, err
	}
	events, err := e.store.ListRecentEvents(ctx, sessionID, checkpointListLimit)
	if err != nil {
		return CheckpointMeta{}, err
	}
	facts, err := e.store.ListFacts(ctx)
	if err != nil {
		return CheckpointMeta{}, err
	}

	meta := CheckpointMeta{
		Objective:    "No active task",
		ActiveTasks:  []TaskSnapshot{},
		RecentEvents: []EventSnapshot{},
		Facts:        []FactSnapshot{},
	}
	if len(tasks) > 0 {
		meta.Objective = tasks[0].Title
	}
	for _, task := range tasks {
		meta.ActiveTasks = append(meta.ActiveTasks, TaskSnapshot{ID: task.ID, Title: task.Title, Status: task.Status})
	}
	for _, ev := range events {
		meta.RecentEvents = append(meta.RecentEvents, EventSnapshot{ID: ev.ID, Kind: ev.Kind, Summary: ev.Summary})
	}
	for _, fact := range facts {
		if len(meta.Facts) >= checkpointListLimit {
			break
		}
		meta.Facts = append(meta.Facts, FactSnapshot{ID: fact.ID, Key: fact.Key, Value: fact.Value})
	}
	return meta, nil
}

// Checkpoint snapshots the session into a new checkpoint row and returns it.
func (e *Engine) Checkpoint(ctx context.Context, sessionID, label string, ts time.Time) (store.Checkpoint, error) {
	meta, err := e.BuildCheckpointMeta(ctx, sessionID)
	if err != nil {
		return store.Checkpoint{}, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return store.Checkpoint{}, fmt.Errorf("encode checkpoint meta: %w", err)
	}

	cp := store.Checkpoint{
		ID:         ident.NewID("C"),
		SessionID:  sessionID,
		Label:      label,
		TS:         ts,
		BundleMeta: string(metaJSON),
	}
	if err := e.store.InsertCheckpoint(ctx, cp); err != nil {
		return store.Checkpoint{}, err
	}
	return cp, nil
}
