package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/basket/rwm/internal/ident"
	"github.com/basket/rwm/internal/store"
)

// Update targets.
const (
	TargetTask     = "task"
	TargetArtifact = "artifact"
	TargetFact     = "fact"
)

// Update patches a single record by ID. patch maps field names to raw JSON
// values so a field set to null can be told apart from one left out.
// Returns the updated record, ErrInvalidUpdate when the patch carries no
// mutable fields, or store.ErrNotFound.
func (e *Engine) Update(ctx context.Context, target, id string, patch map[string]json.RawMessage, ts time.Time) (any, error) {
	switch target {
	case TargetTask:
		return e.updateTask(ctx, id, patch, ts)
	case TargetArtifact:
		return e.updateArtifact(ctx, id, patch)
	case TargetFact:
		return e.updateFact(ctx, id, patch)
	default:
		return nil, fmt.Errorf("unknown update target %q", target)
	}
}

func (e *Engine) updateTask(ctx context.Context, id string, patch map[string]json.RawMessage, ts time.Time) (any, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	if raw, ok := patch["title"]; ok {
		if err := json.Unmarshal(raw, &task.Title); err != nil {
			return nil, fmt.Errorf("decode title: %w", err)
		}
		changed = true
	}
	if raw, ok := patch["status"]; ok {
		var status string
		if err := json.Unmarshal(raw, &status); err != nil {
			return nil, fmt.Errorf("decode status: %w", err)
		}
		if !store.ValidTaskStatus(status) {
			return nil, fmt.Errorf("status %q: %w", status, ErrInvalidValue)
		}
		task.Status = store.TaskStatus(status)
		changed = true
	}
	if raw, ok := patch["parent_id"]; ok {
		if err := unmarshalNullable(raw, &task.ParentID); err != nil {
			return nil, fmt.Errorf("decode parent_id: %w", err)
		}
		changed = true
	}
	// Present-and-null clears the criteria; an absent key leaves it alone.
	if raw, ok := patch["accept_criteria"]; ok {
		if err := unmarshalNullable(raw, &task.AcceptCriteria); err != nil {
			return nil, fmt.Errorf("decode accept_criteria: %w", err)
		}
		changed = true
	}
	if !changed {
		return nil, ErrInvalidUpdate
	}

	task.UpdatedAt = ts
	if err := e.store.UpsertTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (e *Engine) updateArtifact(ctx context.Context, id string, patch map[string]json.RawMessage) (any, error) {
	rec, err := e.store.GetArtifact(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	if raw, ok := patch["kind"]; ok {
		var kind string
		if err := json.Unmarshal(raw, &kind); err != nil {
			return nil, fmt.Errorf("decode kind: %w", err)
		}
		if !store.ValidArtifactKind(kind) {
			return nil, fmt.Errorf("kind %q: %w", kind, ErrInvalidValue)
		}
		rec.Kind = store.ArtifactKind(kind)
		changed = true
	}
	if raw, ok := patch["uri"]; ok {
		if err := json.Unmarshal(raw, &rec.URI); err != nil {
			return nil, fmt.Errorf("decode uri: %w", err)
		}
		// The row must keep addressing its URI: a body address carries its
		// own hash, any other URI is a pointer row hashed over the URI text.
		if strings.HasPrefix(rec.URI, store.BodyURIPrefix) {
			rec.SHA256 = strings.TrimPrefix(rec.URI, store.BodyURIPrefix)
		} else {
			rec.SHA256 = ident.SHA256HexString(rec.URI)
			rec.Size = 0
		}
		changed = true
	}
	if raw, ok := patch["meta"]; ok {
		var meta map[string]any
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode meta: %w", err)
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return nil, fmt.Errorf("encode meta: %w", err)
		}
		rec.MetaJSON = string(metaJSON)
		changed = true
	}
	if raw, ok := patch["text"]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil, fmt.Errorf("decode text: %w", err)
		}
		// New body, new address. The old body becomes an orphan and goes on
		// the next prune.
		updated, err := e.pool.Rewrite(rec, text)
		if err != nil {
			return nil, err
		}
		rec = updated
		changed = true
	}
	if !changed {
		return nil, ErrInvalidUpdate
	}

	if err := e.store.UpsertArtifact(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) updateFact(ctx context.Context, id string, patch map[string]json.RawMessage) (any, error) {
	fact, err := e.store.GetFact(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	if raw, ok := patch["value"]; ok {
		if err := json.Unmarshal(raw, &fact.Value); err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
		changed = true
	}
	if raw, ok := patch["scope"]; ok {
		var scope string
		if err := json.Unmarshal(raw, &scope); err != nil {
			return nil, fmt.Errorf("decode scope: %w", err)
		}
		if !store.ValidFactScope(scope) {
			return nil, fmt.Errorf("scope %q: %w", scope, ErrInvalidValue)
		}
		fact.Scope = store.FactScope(scope)
		changed = true
	}
	if !changed {
		return nil, ErrInvalidUpdate
	}

	if err := e.store.UpsertFact(ctx, fact); err != nil {
		return nil, err
	}
	return fact, nil
}

// unmarshalNullable sets *dst from raw, mapping a JSON null to nil.
func unmarshalNullable(raw json.RawMessage, dst **string) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		*dst = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	*dst = &s
	return nil
}
