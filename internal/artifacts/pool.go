// Package artifacts manages the content-addressed body pool. Bodied
// artifacts live as files named by the hex SHA-256 of their contents, which
// makes deduplication automatic; pointer artifacts keep only a URI in the
// store and never touch the pool. Orphaned bodies are pruned best-effort
// after each commit.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/rwm/internal/ident"
	"github.com/basket/rwm/internal/store"
	"github.com/basket/rwm/internal/workspace"
)

// Origin types stamped into artifact metadata.
const (
	OriginText         = "text"
	OriginWorkspace    = "workspace"
	OriginWorkspaceURI = "workspace-uri"
	OriginURI          = "uri"
	OriginEmpty        = "empty"
)

// WorkspaceURIPrefix marks URIs that point into the project working tree.
const WorkspaceURIPrefix = "workspace://"

// Descriptor is the caller-facing artifact input. Text uses a pointer so an
// explicitly empty string still counts as "text present".
type Descriptor struct {
	ID        string
	Kind      store.ArtifactKind
	URI       string
	Text      *string
	Path      string
	StartLine int
	EndLine   int
	Meta      map[string]any
}

// Pool is the body directory plus the workspace used for span capture.
type Pool struct {
	dir string
	ws  *workspace.Workspace
}

// DefaultDir returns the canonical pool location for a project root.
func DefaultDir(root string) string {
	return filepath.Join(root, "rwm_artifacts")
}

// NewPool creates the pool directory if needed.
func NewPool(dir string, ws *workspace.Workspace) (*Pool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifacts: create pool dir: %w", err)
	}
	return &Pool{dir: dir, ws: ws}, nil
}

// Dir returns the pool directory.
func (p *Pool) Dir() string {
	return p.dir
}

// Prepare resolves a descriptor into an artifact record, writing the body
// into the pool when one exists. Resolution order: inline text, workspace
// span, pointer URI, empty body. The returned ID defaults to
// "P-" + sha256[:8] when the descriptor carries none.
func (p *Pool) Prepare(d Descriptor, ts time.Time) (string, store.Artifact, error) {
	meta := cloneMeta(d.Meta)

	var body []byte
	var pointer bool
	var hash string

	switch {
	case d.Text != nil:
		body = []byte(*d.Text)
		stampOrigin(meta, OriginText, ts)

	case d.Path != "":
		span, err := p.ws.ReadSpan(d.Path, d.StartLine, d.EndLine)
		if err != nil {
			return "", store.Artifact{}, err
		}
		body = []byte(span)
		meta["path"] = d.Path
		meta["startLine"] = d.StartLine
		meta["endLine"] = d.EndLine
		stampOrigin(meta, OriginWorkspace, ts)

	case d.URI != "":
		pointer = true
		hash = ident.SHA256HexString(d.URI)
		if _, ok := meta["pointer"]; !ok {
			meta["pointer"] = true
		}
		originType := OriginURI
		if strings.HasPrefix(d.URI, WorkspaceURIPrefix) {
			originType = OriginWorkspaceURI
		}
		stampOrigin(meta, originType, ts)

	default:
		body = []byte{}
		stampOrigin(meta, OriginEmpty, ts)
	}

	rec := store.Artifact{
		Kind:      d.Kind,
		CreatedAt: ts,
	}

	if pointer {
		rec.URI = d.URI
		rec.SHA256 = hash
		rec.Size = 0
	} else {
		hash = ident.SHA256Hex(body)
		if err := p.writeBody(hash, body); err != nil {
			return "", store.Artifact{}, err
		}
		rec.URI = store.BodyURIPrefix + hash
		rec.SHA256 = hash
		rec.Size = int64(len(body))
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", store.Artifact{}, fmt.Errorf("artifacts: encode meta: %w", err)
	}
	rec.MetaJSON = string(metaJSON)

	id := d.ID
	if id == "" {
		id = "P-" + hash[:8]
	}
	rec.ID = id
	return id, rec, nil
}

// writeBody stores the body under its hash unless it already exists.
func (p *Pool) writeBody(hash string, body []byte) error {
	path := filepath.Join(p.dir, hash)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("artifacts: write body %s: %w", hash, err)
	}
	return nil
}

// Rewrite replaces a bodied artifact's content: the new body is written to
// the pool and the record is re-addressed. The old body becomes an orphan.
func (p *Pool) Rewrite(rec store.Artifact, text string) (store.Artifact, error) {
	body := []byte(text)
	hash := ident.SHA256Hex(body)
	if err := p.writeBody(hash, body); err != nil {
		return store.Artifact{}, err
	}
	rec.URI = store.BodyURIPrefix + hash
	rec.SHA256 = hash
	rec.Size = int64(len(body))
	return rec, nil
}

// ReadBody returns the raw bytes of a bodied artifact.
func (p *Pool) ReadBody(hash string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, hash))
	if err != nil {
		return nil, fmt.Errorf("artifacts: read body %s: %w", hash, err)
	}
	return data, nil
}

// BodyCount reports how many bodies the pool currently holds.
func (p *Pool) BodyCount() int {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			n++
		}
	}
	return n
}

// PruneOrphans unlinks pool files whose names are not in referenced.
// Individual delete failures are swallowed; the next prune retries them.
// Returns the number of files removed.
func (p *Pool) PruneOrphans(referenced []string) int {
	keep := make(map[string]struct{}, len(referenced))
	for _, h := range referenced {
		keep[h] = struct{}{}
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := keep[entry.Name()]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// stampOrigin records how the artifact entered the system. A caller-supplied
// origin is never overwritten.
func stampOrigin(meta map[string]any, originType string, ts time.Time) {
	if _, ok := meta["origin"]; ok {
		return
	}
	meta["origin"] = map[string]any{
		"type":       originType,
		"recordedAt": ts.UTC().Format(time.RFC3339Nano),
	}
}

func cloneMeta(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
