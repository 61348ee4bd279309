package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ArtifactKind classifies an artifact body or pointer.
type ArtifactKind string

const (
	ArtifactDiff      ArtifactKind = "DIFF"
	ArtifactSnippet   ArtifactKind = "SNIPPET"
	ArtifactConfig    ArtifactKind = "CONFIG"
	ArtifactFixture   ArtifactKind = "FIXTURE"
	ArtifactTestTrace ArtifactKind = "TEST_TRACE"
	ArtifactLog       ArtifactKind = "LOG"
	ArtifactOther     ArtifactKind = "OTHER"
)

// ValidArtifactKind reports whether k is one of the recognized kinds.
func ValidArtifactKind(k string) bool {
	switch ArtifactKind(k) {
	case ArtifactDiff, ArtifactSnippet, ArtifactConfig, ArtifactFixture, ArtifactTestTrace, ArtifactLog, ArtifactOther:
		return true
	}
	return false
}

// BodyURIPrefix is the scheme prefix of content-addressed (bodied) artifacts.
const BodyURIPrefix = "artifact://sha256/"

// Artifact is either a bodied record (uri = artifact://sha256/<hex>, body in
// the pool) or a pointer record (external uri, sha256 of the uri string,
// size 0, no body file).
type Artifact struct {
	ID        string       `json:"id"`
	Kind      ArtifactKind `json:"kind"`
	URI       string       `json:"uri"`
	SHA256    string       `json:"sha256"`
	Size      int64        `json:"size"`
	MetaJSON  string       `json:"meta_json"`
	CreatedAt time.Time    `json:"created_at"`
}

// IsPointer reports whether the artifact references an external URI rather
// than a stored body.
func (a Artifact) IsPointer() bool {
	return !strings.HasPrefix(a.URI, BodyURIPrefix)
}

// UpsertArtifact inserts or overwrites all mutable columns of an artifact.
func (s *Store) UpsertArtifact(ctx context.Context, a Artifact) error {
	meta := a.MetaJSON
	if meta == "" {
		meta = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, kind, uri, sha256, size, meta_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind      = excluded.kind,
			uri       = excluded.uri,
			sha256    = excluded.sha256,
			size      = excluded.size,
			meta_json = excluded.meta_json
	`, a.ID, string(a.Kind), a.URI, a.SHA256, a.Size, meta, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert artifact %s: %w", a.ID, err)
	}
	return nil
}

func scanArtifact(row interface{ Scan(...any) error }) (Artifact, error) {
	var a Artifact
	var kind, created string
	if err := row.Scan(&a.ID, &kind, &a.URI, &a.SHA256, &a.Size, &a.MetaJSON, &created); err != nil {
		return Artifact{}, err
	}
	a.Kind = ArtifactKind(kind)
	a.CreatedAt = parseTime(created)
	return a, nil
}

const artifactColumns = `id, kind, uri, sha256, size, meta_json, created_at`

// GetArtifact returns one artifact or ErrNotFound.
func (s *Store) GetArtifact(ctx context.Context, id string) (Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id)
	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Artifact{}, fmt.Errorf("artifact %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("get artifact %s: %w", id, err)
	}
	return a, nil
}

// ListArtifactHashes returns the distinct sha256 values referenced by any
// artifact row. The pool prune subtracts this set from its directory listing.
func (s *Store) ListArtifactHashes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT sha256 FROM artifacts`)
	if err != nil {
		return nil, fmt.Errorf("list artifact hashes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
