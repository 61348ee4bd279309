// Package ident provides hashing and identifier helpers shared by the
// store, the artifact pool, and the commit pipeline. Record IDs are either
// deterministic (facts, tasks) so repeated commits collapse onto one row,
// or short random IDs where uniqueness only matters within a session.
package ident

import (
	"crypto/sha256"
	"encoding/hex"
	"math/rand/v2"
	"regexp"
	"strings"
)

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256HexString is SHA256Hex over the UTF-8 bytes of s.
func SHA256HexString(s string) string {
	return SHA256Hex([]byte(s))
}

// NewID returns "<prefix>-<6 base36 chars>". Collisions inside a short
// window are resolved by primary-key upserts, so the source does not need
// to be cryptographically unpredictable.
func NewID(prefix string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte('-')
	for i := 0; i < 6; i++ {
		b.WriteByte(base36[rand.IntN(len(base36))])
	}
	return b.String()
}

// FactID derives the deterministic fact row ID for (key, scope). Scope
// defaults to "repo" so commits that omit it still dedup correctly.
func FactID(key, scope string) string {
	if scope == "" {
		scope = "repo"
	}
	return "F-" + SHA256HexString(key+"::"+scope)[:16]
}

// TaskID derives a task row ID from its title: "T-" + slug truncated to
// 12 characters. Re-committing the same title addresses the same row.
func TaskID(title string) string {
	return "T-" + Slug(title, 12)
}

// Slug lowercases s, collapses runs of non-alphanumerics to "-", and
// truncates to maxLen.
func Slug(s string, maxLen int) string {
	out := slugRe.ReplaceAllString(strings.ToLower(s), "-")
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}
