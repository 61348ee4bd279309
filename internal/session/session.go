// Package session derives canonical session identifiers of the form
// "<base>@<suffix>". The same project and branch must always resolve to the
// same session across agent invocations, and different branches must never
// collide, so the suffix comes from git when the caller doesn't supply one.
package session

import (
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Sanitize replaces runs of characters outside [A-Za-z0-9._-] with "-".
// An empty result becomes "proj".
func Sanitize(s string) string {
	out := sanitizeRe.ReplaceAllString(s, "-")
	if out == "" {
		return "proj"
	}
	return out
}

// Resolver normalizes session IDs, memoizing the git branch per workspace
// root. Branch lookups shell out to git once; a nil cache entry records a
// root with no usable branch.
type Resolver struct {
	mu       sync.Mutex
	branches map[string]*string
	now      func() time.Time
}

// NewResolver returns a Resolver with an empty branch cache.
func NewResolver() *Resolver {
	return &Resolver{
		branches: make(map[string]*string),
		now:      time.Now,
	}
}

// Reset clears the branch cache. Tests use this between repositories.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.branches = make(map[string]*string)
}

// Normalize resolves a raw session string against a workspace root:
// the base falls back to the root's directory name, and the suffix falls
// back to the current git branch, then to today's date.
func (r *Resolver) Normalize(raw, root string) string {
	base, suffix := splitSession(raw, root)

	if suffix == "" || suffix == "unknown" {
		if branch := r.branch(root); branch != nil {
			suffix = *branch
		} else {
			suffix = ""
		}
	}
	if suffix == "" {
		suffix = r.now().UTC().Format("20060102")
	}
	return base + "@" + suffix
}

// Base returns the project part of a session ID, the text before "@".
// The store's alias folding matches provisional sessions by base.
func Base(id string) string {
	if i := strings.Index(id, "@"); i >= 0 {
		return id[:i]
	}
	return id
}

func splitSession(raw, root string) (base, suffix string) {
	rawBase := raw
	rawSuffix := ""
	if i := strings.Index(raw, "@"); i >= 0 {
		rawBase = raw[:i]
		rawSuffix = raw[i+1:]
	}

	if rawBase == "" {
		rawBase = filepath.Base(root)
	}
	if rawBase == "" || rawBase == "." || rawBase == string(filepath.Separator) {
		rawBase = "workspace"
	}
	base = Sanitize(rawBase)

	if rawSuffix != "" {
		suffix = Sanitize(rawSuffix)
	}
	return base, suffix
}

// branch returns the sanitized current branch for root, "detached-<short>"
// on a detached HEAD, or nil when root is not a usable git checkout.
func (r *Resolver) branch(root string) *string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.branches[root]; ok {
		return cached
	}

	result := lookupBranch(root)
	r.branches[root] = result
	return result
}

func lookupBranch(root string) *string {
	out, err := exec.Command("git", "-C", root, "rev-parse", "--abbrev-ref", "HEAD").Output()
	if err != nil {
		return nil
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return nil
	}
	if name == "HEAD" {
		// Detached HEAD; identify by short hash.
		short, err := exec.Command("git", "-C", root, "rev-parse", "--short", "HEAD").Output()
		if err != nil {
			return nil
		}
		hash := strings.TrimSpace(string(short))
		if hash == "" {
			return nil
		}
		v := Sanitize("detached-" + hash)
		return &v
	}
	v := Sanitize(name)
	return &v
}
