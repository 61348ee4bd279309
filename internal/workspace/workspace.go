// Package workspace confines file reads to a project root. Every code path
// that touches the working tree (artifact span capture, workspace:// resource
// reads, memory_span) resolves paths through the traversal guard here.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const maxReadBytes = 4 * 1024 * 1024 // 4 MB

// ErrPathEscape is returned when a path resolves outside the workspace root.
var ErrPathEscape = errors.New("path escapes workspace root")

// Workspace is a read-only view of a project directory rooted at rootDir.
type Workspace struct {
	rootDir string
}

// New creates a Workspace rooted at rootDir. The root must exist; symlinks in
// the root itself are resolved up front so the guard compares real paths.
func New(rootDir string) (*Workspace, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace: eval symlinks on root: %w", err)
	}
	return &Workspace{rootDir: resolved}, nil
}

// Root returns the resolved workspace root.
func (w *Workspace) Root() string {
	return w.rootDir
}

// Resolve validates that rel stays within the workspace root and returns the
// absolute path. The resolved path must equal the root or be strictly
// prefixed by root plus a separator; anything else is ErrPathEscape.
func (w *Workspace) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("workspace: empty path: %w", ErrPathEscape)
	}

	cleaned := filepath.Clean(rel)
	var full string
	if filepath.IsAbs(cleaned) {
		full = cleaned
	} else {
		full = filepath.Join(w.rootDir, cleaned)
	}

	abs, err := filepath.Abs(full)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// New files and dirs don't exist yet; resolve symlinks on the
		// deepest existing ancestor and re-append the remainder.
		resolved, err = evalSymlinksPartial(abs)
		if err != nil {
			return "", fmt.Errorf("workspace: resolve symlinks: %w", err)
		}
	}

	if resolved != w.rootDir && !strings.HasPrefix(resolved, w.rootDir+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace: %q: %w", rel, ErrPathEscape)
	}
	return resolved, nil
}

// evalSymlinksPartial walks up from abs until it finds an existing ancestor,
// resolves symlinks on that ancestor, then re-appends the missing segments.
func evalSymlinksPartial(abs string) (string, error) {
	current := abs
	var trailing []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(trailing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, trailing[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("no existing ancestor for %s", abs)
		}
		trailing = append(trailing, filepath.Base(current))
		current = parent
	}
}

// Read returns the full contents of a file inside the workspace.
func (w *Workspace) Read(rel string) ([]byte, error) {
	resolved, err := w.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("workspace: stat: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("workspace: path is a directory")
	}
	if info.Size() > maxReadBytes {
		return nil, fmt.Errorf("workspace: file too large: %d bytes (max %d)", info.Size(), maxReadBytes)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("workspace: read: %w", err)
	}
	return data, nil
}

// ReadSpan returns lines [startLine..endLine] of a file, 1-indexed inclusive.
// Zero values select the full file; out-of-range bounds are clamped to the
// file length, and start is clamped to end.
func (w *Workspace) ReadSpan(rel string, startLine, endLine int) (string, error) {
	data, err := w.Read(rel)
	if err != nil {
		return "", err
	}
	lines := strings.Split(string(data), "\n")

	start := startLine
	if start < 1 {
		start = 1
	}
	end := endLine
	if end < 1 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		start = end
	}
	return strings.Join(lines[start-1:end], "\n"), nil
}
