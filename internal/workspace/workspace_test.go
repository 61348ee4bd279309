package workspace_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/rwm/internal/workspace"
)

func newWorkspace(t *testing.T) (*workspace.Workspace, string) {
	t.Helper()
	dir := t.TempDir()
	ws, err := workspace.New(dir)
	if err != nil {
		t.Fatalf("new workspace: %v", err)
	}
	return ws, ws.Root()
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestResolveBlocksTraversal(t *testing.T) {
	ws, _ := newWorkspace(t)

	for _, rel := range []string{"../outside.txt", "../../etc/passwd", "a/../../x"} {
		if _, err := ws.Resolve(rel); !errors.Is(err, workspace.ErrPathEscape) {
			t.Errorf("Resolve(%q): expected ErrPathEscape, got %v", rel, err)
		}
	}
}

func TestResolveBlocksSymlinkEscape(t *testing.T) {
	ws, root := newWorkspace(t)
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	if _, err := ws.Resolve("link/escape.txt"); !errors.Is(err, workspace.ErrPathEscape) {
		t.Fatalf("expected ErrPathEscape through symlink, got %v", err)
	}
}

func TestResolveAllowsInside(t *testing.T) {
	ws, root := newWorkspace(t)
	writeFile(t, root, "sub/file.txt", "hello")

	got, err := ws.Resolve("sub/file.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != filepath.Join(root, "sub", "file.txt") {
		t.Fatalf("unexpected path: %s", got)
	}
}

func TestReadSpan(t *testing.T) {
	ws, root := newWorkspace(t)
	writeFile(t, root, "lines.txt", "one\ntwo\nthree\nfour")

	cases := []struct {
		name       string
		start, end int
		want       string
	}{
		{"full file", 0, 0, "one\ntwo\nthree\nfour"},
		{"middle", 2, 3, "two\nthree"},
		{"single", 3, 3, "three"},
		{"end clamped", 2, 99, "two\nthree\nfour"},
		{"start clamped", 0, 2, "one\ntwo"},
		{"start beyond end", 9, 2, "two"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ws.ReadSpan("lines.txt", tc.start, tc.end)
			if err != nil {
				t.Fatalf("read span: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReadSpanMissingFile(t *testing.T) {
	ws, _ := newWorkspace(t)
	if _, err := ws.ReadSpan("absent.txt", 1, 2); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
