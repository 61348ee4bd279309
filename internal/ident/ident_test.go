package ident_test

import (
	"strings"
	"testing"

	"github.com/basket/rwm/internal/ident"
)

func TestSHA256Hex(t *testing.T) {
	got := ident.SHA256HexString("")
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("empty digest: got %s, want %s", got, want)
	}
	if ident.SHA256Hex([]byte("abc")) != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("abc digest mismatch")
	}
}

func TestNewIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := ident.NewID("D")
		if !strings.HasPrefix(id, "D-") {
			t.Fatalf("missing prefix: %s", id)
		}
		if len(id) != len("D-")+6 {
			t.Fatalf("unexpected length: %s", id)
		}
		for _, c := range id[2:] {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("non-base36 char in %s", id)
			}
		}
		seen[id] = true
	}
	if len(seen) < 90 {
		t.Fatalf("too many collisions: %d unique of 100", len(seen))
	}
}

func TestFactIDDeterministic(t *testing.T) {
	a := ident.FactID("build", "repo")
	b := ident.FactID("build", "")
	if a != b {
		t.Fatalf("scope default mismatch: %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "F-") || len(a) != len("F-")+16 {
		t.Fatalf("unexpected shape: %s", a)
	}
	want := "F-" + ident.SHA256HexString("build::repo")[:16]
	if a != want {
		t.Fatalf("got %s, want %s", a, want)
	}
	if ident.FactID("build", "team") == a {
		t.Fatalf("different scopes must produce different IDs")
	}
}

func TestTaskIDSlug(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Implement feature", "T-implement-fe"},
		{"Fix  BUG #42!", "T-fix-bug-42-"},
		{"refactor", "T-refactor"},
	}
	for _, tc := range cases {
		if got := ident.TaskID(tc.title); got != tc.want {
			t.Errorf("TaskID(%q) = %s, want %s", tc.title, got, tc.want)
		}
	}
}

func TestSlug(t *testing.T) {
	if got := ident.Slug("Hello, World", 50); got != "hello-world" {
		t.Fatalf("got %q", got)
	}
	if got := ident.Slug("Implement feature", 12); got != "implement-fe" {
		t.Fatalf("truncate: got %q", got)
	}
}
