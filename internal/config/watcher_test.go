package config_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/basket/rwm/internal/config"
)

func TestWatcherEmitsOnWrite(t *testing.T) {
	root := t.TempDir()
	path := config.Path(root)
	if err := os.WriteFile(path, []byte("bundle_tokens: 100\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := config.NewWatcher(root, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := os.WriteFile(path, []byte("bundle_tokens: 200\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case ev := <-w.Events():
		if ev.Path != path {
			t.Fatalf("unexpected path %s", ev.Path)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload event")
	}
}

func TestWatcherClosesOnCancel(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())

	w := config.NewWatcher(root, nil)
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	select {
	case _, ok := <-w.Events():
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("events channel not closed")
	}
}
