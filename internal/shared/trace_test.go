package shared_test

import (
	"context"
	"testing"

	"github.com/basket/rwm/internal/shared"
)

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := shared.TraceID(ctx); got != "-" {
		t.Fatalf("empty context trace id %q", got)
	}

	id := shared.NewTraceID()
	if id == "" {
		t.Fatalf("empty trace id")
	}
	ctx = shared.WithTraceID(ctx, id)
	if got := shared.TraceID(ctx); got != id {
		t.Fatalf("got %q want %q", got, id)
	}
}

func TestSessionIDRoundTrip(t *testing.T) {
	ctx := shared.WithSessionID(context.Background(), "proj@main")
	if got := shared.SessionID(ctx); got != "proj@main" {
		t.Fatalf("got %q", got)
	}
	if got := shared.SessionID(context.Background()); got != "" {
		t.Fatalf("got %q", got)
	}
}
