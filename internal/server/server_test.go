package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/rwm/internal/artifacts"
	"github.com/basket/rwm/internal/engine"
	"github.com/basket/rwm/internal/ident"
	"github.com/basket/rwm/internal/server"
	"github.com/basket/rwm/internal/session"
	"github.com/basket/rwm/internal/store"
	"github.com/basket/rwm/internal/tokenest"
	"github.com/basket/rwm/internal/workspace"
)

func newServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	root := t.TempDir()

	st, err := store.Open(store.DefaultDBPath(root))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ws, err := workspace.New(root)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	pool, err := artifacts.NewPool(artifacts.DefaultDir(root), ws)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	eng := engine.New(st, pool, tokenest.New(), tokenest.FamilyGeneric)

	srv, err := server.New(server.Options{
		Engine:       eng,
		Store:        st,
		Workspace:    ws,
		Resolver:     session.NewResolver(),
		Root:         ws.Root(),
		BundleTokens: 4500,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv, ws.Root()
}

func call(t *testing.T, srv *server.Server, method string, params any) server.Response {
	t.Helper()
	raw, err := json.Marshal(params)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return srv.Handle(context.Background(), server.Request{
		ID:     "req-1",
		Method: method,
		Params: raw,
	})
}

func mustResult(t *testing.T, resp server.Response) *server.Result {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected error: %s: %s", resp.Error.Kind, resp.Error.Message)
	}
	if resp.Result == nil {
		t.Fatalf("nil result")
	}
	return resp.Result
}

func structuredMap(t *testing.T, res *server.Result) map[string]any {
	t.Helper()
	raw, err := json.Marshal(res.Structured)
	if err != nil {
		t.Fatalf("marshal structured: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal structured: %v", err)
	}
	return m
}

func TestCommitThenResume(t *testing.T) {
	srv, _ := newServer(t)

	res := mustResult(t, call(t, srv, "memory_commit", map[string]any{
		"session_id": "proj@main",
		"task":       "Implement feature",
		"decisions": []map[string]any{
			{"id": "D-1", "type": "DECISION", "summary": "use sqlite"},
		},
		"artifacts": []map[string]any{
			{"kind": "SNIPPET", "text": "package main"},
		},
		"facts": []map[string]any{
			{"key": "build", "value": "make"},
		},
	}))
	structured := structuredMap(t, res)
	if structured["ok"] != true {
		t.Fatalf("commit not ok: %v", structured)
	}
	if structured["session_id"] != "proj@main" {
		t.Fatalf("session %v", structured["session_id"])
	}
	ids, ok := structured["artifactIds"].([]any)
	if !ok || len(ids) != 1 {
		t.Fatalf("artifactIds %v", structured["artifactIds"])
	}

	res = mustResult(t, call(t, srv, "memory_resume", map[string]any{
		"session_id": "proj@main",
	}))
	if !strings.Contains(res.Text, "- Objective: Implement feature") {
		t.Fatalf("resume text:\n%s", res.Text)
	}
	structured = structuredMap(t, res)
	if structured["budget"].(float64) != 4500 {
		t.Fatalf("budget %v", structured["budget"])
	}
	pointers := structured["pointers"].([]any)
	if len(pointers) == 0 {
		t.Fatalf("no pointers")
	}
}

func TestResumeBudgetValidation(t *testing.T) {
	srv, _ := newServer(t)

	resp := call(t, srv, "memory_resume", map[string]any{
		"session_id":   "proj@main",
		"token_budget": 0,
	})
	if resp.Error == nil || resp.Error.Kind != server.KindValidation {
		t.Fatalf("expected validation error, got %+v", resp)
	}

	resp = call(t, srv, "memory_resume", map[string]any{
		"session_id":   "proj@main",
		"token_budget": 2000000,
	})
	if resp.Error == nil || resp.Error.Kind != server.KindValidation {
		t.Fatalf("expected validation error, got %+v", resp)
	}
}

func TestResumePersistsTokenMetrics(t *testing.T) {
	srv, root := newServer(t)

	mustResult(t, call(t, srv, "memory_commit", map[string]any{
		"session_id": "proj@main",
		"decisions": []map[string]any{
			{"id": "D-1", "type": "DECISION", "summary": "use sqlite"},
		},
	}))
	res := mustResult(t, call(t, srv, "memory_resume", map[string]any{
		"session_id": "proj@main",
	}))
	pointers := structuredMap(t, res)["pointers"].([]any)

	st, err := store.Open(store.DefaultDBPath(root))
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer st.Close()
	var count int
	if err := st.DB().QueryRow(`SELECT COUNT(*) FROM token_metrics WHERE session_id = 'proj@main'`).Scan(&count); err != nil {
		t.Fatalf("count metrics: %v", err)
	}
	if count < len(pointers) {
		t.Fatalf("want >= %d metric rows, got %d", len(pointers), count)
	}
}

func TestUpdateFlow(t *testing.T) {
	srv, _ := newServer(t)

	mustResult(t, call(t, srv, "memory_commit", map[string]any{
		"session_id": "proj@main",
		"task":       "Implement feature",
	}))

	res := mustResult(t, call(t, srv, "memory_update", map[string]any{
		"target": "task",
		"id":     "T-implement-fe",
		"status": "review",
	}))
	structured := structuredMap(t, res)
	if structured["status"] != "review" {
		t.Fatalf("status %v", structured["status"])
	}

	resp := call(t, srv, "memory_update", map[string]any{
		"target": "task",
		"id":     "T-implement-fe",
	})
	if resp.Error == nil || resp.Error.Kind != server.KindInvalidUpdate {
		t.Fatalf("expected invalid-update, got %+v", resp)
	}

	resp = call(t, srv, "memory_update", map[string]any{
		"target": "task",
		"id":     "T-missing",
		"status": "done",
	})
	if resp.Error == nil || resp.Error.Kind != server.KindNotFound {
		t.Fatalf("expected not-found, got %+v", resp)
	}
}

func TestUpdateRejectsOutOfEnumValues(t *testing.T) {
	srv, _ := newServer(t)

	mustResult(t, call(t, srv, "memory_commit", map[string]any{
		"session_id": "proj@main",
		"task":       "Implement feature",
	}))

	resp := call(t, srv, "memory_update", map[string]any{
		"target": "task",
		"id":     "T-implement-fe",
		"status": "bogus",
	})
	if resp.Error == nil || resp.Error.Kind != server.KindValidation {
		t.Fatalf("expected validation error, got %+v", resp)
	}

	res := mustResult(t, call(t, srv, "memory_fetch", map[string]any{"id": "T-implement-fe"}))
	if structuredMap(t, res)["status"] != "doing" {
		t.Fatalf("rejected status leaked into the store: %v", res.Structured)
	}

	resp = call(t, srv, "memory_update", map[string]any{
		"target": "fact",
		"id":     "whatever",
		"scope":  "bogus",
	})
	if resp.Error == nil || resp.Error.Kind != server.KindValidation {
		t.Fatalf("expected validation error for scope, got %+v", resp)
	}
}

func TestFetchDispatch(t *testing.T) {
	srv, _ := newServer(t)

	mustResult(t, call(t, srv, "memory_commit", map[string]any{
		"session_id": "proj@main",
		"task":       "Implement feature",
		"decisions": []map[string]any{
			{"id": "D-1", "type": "DECISION", "summary": "use sqlite"},
		},
		"artifacts": []map[string]any{
			{"kind": "SNIPPET", "text": "body"},
		},
		"facts": []map[string]any{
			{"key": "build", "value": "make"},
		},
	}))

	if res := mustResult(t, call(t, srv, "memory_fetch", map[string]any{"id": "T-implement-fe"})); !strings.HasPrefix(res.Text, "task ") {
		t.Fatalf("task fetch text %q", res.Text)
	}
	if res := mustResult(t, call(t, srv, "memory_fetch", map[string]any{"id": "D-1"})); !strings.HasPrefix(res.Text, "event ") {
		t.Fatalf("event fetch text %q", res.Text)
	}

	artifactID := "P-" + ident.SHA256HexString("body")[:8]
	res := mustResult(t, call(t, srv, "memory_fetch", map[string]any{"id": artifactID}))
	structured := structuredMap(t, res)
	link, _ := structured["resource_link"].(string)
	if !strings.HasPrefix(link, store.BodyURIPrefix) {
		t.Fatalf("missing resource link: %v", structured)
	}

	resp := call(t, srv, "memory_fetch", map[string]any{"id": "Z-nope"})
	if resp.Error == nil || resp.Error.Kind != server.KindNotFound {
		t.Fatalf("expected not-found, got %+v", resp)
	}
}

func TestSpanAndPathEscape(t *testing.T) {
	srv, root := newServer(t)
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("one\ntwo\nthree"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	res := mustResult(t, call(t, srv, "memory_span", map[string]any{
		"path": "main.go", "startLine": 2, "endLine": 3,
	}))
	if res.Text != "two\nthree" {
		t.Fatalf("span %q", res.Text)
	}

	resp := call(t, srv, "memory_span", map[string]any{
		"path": "../outside.txt", "startLine": 1, "endLine": 1,
	})
	if resp.Error == nil || resp.Error.Kind != server.KindPathEscape {
		t.Fatalf("expected path-escape, got %+v", resp)
	}
}

func TestSearch(t *testing.T) {
	srv, _ := newServer(t)

	mustResult(t, call(t, srv, "memory_commit", map[string]any{
		"session_id": "proj@main",
		"decisions": []map[string]any{
			{"id": "D-1", "type": "DECISION", "summary": "switch to sqlite"},
		},
		"facts": []map[string]any{
			{"key": "db", "value": "sqlite"},
		},
	}))

	res := mustResult(t, call(t, srv, "memory_search", map[string]any{
		"session_id": "proj@main",
		"query":      "sqlite",
	}))
	structured := structuredMap(t, res)
	if events, _ := structured["events"].([]any); len(events) != 1 {
		t.Fatalf("events %v", structured["events"])
	}
	if facts, _ := structured["facts"].([]any); len(facts) != 1 {
		t.Fatalf("facts %v", structured["facts"])
	}

	resp := call(t, srv, "memory_search", map[string]any{
		"session_id": "proj@main",
		"query":      "x",
		"limit":      500,
	})
	if resp.Error == nil || resp.Error.Kind != server.KindValidation {
		t.Fatalf("limit cap not enforced: %+v", resp)
	}
}

func TestCheckpoint(t *testing.T) {
	srv, _ := newServer(t)

	mustResult(t, call(t, srv, "memory_commit", map[string]any{
		"session_id": "proj@main",
		"task":       "Implement feature",
	}))
	res := mustResult(t, call(t, srv, "memory_checkpoint", map[string]any{
		"session_id": "proj@main",
		"label":      "before refactor",
	}))
	structured := structuredMap(t, res)
	id, _ := structured["id"].(string)
	if !strings.HasPrefix(id, "C-") {
		t.Fatalf("checkpoint id %q", id)
	}
	if structured["label"] != "before refactor" {
		t.Fatalf("label %v", structured["label"])
	}

	fetched := mustResult(t, call(t, srv, "memory_fetch", map[string]any{"id": id}))
	if !strings.HasPrefix(fetched.Text, "checkpoint ") {
		t.Fatalf("fetch text %q", fetched.Text)
	}
}

func TestResourceRead(t *testing.T) {
	srv, root := newServer(t)

	mustResult(t, call(t, srv, "memory_commit", map[string]any{
		"session_id": "proj@main",
		"artifacts": []map[string]any{
			{"kind": "SNIPPET", "text": "hello pool"},
		},
	}))
	hash := ident.SHA256HexString("hello pool")

	res := mustResult(t, call(t, srv, "resource_read", map[string]any{
		"uri": store.BodyURIPrefix + hash,
	}))
	if res.Text != "hello pool" {
		t.Fatalf("body %q", res.Text)
	}
	if structuredMap(t, res)["encoding"] != "utf-8" {
		t.Fatalf("encoding %v", structuredMap(t, res)["encoding"])
	}

	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("from workspace"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res = mustResult(t, call(t, srv, "resource_read", map[string]any{
		"uri": "workspace://notes.txt",
	}))
	if res.Text != "from workspace" {
		t.Fatalf("workspace body %q", res.Text)
	}

	resp := call(t, srv, "resource_read", map[string]any{"uri": "ftp://nope"})
	if resp.Error == nil || resp.Error.Kind != server.KindValidation {
		t.Fatalf("expected validation, got %+v", resp)
	}
	resp = call(t, srv, "resource_read", map[string]any{"uri": store.BodyURIPrefix + strings.Repeat("0", 64)})
	if resp.Error == nil || resp.Error.Kind != server.KindNotFound {
		t.Fatalf("expected not-found, got %+v", resp)
	}
}

func TestResourceReadBinaryFallsBackToBase64(t *testing.T) {
	srv, root := newServer(t)

	blob := []byte{0xff, 0xfe, 0xfd, 0xfc, 0xfb, 0xfa, 0x00, 0x01}
	if err := os.WriteFile(filepath.Join(root, "blob.bin"), blob, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	res := mustResult(t, call(t, srv, "resource_read", map[string]any{
		"uri": "workspace://blob.bin",
	}))
	if structuredMap(t, res)["encoding"] != "base64" {
		t.Fatalf("encoding %v", structuredMap(t, res)["encoding"])
	}
	if res.Text == string(blob) {
		t.Fatalf("binary returned raw")
	}
}

func TestServeLineProtocol(t *testing.T) {
	srv, _ := newServer(t)

	var in bytes.Buffer
	fmt.Fprintln(&in, `{"id":"1","method":"memory_commit","params":{"session_id":"proj@main","task":"Implement feature"}}`)
	fmt.Fprintln(&in, `not json at all`)
	fmt.Fprintln(&in, `{"id":"2","method":"memory_resume","params":{"session_id":"proj@main"}}`)

	var out bytes.Buffer
	if err := srv.Serve(context.Background(), &in, &out); err != nil {
		t.Fatalf("serve: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 response lines, got %d:\n%s", len(lines), out.String())
	}

	var first server.Response
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if first.ID != "1" || first.Error != nil {
		t.Fatalf("first response %+v", first)
	}

	var second server.Response
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.Error == nil || second.Error.Kind != server.KindValidation {
		t.Fatalf("garbage line should yield validation error: %+v", second)
	}

	var third server.Response
	if err := json.Unmarshal([]byte(lines[2]), &third); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if third.ID != "2" || third.Error != nil {
		t.Fatalf("third response %+v", third)
	}
	if !strings.Contains(third.Result.Text, "NOW:") {
		t.Fatalf("resume text:\n%s", third.Result.Text)
	}
}

func TestUnknownMethod(t *testing.T) {
	srv, _ := newServer(t)
	resp := call(t, srv, "memory_bogus", map[string]any{})
	if resp.Error == nil || resp.Error.Kind != server.KindValidation {
		t.Fatalf("expected validation error, got %+v", resp)
	}
}

func TestSessionNormalizationOnCommit(t *testing.T) {
	srv, _ := newServer(t)

	// No git repo in the temp root, so an empty suffix resolves to a date.
	res := mustResult(t, call(t, srv, "memory_commit", map[string]any{
		"session_id": "proj",
		"task":       "Implement feature",
	}))
	sid := structuredMap(t, res)["session_id"].(string)
	if !strings.HasPrefix(sid, "proj@") || strings.HasSuffix(sid, "@") {
		t.Fatalf("session not normalized: %q", sid)
	}
}
