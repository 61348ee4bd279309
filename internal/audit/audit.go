// Package audit appends one redacted JSONL line per mutating operation to
// <root>/rwm_audit.jsonl. The trail answers "what changed this store and
// when" without replaying the database.
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/rwm/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Operation string `json:"operation"`
	SessionID string `json:"session_id"`
	TraceID   string `json:"trace_id"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu          sync.Mutex
	file        *os.File
	recordCount atomic.Int64
)

// Path returns the audit trail location for a project root.
func Path(root string) string {
	return filepath.Join(root, "rwm_audit.jsonl")
}

// Init opens the audit trail for appending. Safe to call more than once.
func Init(root string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	f, err := os.OpenFile(Path(root), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// RecordCount returns the number of entries written since startup.
func RecordCount() int64 {
	return recordCount.Load()
}

// Record appends one entry. Secrets in detail are redacted before the write.
// A nil file (Init not called) makes this a no-op.
func Record(operation, sessionID, traceID, detail string) {
	detail = shared.Redact(detail)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}

	ev := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: operation,
		SessionID: sessionID,
		TraceID:   traceID,
		Detail:    detail,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := file.Write(append(b, '\n')); err == nil {
		recordCount.Add(1)
	}
}
