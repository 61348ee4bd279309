// Package server exposes the memory core over newline-delimited JSON on
// stdio. One request line in, one response line out; requests are handled
// sequentially to completion.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/rwm/internal/engine"
	rwmotel "github.com/basket/rwm/internal/otel"
	"github.com/basket/rwm/internal/session"
	"github.com/basket/rwm/internal/shared"
	"github.com/basket/rwm/internal/store"
	"github.com/basket/rwm/internal/workspace"
)

// maxLineBytes bounds a single request line. Inline artifact text rides in
// request params, so this needs headroom over typical tool payloads.
const maxLineBytes = 8 << 20

// Request is one protocol line.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Result is the payload of a successful response.
type Result struct {
	Text       string `json:"text"`
	Structured any    `json:"structured,omitempty"`
}

// Response is one protocol line back.
type Response struct {
	ID     string  `json:"id"`
	Result *Result `json:"result,omitempty"`
	Error  *Error  `json:"error,omitempty"`
}

// Options carries the server's collaborators.
type Options struct {
	Engine    *engine.Engine
	Store     *store.Store
	Workspace *workspace.Workspace
	Resolver  *session.Resolver
	Root      string

	// BundleTokens is the default resume budget; changed at runtime via
	// SetBundleTokens on config reload.
	BundleTokens int

	Logger   *slog.Logger
	Provider *rwmotel.Provider
}

// Server dispatches protocol requests to the memory core.
type Server struct {
	engine   *engine.Engine
	store    *store.Store
	ws       *workspace.Workspace
	resolver *session.Resolver
	root     string

	bundleTokens atomic.Int64

	logger   *slog.Logger
	provider *rwmotel.Provider
	metrics  *rwmotel.Metrics
	schemas  map[string]*jsonschema.Schema

	writeMu sync.Mutex
}

// New builds a Server, compiling all operation schemas.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	s := &Server{
		engine:   opts.Engine,
		store:    opts.Store,
		ws:       opts.Workspace,
		resolver: opts.Resolver,
		root:     opts.Root,
		logger:   opts.Logger,
		schemas:  schemas,
	}
	s.bundleTokens.Store(int64(opts.BundleTokens))

	provider := opts.Provider
	if provider == nil {
		provider = &rwmotel.Provider{
			Tracer: nooptrace.NewTracerProvider().Tracer(rwmotel.TracerName),
			Meter:  noop.NewMeterProvider().Meter(rwmotel.MeterName),
		}
	}
	metrics, err := rwmotel.NewMetrics(provider.Meter)
	if err != nil {
		return nil, err
	}
	s.metrics = metrics
	s.provider = provider
	return s, nil
}

// SetBundleTokens changes the default resume budget. Called by the config
// watcher on rwm.yaml changes.
func (s *Server) SetBundleTokens(n int) {
	if n > 0 {
		s.bundleTokens.Store(int64(n))
	}
}

// BundleTokens returns the current default resume budget.
func (s *Server) BundleTokens() int {
	return int(s.bundleTokens.Load())
}

// Serve reads request lines from r until EOF or context cancellation,
// writing one response line per request to w.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(w, Response{Error: validationError(fmt.Sprintf("request is not valid JSON: %s", err))})
			continue
		}
		s.writeResponse(w, s.dispatch(ctx, req))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

// Handle processes a single request. Exposed for tests and embedding.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	return s.dispatch(ctx, req)
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	traceID := shared.NewTraceID()
	ctx = shared.WithTraceID(ctx, traceID)
	start := time.Now()

	ctx, span := rwmotel.StartServerSpan(ctx, s.provider.Tracer, req.Method,
		rwmotel.AttrOperation.String(req.Method),
		rwmotel.AttrTraceID.String(traceID),
	)
	defer span.End()

	var res *Result
	wireErr := s.validateParams(req.Method, req.Params)
	if wireErr == nil {
		res, wireErr = s.handle(ctx, req.Method, req.Params, traceID)
	}

	elapsed := time.Since(start)
	s.metrics.RequestDuration.Record(ctx, elapsed.Seconds())
	if wireErr != nil {
		s.metrics.RequestErrors.Add(ctx, 1)
		span.SetAttributes(rwmotel.AttrErrorKind.String(wireErr.Kind))
		s.logger.Warn("request failed",
			"method", req.Method, "trace_id", traceID,
			"kind", wireErr.Kind, "error", wireErr.Message,
			"elapsed_ms", elapsed.Milliseconds())
		return Response{ID: req.ID, Error: wireErr}
	}

	s.logger.Debug("request handled",
		"method", req.Method, "trace_id", traceID,
		"elapsed_ms", elapsed.Milliseconds())
	return Response{ID: req.ID, Result: res}
}

func (s *Server) handle(ctx context.Context, method string, params json.RawMessage, traceID string) (*Result, *Error) {
	switch method {
	case "memory_resume":
		return s.handleResume(ctx, params)
	case "memory_commit":
		return s.handleCommit(ctx, params, traceID)
	case "memory_update":
		return s.handleUpdate(ctx, params, traceID)
	case "memory_fetch":
		return s.handleFetch(ctx, params)
	case "memory_span":
		return s.handleSpan(ctx, params)
	case "memory_search":
		return s.handleSearch(ctx, params)
	case "memory_checkpoint":
		return s.handleCheckpoint(ctx, params, traceID)
	case "resource_read":
		return s.handleResourceRead(ctx, params)
	default:
		return nil, validationError(fmt.Sprintf("unknown method %q", method))
	}
}

func (s *Server) writeResponse(w io.Writer, resp Response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
