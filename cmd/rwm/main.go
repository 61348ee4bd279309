// Command rwm serves a per-project resumable working memory over stdio.
// One JSON request per line on stdin, one JSON response per line on stdout;
// logs go to <root>/rwm.log so the wire stays clean.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/basket/rwm/internal/artifacts"
	"github.com/basket/rwm/internal/audit"
	"github.com/basket/rwm/internal/config"
	"github.com/basket/rwm/internal/engine"
	rwmotel "github.com/basket/rwm/internal/otel"
	"github.com/basket/rwm/internal/server"
	"github.com/basket/rwm/internal/session"
	"github.com/basket/rwm/internal/store"
	"github.com/basket/rwm/internal/telemetry"
	"github.com/basket/rwm/internal/tokenest"
	"github.com/basket/rwm/internal/workspace"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

Serves project working memory over stdio: newline-delimited JSON requests
on stdin, one response line per request on stdout.

FLAGS:
`, os.Args[0])
	flag.PrintDefaults()
	fmt.Fprint(os.Stderr, `
ENVIRONMENT VARIABLES:
  RWM_BUNDLE_TOKENS       Default resume budget (default: 4500)
  RWM_MODEL_FAMILY        Token model: openai, anthropic, generic
  RWM_LOG_LEVEL           debug, info, warn, error
  RWM_TRACE               Trace exporter: none, stdout, otlp-http
`)
}

func main() {
	rootFlag := flag.String("root", ".", "project root directory")
	dbFlag := flag.String("db", "", "database path (default: <root>/rwm.db)")
	artifactsFlag := flag.String("artifacts", "", "artifact pool directory (default: <root>/rwm_artifacts)")
	bundleTokensFlag := flag.Int("bundleTokens", 0, "default resume token budget")
	modelFamilyFlag := flag.String("modelFamily", "", "token model family: openai, anthropic, generic")
	flag.Usage = printUsage
	flag.Parse()

	if err := run(*rootFlag, *dbFlag, *artifactsFlag, *bundleTokensFlag, *modelFamilyFlag); err != nil {
		fmt.Fprintf(os.Stderr, "rwm: %v\n", err)
		os.Exit(1)
	}
}

func run(root, dbPath, artifactsDir string, bundleTokens int, modelFamily string) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	// Flags win over rwm.yaml and environment.
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if artifactsDir != "" {
		cfg.ArtifactsDir = artifactsDir
	}
	if bundleTokens > 0 {
		cfg.BundleTokens = bundleTokens
	}
	if modelFamily != "" {
		cfg.ModelFamily = modelFamily
	}

	mirror := isatty.IsTerminal(os.Stderr.Fd())
	logger, logCloser, err := telemetry.NewLogger(cfg.Root, cfg.LogLevel, mirror)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := rwmotel.Init(ctx, rwmotel.Config{
		Enabled:  cfg.Trace != "" && cfg.Trace != "none",
		Exporter: cfg.Trace,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer provider.Shutdown(context.Background())

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ws, err := workspace.New(cfg.Root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	pool, err := artifacts.NewPool(cfg.ArtifactsDir, ws)
	if err != nil {
		return err
	}
	if err := audit.Init(cfg.Root); err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	defer audit.Close()

	estimator := tokenest.New()
	family := tokenest.ParseFamily(cfg.ModelFamily)
	eng := engine.New(st, pool, estimator, family)

	srv, err := server.New(server.Options{
		Engine:       eng,
		Store:        st,
		Workspace:    ws,
		Resolver:     session.NewResolver(),
		Root:         ws.Root(),
		BundleTokens: cfg.BundleTokens,
		Logger:       logger,
		Provider:     provider,
	})
	if err != nil {
		return err
	}

	watcher := config.NewWatcher(cfg.Root, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for range watcher.Events() {
				reloaded, err := config.Load(cfg.Root)
				if err != nil {
					logger.Warn("config reload failed", "error", err)
					continue
				}
				srv.SetBundleTokens(reloaded.BundleTokens)
				logger.Info("bundle budget reloaded", "bundle_tokens", reloaded.BundleTokens)
			}
		}()
	}

	schemaVersion, err := st.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	logger.Info("rwm started",
		"version", Version,
		"root", ws.Root(),
		"db", cfg.DBPath,
		"schema_version", schemaVersion,
		"artifacts", cfg.ArtifactsDir,
		"pool_bodies", pool.BodyCount(),
		"bundle_tokens", cfg.BundleTokens,
		"model_family", string(family),
		"token_backends", fmt.Sprint(estimator.Backends()),
	)

	if err := srv.Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("rwm stopped")
	return nil
}
