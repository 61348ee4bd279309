package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/rwm/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := config.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BundleTokens != config.DefaultBundleTokens {
		t.Fatalf("bundle tokens %d", cfg.BundleTokens)
	}
	if cfg.DBPath != filepath.Join(root, "rwm.db") {
		t.Fatalf("db path %s", cfg.DBPath)
	}
	if cfg.ArtifactsDir != filepath.Join(root, "rwm_artifacts") {
		t.Fatalf("artifacts dir %s", cfg.ArtifactsDir)
	}
	if cfg.ModelFamily != "generic" {
		t.Fatalf("model family %s", cfg.ModelFamily)
	}
}

func TestLoadFromFile(t *testing.T) {
	root := t.TempDir()
	yaml := "bundle_tokens: 1200\nmodel_family: OpenAI\nlog_level: debug\n"
	if err := os.WriteFile(config.Path(root), []byte(yaml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := config.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BundleTokens != 1200 {
		t.Fatalf("bundle tokens %d", cfg.BundleTokens)
	}
	if cfg.ModelFamily != "openai" {
		t.Fatalf("model family not normalized: %s", cfg.ModelFamily)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level %s", cfg.LogLevel)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(config.Path(root), []byte("bundle_tokens: 1200\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("RWM_BUNDLE_TOKENS", "900")

	cfg, err := config.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BundleTokens != 900 {
		t.Fatalf("env override ignored: %d", cfg.BundleTokens)
	}
}

func TestEnvOverrideRejectsGarbage(t *testing.T) {
	root := t.TempDir()
	t.Setenv("RWM_BUNDLE_TOKENS", "not-a-number")

	cfg, err := config.Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BundleTokens != config.DefaultBundleTokens {
		t.Fatalf("garbage env should be ignored: %d", cfg.BundleTokens)
	}
}

func TestLoadBadYAML(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(config.Path(root), []byte("bundle_tokens: [oops\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := config.Load(root); err == nil {
		t.Fatalf("expected parse error")
	}
}
