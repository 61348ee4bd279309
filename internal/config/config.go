// Package config loads the per-project rwm.yaml and applies environment
// overrides. Command-line flags are applied by the caller on top of the
// loaded config and win over both.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/basket/rwm/internal/shared"
)

// DefaultBundleTokens is the bundle budget when neither config, environment,
// nor flags set one.
const DefaultBundleTokens = 4500

// Config is the effective runtime configuration.
type Config struct {
	// Root is the project directory the store and pool live under. Not
	// read from yaml; the file location defines it.
	Root string `yaml:"-"`

	DBPath       string `yaml:"db_path"`
	ArtifactsDir string `yaml:"artifacts_dir"`
	BundleTokens int    `yaml:"bundle_tokens"`
	ModelFamily  string `yaml:"model_family"`
	LogLevel     string `yaml:"log_level"`
	Trace        string `yaml:"trace"`
}

// Path returns the config file location for a project root.
func Path(root string) string {
	return filepath.Join(root, "rwm.yaml")
}

// Load reads rwm.yaml from root, falling back to defaults when the file is
// absent, then applies environment overrides.
func Load(root string) (Config, error) {
	cfg := defaultConfig(root)

	data, err := os.ReadFile(Path(root))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read rwm.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse rwm.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func defaultConfig(root string) Config {
	return Config{
		Root:         root,
		BundleTokens: DefaultBundleTokens,
		ModelFamily:  "generic",
		LogLevel:     "info",
		Trace:        "none",
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("RWM_BUNDLE_TOKENS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			cfg.BundleTokens = v
			logOverride("RWM_BUNDLE_TOKENS", raw)
		}
	}
	if raw := os.Getenv("RWM_MODEL_FAMILY"); raw != "" {
		cfg.ModelFamily = raw
		logOverride("RWM_MODEL_FAMILY", raw)
	}
	if raw := os.Getenv("RWM_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
		logOverride("RWM_LOG_LEVEL", raw)
	}
	if raw := os.Getenv("RWM_TRACE"); raw != "" {
		cfg.Trace = raw
		logOverride("RWM_TRACE", raw)
	}
}

// logOverride records an applied override without leaking secret-looking
// values into the log.
func logOverride(key, value string) {
	slog.Debug("env override applied", "key", key, "value", shared.RedactEnvValue(key, value))
}

func normalize(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.Root, "rwm.db")
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = filepath.Join(cfg.Root, "rwm_artifacts")
	}
	if cfg.BundleTokens <= 0 {
		cfg.BundleTokens = DefaultBundleTokens
	}
	cfg.ModelFamily = strings.ToLower(strings.TrimSpace(cfg.ModelFamily))
	if cfg.ModelFamily == "" {
		cfg.ModelFamily = "generic"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Trace == "" {
		cfg.Trace = "none"
	}
}
