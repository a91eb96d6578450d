// Package config loads roberto's configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML
// file, ROBERTO_* environment variables and command-line flags. The result
// is validated against an embedded CUE schema.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables that override file values.
const (
	EnvDatabase  = "ROBERTO_DB"
	EnvRetention = "ROBERTO_RETENTION"
)

// Config is the complete runtime configuration.
type Config struct {
	// Database is the SQLite path, or ":memory:".
	Database string `yaml:"database"`

	// Retention is how long notifications are kept before purging.
	Retention time.Duration `yaml:"retention"`

	// PurgeInterval is how often the janitor runs.
	PurgeInterval time.Duration `yaml:"purge_interval"`

	// MetricsAddr is the listen address for /metrics. Empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`

	Log LogConfig `yaml:"log"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Database:      "roberto.db",
		Retention:     14 * 24 * time.Hour,
		PurgeInterval: time.Hour,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode parses YAML strictly: unknown keys are errors. An empty document
// leaves cfg unchanged.
func decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDatabase); ok && v != "" {
		c.Database = v
	}
	if v, ok := lookup(EnvRetention); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRetention, err)
		}
		c.Retention = d
	}
	return nil
}

// Validate checks c against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("config schema: %w", err)
	}

	value := ctx.Encode(c.view())
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := schema.Unify(value).Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// view is the shape the CUE schema constrains. Durations become
// milliseconds so they compare as integers.
type view struct {
	Database        string  `json:"database"`
	RetentionMS     int64   `json:"retention_ms"`
	PurgeIntervalMS int64   `json:"purge_interval_ms"`
	MetricsAddr     string  `json:"metrics_addr"`
	Log             logView `json:"log"`
}

type logView struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

func (c Config) view() view {
	return view{
		Database:        c.Database,
		RetentionMS:     c.Retention.Milliseconds(),
		PurgeIntervalMS: c.PurgeInterval.Milliseconds(),
		MetricsAddr:     c.MetricsAddr,
		Log:             logView{Level: c.Log.Level, Format: c.Log.Format},
	}
}

// ValidationError reports a configuration that violates the schema.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
