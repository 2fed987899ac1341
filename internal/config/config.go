package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// Environment variables that override the file.
const (
	EnvDBDriver = "TASKGATE_DB_DRIVER"
	EnvDBDSN    = "TASKGATE_DB_DSN"
	EnvLogLevel = "TASKGATE_LOG_LEVEL"
)

// Config is the root configuration for a taskgate project.
type Config struct {
	Version  int      `yaml:"version"`
	Database Database `yaml:"database"`
	Log      Log      `yaml:"log"`
	Policy   Policy   `yaml:"policy"`
	Workers  Workers  `yaml:"workers"`
}

// Database selects the entity store backend.
type Database struct {
	Driver        string `yaml:"driver"`                    // "sqlite" or "pgx"
	DSN           string `yaml:"dsn"`                       // File path or postgres URL
	MaxOpenConns  int    `yaml:"max_open_conns,omitempty"`  // pgx only
	BusyTimeoutMS int    `yaml:"busy_timeout_ms,omitempty"` // sqlite only
}

// BusyTimeout returns the sqlite lock wait as a duration.
func (d Database) BusyTimeout() time.Duration {
	return time.Duration(d.BusyTimeoutMS) * time.Millisecond
}

// Log configures the structured logger.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Policy tunes the lifecycle rules without touching code.
type Policy struct {
	ReasonMaxLength     int           `yaml:"reason_max_length,omitempty"`
	OwnershipPolicyFile string        `yaml:"ownership_policy_file,omitempty"` // Cedar file replacing the built-in one
	RequireReason       []EdgeSetting `yaml:"require_reason,omitempty"`        // Extra edges that need a reason
}

// EdgeSetting names one transition in the config file.
type EdgeSetting struct {
	Kind string `yaml:"kind"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// ReasonRequiredEdges parses RequireReason into edge references.
func (p Policy) ReasonRequiredEdges() ([]lifecycle.EdgeRef, error) {
	refs := make([]lifecycle.EdgeRef, 0, len(p.RequireReason))
	for i, e := range p.RequireReason {
		ref, err := lifecycle.ParseEdgeRef(e.Kind, e.From, e.To)
		if err != nil {
			return nil, fmt.Errorf("policy.require_reason[%d]: %w", i, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// Workers bounds bulk transitions.
type Workers struct {
	Parallel   int `yaml:"parallel"`
	MaxRetries int `yaml:"max_retries"`
	BackoffMS  int `yaml:"backoff_ms"` // Wait before a retry, multiplied by the attempt
}

// Backoff returns the base retry wait as a duration.
func (w Workers) Backoff() time.Duration {
	return time.Duration(w.BackoffMS) * time.Millisecond
}

// Load reads and parses the config file at the given path. Missing
// fields take their defaults and environment overrides are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns a starter config backed by a local sqlite file.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Database: Database{
			Driver:        "sqlite",
			DSN:           ".taskgate/taskgate.db",
			MaxOpenConns:  1,
			BusyTimeoutMS: 5000,
		},
		Log: Log{Level: "info", Format: "text"},
		Policy: Policy{
			ReasonMaxLength: lifecycle.DefaultReasonMaxLength,
		},
		Workers: Workers{Parallel: 4, MaxRetries: 3, BackoffMS: 50},
	}
}

// ApplyEnv overrides file values with non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvDBDriver)); v != "" {
		c.Database.Driver = v
	}
	if v := strings.TrimSpace(getenv(EnvDBDSN)); v != "" {
		c.Database.DSN = v
	}
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "pgx", "postgres":
	default:
		return fmt.Errorf("database.driver must be 'sqlite' or 'pgx', got %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json', got %q", c.Log.Format)
	}
	if c.Policy.ReasonMaxLength < 1 {
		return fmt.Errorf("policy.reason_max_length must be at least 1, got %d", c.Policy.ReasonMaxLength)
	}
	if _, err := c.Policy.ReasonRequiredEdges(); err != nil {
		return err
	}
	if c.Workers.Parallel < 1 {
		return fmt.Errorf("workers.parallel must be at least 1, got %d", c.Workers.Parallel)
	}
	if c.Workers.MaxRetries < 0 {
		return fmt.Errorf("workers.max_retries must not be negative")
	}
	if c.Workers.BackoffMS < 0 {
		return fmt.Errorf("workers.backoff_ms must not be negative")
	}
	return nil
}
