package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imkarma/taskgate/internal/lifecycle"
)

// writeConfig writes data to a temp config file and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

// --- Load / Save / Validate tests ---

func TestLoad_Valid(t *testing.T) {
	p := writeConfig(t, `version: 1
database:
  driver: pgx
  dsn: postgres://taskgate@localhost/taskgate
  max_open_conns: 8
log:
  level: debug
  format: json
policy:
  reason_max_length: 200
  require_reason:
    - {kind: task, from: in_analysis, to: backlog}
workers:
  parallel: 2
  max_retries: 5
  backoff_ms: 250
`)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "pgx" || cfg.Database.MaxOpenConns != 8 {
		t.Fatalf("unexpected database: %+v", cfg.Database)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("expected json format, got %s", cfg.Log.Format)
	}
	if cfg.Policy.ReasonMaxLength != 200 {
		t.Fatalf("expected reason max 200, got %d", cfg.Policy.ReasonMaxLength)
	}
	refs, err := cfg.Policy.ReasonRequiredEdges()
	if err != nil {
		t.Fatalf("ReasonRequiredEdges: %v", err)
	}
	want := lifecycle.EdgeRef{Kind: lifecycle.KindTask, From: lifecycle.TaskInAnalysis, To: lifecycle.TaskBacklog}
	if len(refs) != 1 || refs[0] != want {
		t.Fatalf("expected %v, got %v", want, refs)
	}
	if cfg.Workers.Parallel != 2 || cfg.Workers.MaxRetries != 5 {
		t.Fatalf("unexpected workers: %+v", cfg.Workers)
	}
	if cfg.Workers.Backoff() != 250*time.Millisecond {
		t.Fatalf("expected 250ms backoff, got %v", cfg.Workers.Backoff())
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := writeConfig(t, `version: 1
log:
  level: warn
`)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	def := DefaultConfig()
	if cfg.Database != def.Database {
		t.Fatalf("expected default database, got %+v", cfg.Database)
	}
	if cfg.Log.Format != "text" || cfg.Log.Level != "warn" {
		t.Fatalf("unexpected log: %+v", cfg.Log)
	}
	if cfg.Policy.ReasonMaxLength != lifecycle.DefaultReasonMaxLength {
		t.Fatalf("expected default reason max, got %d", cfg.Policy.ReasonMaxLength)
	}
	if cfg.Database.BusyTimeout() != 5*time.Second {
		t.Fatalf("expected 5s busy timeout, got %v", cfg.Database.BusyTimeout())
	}
	if cfg.Workers.Backoff() != 50*time.Millisecond {
		t.Fatalf("expected 50ms default backoff, got %v", cfg.Workers.Backoff())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDBDSN, "/tmp/other.db")
	t.Setenv(EnvLogLevel, "error")
	p := writeConfig(t, "version: 1\n")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.DSN != "/tmp/other.db" {
		t.Fatalf("expected env dsn, got %s", cfg.Database.DSN)
	}
	if cfg.Log.Level != "error" {
		t.Fatalf("expected env level, got %s", cfg.Log.Level)
	}
}

func TestApplyEnv_IgnoresBlank(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(key string) string {
		if key == EnvDBDriver {
			return "  "
		}
		return ""
	})
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("blank env must not override, got %q", cfg.Database.Driver)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"driver":      "database: {driver: mysql}\n",
		"empty dsn":   "database: {dsn: \"\"}\n",
		"level":       "log: {level: loud}\n",
		"format":      "log: {format: xml}\n",
		"reason max":  "policy: {reason_max_length: -1}\n",
		"reason zero": "policy: {reason_max_length: 0}\n",
		"edge":        "policy: {require_reason: [{kind: task, from: backlog, to: archived}]}\n",
		"parallel":    "workers: {parallel: 0}\n",
		"retries":     "workers: {max_retries: -2}\n",
		"backoff":     "workers: {backoff_ms: -10}\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeConfig(t, "version: 1\n"+data)
			if _, err := Load(p); err == nil {
				t.Fatalf("expected validation error for %s", name)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_BadYAML(t *testing.T) {
	p := writeConfig(t, "database: [unclosed\n")
	if _, err := Load(p); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSave_And_Reload(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Policy.OwnershipPolicyFile = "policies/owners.cedar"
	cfg.Policy.RequireReason = []EdgeSetting{{Kind: "project", From: "REVIEW", To: "IN_PROGRESS"}}
	cfg.Workers.MaxRetries = 7

	if err := Save(p, cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := Load(p)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Policy.OwnershipPolicyFile != "policies/owners.cedar" {
		t.Fatalf("policy file lost after round-trip: %q", loaded.Policy.OwnershipPolicyFile)
	}
	if len(loaded.Policy.RequireReason) != 1 {
		t.Fatalf("require_reason lost after round-trip: %+v", loaded.Policy.RequireReason)
	}
	if loaded.Workers.MaxRetries != 7 {
		t.Fatalf("max_retries lost after round-trip: got %d", loaded.Workers.MaxRetries)
	}
}
