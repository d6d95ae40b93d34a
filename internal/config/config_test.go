package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Session.Policy != "single-shot" {
		t.Fatalf("expected single-shot default policy, got %q", cfg.Session.Policy)
	}
	if cfg.Engine.Accelerator != "preferred" || cfg.Engine.Precision != "fp32" {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if cfg.Bus.Enabled {
		t.Fatalf("expected bus disabled by default")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-dictate.yaml")
	data := `
runtime_name: dictate-test
engine:
  mode: exec
  command: "whisper-cli --threads 2"
  precision: fp16
  accelerator: cpu-only
session:
  policy: chunked-interval
  interval_ms: 1500
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RuntimeName != "dictate-test" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.Command != "whisper-cli --threads 2" {
		t.Fatalf("unexpected engine config: %+v", cfg.Engine)
	}
	if cfg.Engine.Precision != "fp16" || cfg.Engine.Accelerator != "cpu-only" {
		t.Fatalf("unexpected engine options: %+v", cfg.Engine)
	}
	if cfg.Session.Policy != "chunked-interval" || cfg.Session.IntervalMS != 1500 {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Capture.SampleRate != 16000 {
		t.Fatalf("expected untouched defaults to survive, got %d", cfg.Capture.SampleRate)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_ENABLED", "true")
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_PATH", "./tmp.db")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_EVENT_STORE_MAX_SESSIONS", "123")
	t.Setenv("LOQA_EVENT_STORE_VACUUM_ON_START", "true")
	t.Setenv("LOQA_ENGINE_PRECISION", "fp16")
	t.Setenv("LOQA_ENGINE_ACCELERATOR", "cpu-only")
	t.Setenv("LOQA_CAPTURE_MODE", "bus")
	t.Setenv("LOQA_CAPTURE_SOURCE", "kitchen")
	t.Setenv("LOQA_CAPTURE_FRAGMENT_MS", "250")
	t.Setenv("LOQA_SESSION_POLICY", "chunked-interval")
	t.Setenv("LOQA_SESSION_INTERVAL_MS", "2000")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !cfg.Bus.Enabled {
		t.Fatal("expected bus enabled override")
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.Path != "./tmp.db" {
		t.Fatalf("expected event store path override")
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
	if cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store retention days override")
	}
	if cfg.EventStore.MaxSessions != 123 {
		t.Fatalf("expected event store max sessions override")
	}
	if !cfg.EventStore.VacuumOnStart {
		t.Fatalf("expected event store vacuum flag override")
	}
	if cfg.Engine.Precision != "fp16" || cfg.Engine.Accelerator != "cpu-only" {
		t.Fatalf("expected engine overrides, got %+v", cfg.Engine)
	}
	if cfg.Capture.Mode != "bus" || cfg.Capture.Source != "kitchen" || cfg.Capture.FragmentMS != 250 {
		t.Fatalf("expected capture overrides, got %+v", cfg.Capture)
	}
	if cfg.Session.Policy != "chunked-interval" || cfg.Session.IntervalMS != 2000 {
		t.Fatalf("expected session overrides, got %+v", cfg.Session)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad policy", func(c *Config) { c.Session.Policy = "streaming" }, "session.policy"},
		{"zero interval", func(c *Config) { c.Session.Policy = "chunked-interval"; c.Session.IntervalMS = 0 }, "session.interval_ms"},
		{"bad precision", func(c *Config) { c.Engine.Precision = "int8" }, "engine.precision"},
		{"bad accelerator", func(c *Config) { c.Engine.Accelerator = "gpu" }, "engine.accelerator"},
		{"exec without command", func(c *Config) { c.Engine.Mode = "exec" }, "engine.command"},
		{"whisper without model", func(c *Config) { c.Engine.Mode = "whisper" }, "engine.model_path"},
		{"bus capture without bus", func(c *Config) { c.Capture.Mode = "bus" }, "bus.enabled"},
		{"bad log level", func(c *Config) { c.Telemetry.LogLevel = "trace" }, "telemetry.log_level"},
		{"bad retention", func(c *Config) { c.EventStore.RetentionMode = "forever" }, "retention_mode"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LOQA_DOTENV_PROBE=from-file\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("LOQA_DOTENV_PROBE", "")
	os.Unsetenv("LOQA_DOTENV_PROBE")

	loaded, err := LoadDotEnv(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	if loaded != path {
		t.Fatalf("expected %s to be loaded, got %q", path, loaded)
	}
	if got := os.Getenv("LOQA_DOTENV_PROBE"); got != "from-file" {
		t.Fatalf("expected value from env file, got %q", got)
	}
}
