package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if !cfg.Runner.Enabled || cfg.Runner.ReleaseSpec != "@every 1m" {
		t.Fatalf("runner defaults: %+v", cfg.Runner)
	}
	if cfg.Progress.PollInterval.Std() != 5*time.Second {
		t.Fatalf("PollInterval = %v", cfg.Progress.PollInterval.Std())
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	raw := `
server:
  listenAddr: ":9090"
  publishAllPerMinute: 2
database:
  path: /tmp/test.db
runner:
  enabled: false
  scheduleSpec: "@every 5m"
  releaseSpec: "@every 30s"
progress:
  pollInterval: 2s
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.PublishAllPerMinute != 2 {
		t.Fatalf("server: %+v", cfg.Server)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Fatalf("database: %+v", cfg.Database)
	}
	if cfg.Runner.Enabled || cfg.Runner.ScheduleSpec != "@every 5m" {
		t.Fatalf("runner: %+v", cfg.Runner)
	}
	if cfg.Progress.PollInterval.Std() != 2*time.Second {
		t.Fatalf("progress: %+v", cfg.Progress)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DRIPFEED_LISTEN_ADDR", ":7070")
	t.Setenv("DRIPFEED_SQLITE_PATH", "/var/lib/dripfeed.db")
	t.Setenv("DRIPFEED_DATABASE_DSN", "postgres://localhost/drip")
	t.Setenv("DRIPFEED_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":7070" {
		t.Fatalf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Database.Path != "/var/lib/dripfeed.db" || cfg.Database.DSN != "postgres://localhost/drip" {
		t.Fatalf("database: %+v", cfg.Database)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("Level = %q", cfg.Logging.Level)
	}
}
