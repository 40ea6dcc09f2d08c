package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: "9090"
log:
  level: debug
  pretty: true
redis:
  addr: localhost:6379
  ttl: 5m
questions:
  ttl: 10m
game:
  timerTick: 500ms
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Log.Level != "debug" || !cfg.Log.Pretty {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected redis config %+v", cfg.Redis)
	}
	if got := TTLDuration(cfg.Questions.TTL, time.Minute); got != 10*time.Minute {
		t.Fatalf("questions ttl: %s", got)
	}
	if got := TTLDuration(cfg.Game.TimerTick, time.Second); got != 500*time.Millisecond {
		t.Fatalf("timer tick: %s", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("empty: %s", got)
	}
	if got := TTLDuration("not-a-duration", time.Minute); got != time.Minute {
		t.Fatalf("invalid: %s", got)
	}
	if got := TTLDuration("90s", time.Minute); got != 90*time.Second {
		t.Fatalf("valid: %s", got)
	}
}
