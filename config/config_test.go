package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsComplete(t *testing.T) {
	cfg := Default()

	if cfg.Budgets.RelevantDeadline.Std() != 3*time.Second {
		t.Errorf("relevant deadline = %v", cfg.Budgets.RelevantDeadline.Std())
	}
	if cfg.Breaker.ConsecutiveFailures != 3 {
		t.Errorf("breaker failures = %d", cfg.Breaker.ConsecutiveFailures)
	}
	if cfg.Background.Workers != 4 || cfg.Background.QueueSize != 64 {
		t.Errorf("background pool = %d/%d", cfg.Background.Workers, cfg.Background.QueueSize)
	}
	if cfg.Narrative.TTL.Std() != 7*24*time.Hour {
		t.Errorf("narrative ttl = %v", cfg.Narrative.TTL.Std())
	}
	if cfg.DedupSize != 4096 {
		t.Errorf("dedup size = %d", cfg.DedupSize)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	content := `
listen_addr: ":9090"
log_level: debug
budgets:
  relevant_deadline: 1s
  relevant_limit: 5
breaker:
  cooldown: 45s
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Budgets.RelevantDeadline.Std() != time.Second {
		t.Errorf("relevant deadline = %v", cfg.Budgets.RelevantDeadline.Std())
	}
	if cfg.Budgets.RelevantLimit != 5 {
		t.Errorf("relevant limit = %d", cfg.Budgets.RelevantLimit)
	}
	// Untouched fields keep their defaults.
	if cfg.Budgets.DeepDeadline.Std() != 8*time.Second {
		t.Errorf("deep deadline = %v", cfg.Budgets.DeepDeadline.Std())
	}
	if cfg.Breaker.Cooldown.Std() != 45*time.Second {
		t.Errorf("breaker cooldown = %v", cfg.Breaker.Cooldown.Std())
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("budgets: [not, a, map]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RECALL_LISTEN_ADDR", ":7070")
	t.Setenv("RECALL_BACKGROUND_WORKERS", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.Background.Workers != 8 {
		t.Errorf("workers = %d", cfg.Background.Workers)
	}
}
