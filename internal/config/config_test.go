package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "driftwall.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 37810 || cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("server defaults = %+v", cfg.Server)
	}
	if cfg.Engine.Dim != 576 {
		t.Errorf("engine dim = %d, want 576", cfg.Engine.Dim)
	}
	if cfg.Refresh.Interval != time.Hour {
		t.Errorf("refresh interval = %v, want 1h", cfg.Refresh.Interval)
	}
	if got := cfg.ListenAddr(); got != "127.0.0.1:37810" {
		t.Errorf("listen addr = %s", got)
	}
}

func TestLoadOverridesLayerOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
engine:
  dim: 128
refresh:
  interval: 30m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want override 9999", cfg.Server.Port)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.Bind != "127.0.0.1" || cfg.Server.FeedbackPerSecond != 5 {
		t.Errorf("server = %+v, want defaults preserved", cfg.Server)
	}
	if cfg.Engine.Dim != 128 {
		t.Errorf("dim = %d, want override 128", cfg.Engine.Dim)
	}
	if cfg.Engine.EmbeddingWeight != 0.7 {
		t.Errorf("embedding weight = %v, want default kept", cfg.Engine.EmbeddingWeight)
	}
	if cfg.Refresh.Interval != 30*time.Minute {
		t.Errorf("refresh interval = %v, want 30m", cfg.Refresh.Interval)
	}
}

func TestLoadRejectsInvalidEngineTuning(t *testing.T) {
	path := writeConfig(t, `
engine:
  embedding_weight: 0.9
`)
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted weights that do not sum to 1")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load accepted a missing explicit path")
	}
}

func TestLoadFromEnv(t *testing.T) {
	path := writeConfig(t, "server: {port: 4242}\n")
	t.Setenv("DRIFTWALL_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 4242 {
		t.Errorf("port = %d, want 4242 from $DRIFTWALL_CONFIG", cfg.Server.Port)
	}
}
