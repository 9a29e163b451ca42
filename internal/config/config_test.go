package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Sync.RetentionDays != 7 {
		t.Errorf("expected retention 7, got %d", cfg.Sync.RetentionDays)
	}
	if cfg.StateStorage.Type != "sqlite" {
		t.Errorf("expected sqlite state storage, got %q", cfg.StateStorage.Type)
	}
	if cfg.Portal.ShiftUpsertPath != "/worker/shift-upsert/" {
		t.Errorf("unexpected upsert path %q", cfg.Portal.ShiftUpsertPath)
	}
	if cfg.Portal.GetTimeout() != 0 {
		t.Errorf("expected no portal timeout by default")
	}
	if cfg.Sync.GetProbeInterval() != 15*time.Second {
		t.Errorf("expected 15s probe interval, got %v", cfg.Sync.GetProbeInterval())
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
portal:
  base_url: https://portal.example.com
  timeout: 5s
state_storage:
  type: memory
sync:
  worker_id: w-1
  retention_days: 3
scheduler:
  enabled: true
  interval: "@every 1m"
logging:
  level: debug
  format: console
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ATTENDANCE_SYNC_SYNC_WORKER_ID", "w-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Portal.BaseURL != "https://portal.example.com" {
		t.Errorf("unexpected base url %q", cfg.Portal.BaseURL)
	}
	if cfg.Portal.GetTimeout() != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Portal.GetTimeout())
	}
	if cfg.Sync.WorkerID != "w-env" {
		t.Errorf("expected env override w-env, got %q", cfg.Sync.WorkerID)
	}
	if cfg.Sync.RetentionDays != 3 {
		t.Errorf("expected retention 3, got %d", cfg.Sync.RetentionDays)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.Interval != "@every 1m" {
		t.Errorf("unexpected scheduler config %+v", cfg.Scheduler)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("state_storage:\n  type: redis\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for unsupported storage type")
	}
}
