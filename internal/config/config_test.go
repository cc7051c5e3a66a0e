package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MainInterval != 5*time.Second {
		t.Errorf("MainInterval default: got %v, want 5s", cfg.MainInterval)
	}
	if cfg.AsyncPollInterval != 10*time.Second {
		t.Errorf("AsyncPollInterval default: got %v, want 10s", cfg.AsyncPollInterval)
	}
	if cfg.SyncTimeout != 5*time.Minute {
		t.Errorf("SyncTimeout default: got %v, want 5m", cfg.SyncTimeout)
	}
	if cfg.AsyncTimeout != 30*time.Minute {
		t.Errorf("AsyncTimeout default: got %v, want 30m", cfg.AsyncTimeout)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries default: got %d, want 3", cfg.MaxRetries)
	}
	if !cfg.SchedulerEnabled {
		t.Errorf("SchedulerEnabled default should be true")
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("TASK_BATCH_SIZE", "50")
	t.Setenv("TASK_MAX_RETRIES", "7")
	t.Setenv("TASK_SCHEDULER_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize: got %d, want 50", cfg.BatchSize)
	}
	if cfg.MaxRetries != 7 {
		t.Errorf("MaxRetries: got %d, want 7", cfg.MaxRetries)
	}
	if cfg.SchedulerEnabled {
		t.Errorf("SchedulerEnabled should be false")
	}
}

func TestLoad_InvalidIntReturnsError(t *testing.T) {
	t.Setenv("TASK_BATCH_SIZE", "not-a-number")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a malformed TASK_BATCH_SIZE")
	}
}
