package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"reelflow/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("REELFLOW_API_URL", "")
	t.Setenv("REELFLOW_VIDEO_ID", "")
	t.Setenv("NTFY_TOPIC", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogDir := filepath.Join(tempHome, ".local", "share", "reelflow", "logs")
	if cfg.Paths.LogDir != wantLogDir {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogDir)
	}
	if cfg.Backend.BaseURL != "http://127.0.0.1:8000" {
		t.Fatalf("unexpected base url: %q", cfg.Backend.BaseURL)
	}
	if cfg.StatusInterval() != 2*time.Second {
		t.Fatalf("unexpected status interval: %v", cfg.StatusInterval())
	}
	if cfg.JobInterval() != 3*time.Second {
		t.Fatalf("unexpected job interval: %v", cfg.JobInterval())
	}
	if cfg.Polling.JobMaxAttempts != 60 {
		t.Fatalf("unexpected job ceiling: %d", cfg.Polling.JobMaxAttempts)
	}
	if cfg.Polling.LogCapacity != 10 {
		t.Fatalf("unexpected log capacity: %d", cfg.Polling.LogCapacity)
	}
	if cfg.Notifications.NtfyTopic != "" {
		t.Fatalf("expected no ntfy topic by default, got %q", cfg.Notifications.NtfyTopic)
	}
}

func TestLoadHonoursEnvironmentOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("REELFLOW_API_URL", "https://pipeline.example.com/")
	t.Setenv("REELFLOW_VIDEO_ID", "VID_777")
	t.Setenv("NTFY_TOPIC", "https://ntfy.sh/reels")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backend.BaseURL != "https://pipeline.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.VideoID != "VID_777" {
		t.Fatalf("unexpected video id: %q", cfg.Backend.VideoID)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/reels" {
		t.Fatalf("unexpected ntfy topic: %q", cfg.Notifications.NtfyTopic)
	}
}

func TestLoadParsesFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("REELFLOW_API_URL", "")
	t.Setenv("REELFLOW_VIDEO_ID", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "reelflow.toml")
	content := `
[backend]
base_url = "http://backend:9000"
version = 2

[polling]
status_interval_ms = 500
job_max_attempts = 5

[logging]
format = "JSON"
level = "DEBUG"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected file to be found at %q, got %q (exists=%v)", path, resolved, exists)
	}
	if cfg.Backend.Version != 2 {
		t.Fatalf("unexpected version: %d", cfg.Backend.Version)
	}
	if cfg.StatusInterval() != 500*time.Millisecond {
		t.Fatalf("unexpected status interval: %v", cfg.StatusInterval())
	}
	if cfg.Polling.JobMaxAttempts != 5 {
		t.Fatalf("unexpected attempts: %d", cfg.Polling.JobMaxAttempts)
	}
	if cfg.JobInterval() != 3*time.Second {
		t.Fatalf("expected job interval default to survive, got %v", cfg.JobInterval())
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" {
		t.Fatalf("expected normalized logging, got %q/%q", cfg.Logging.Format, cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"scheme", func(c *config.Config) { c.Backend.BaseURL = "ftp://host" }, "backend.base_url"},
		{"version", func(c *config.Config) { c.Backend.Version = 0 }, "backend.version"},
		{"interval", func(c *config.Config) { c.Polling.StatusIntervalMillis = 0 }, "polling.status_interval_ms"},
		{"attempts", func(c *config.Config) { c.Polling.JobMaxAttempts = -1 }, "polling.job_max_attempts"},
		{"capacity", func(c *config.Config) { c.Polling.LogCapacity = 0 }, "polling.log_capacity"},
		{"level", func(c *config.Config) { c.Logging.Level = "chatty" }, "logging.level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to mention %q, got %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleProducesLoadableConfig(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("REELFLOW_API_URL", "")
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var generic map[string]any
	if err := toml.Unmarshal(data, &generic); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Polling.JobMaxAttempts != config.Default().Polling.JobMaxAttempts {
		t.Fatalf("sample diverged from defaults: %d", cfg.Polling.JobMaxAttempts)
	}
}
