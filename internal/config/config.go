package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Backend contains connection settings for the pipeline backend API.
type Backend struct {
	BaseURL               string `toml:"base_url"`
	Version               int    `toml:"version"`
	VideoID               string `toml:"video_id"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// Polling contains interval and ceiling settings for the status and job pollers.
type Polling struct {
	StatusIntervalMillis int `toml:"status_interval_ms"`
	JobIntervalMillis    int `toml:"job_interval_ms"`
	JobMaxAttempts       int `toml:"job_max_attempts"`
	LogCapacity          int `toml:"log_capacity"`
}

// Paths contains directory configuration.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Stages         bool   `toml:"stages"`
	Jobs           bool   `toml:"jobs"`
	Errors         bool   `toml:"errors"`
}

// DevServer contains configuration for the local simulated backend.
type DevServer struct {
	Bind        string `toml:"bind"`
	StepDelayMs int    `toml:"step_delay_ms"`
	ShotsPerRun int    `toml:"shots_per_run"`
}

// Config encapsulates all configuration values for reelflow.
//
// Configuration sections by subsystem:
//   - Backend: pipeline API location, run version, default video id
//   - Polling: status/job poll intervals, job attempt ceiling, log buffer size
//   - Paths: log and dev server state directories
//   - Logging: log format and level
//   - Notifications: ntfy push notification settings
//   - DevServer: local simulated backend
type Config struct {
	Backend       Backend       `toml:"backend"`
	Polling       Polling       `toml:"polling"`
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Notifications Notifications `toml:"notifications"`
	DevServer     DevServer     `toml:"devserver"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reelflow/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment files
// (.env, .env.local) in the working directory are applied before environment
// overrides are read. The returned config has all path fields expanded.
func Load(path string) (*Config, string, bool, error) {
	loadEnvFiles()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// loadEnvFiles applies .env style files without overriding variables that are
// already present in the process environment. Missing files are ignored.
func loadEnvFiles() {
	for _, name := range []string{".env", ".env.local"} {
		if _, err := os.Stat(name); err != nil {
			continue
		}
		_ = godotenv.Load(name)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories reelflow writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StatusInterval returns the status poller period.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Polling.StatusIntervalMillis) * time.Millisecond
}

// JobInterval returns the job poller period.
func (c *Config) JobInterval() time.Duration {
	return time.Duration(c.Polling.JobIntervalMillis) * time.Millisecond
}

// RequestTimeout returns the per-request timeout for backend calls.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSeconds) * time.Second
}

// StepDelay returns the dev server's simulated work step duration.
func (c *Config) StepDelay() time.Duration {
	return time.Duration(c.DevServer.StepDelayMs) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
