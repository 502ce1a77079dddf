package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateDevServer(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBackend() error {
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("backend.base_url must use http or https, got %q", c.Backend.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("backend.base_url must include a host, got %q", c.Backend.BaseURL)
	}
	if c.Backend.Version < 1 {
		return errors.New("backend.version must be >= 1")
	}
	return nil
}

func (c *Config) validatePolling() error {
	return ensurePositiveMap(map[string]int{
		"polling.status_interval_ms": c.Polling.StatusIntervalMillis,
		"polling.job_interval_ms":    c.Polling.JobIntervalMillis,
		"polling.job_max_attempts":   c.Polling.JobMaxAttempts,
		"polling.log_capacity":       c.Polling.LogCapacity,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func (c *Config) validateDevServer() error {
	if c.DevServer.StepDelayMs < 0 {
		return errors.New("devserver.step_delay_ms must be >= 0")
	}
	if !strings.Contains(c.DevServer.Bind, ":") {
		return fmt.Errorf("devserver.bind must be host:port, got %q", c.DevServer.Bind)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
