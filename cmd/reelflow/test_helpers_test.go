package main

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelflow/internal/devserver"
	"reelflow/internal/logging"
)

type cliTestEnv struct {
	configPath string
	server     *httptest.Server
	dir        string
}

// setupCLITestEnv starts a dev server and writes a config pointing at it with
// fast polling.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("REELFLOW_API_URL", "")
	t.Setenv("REELFLOW_VIDEO_ID", "")
	t.Setenv("NTFY_TOPIC", "")

	srv, err := devserver.New(devserver.Options{
		StateDir:    filepath.Join(dir, "devserver"),
		StepDelay:   5 * time.Millisecond,
		ShotsPerRun: 2,
		Logger:      logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("devserver.New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})

	configPath := filepath.Join(dir, "reelflow.toml")
	writeTestConfig(t, configPath, ts.URL, dir)
	return &cliTestEnv{configPath: configPath, server: ts, dir: dir}
}

func writeTestConfig(t *testing.T, path, baseURL, dir string) {
	t.Helper()
	content := fmt.Sprintf(`[backend]
base_url = %q
version = 1
video_id = "VID_TEST"

[polling]
status_interval_ms = 5
job_interval_ms = 5
job_max_attempts = 400
log_capacity = 10

[paths]
log_dir = %q
state_dir = %q

[logging]
level = "error"
`, baseURL, filepath.Join(dir, "logs"), filepath.Join(dir, "state"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
