package devserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelflow/internal/devserver"
	"reelflow/internal/logging"
	"reelflow/internal/services/backend"
)

func newServer(t *testing.T) (*devserver.Server, *backend.Client) {
	t.Helper()
	srv, err := devserver.New(devserver.Options{
		StateDir:    t.TempDir(),
		StepDelay:   time.Millisecond,
		ShotsPerRun: 3,
		Logger:      logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		if err := srv.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	client := backend.NewClient(backend.Config{BaseURL: ts.URL, Version: 1, VideoID: "VID_001"})
	return srv, client
}

func waitForStage(t *testing.T, client *backend.Client, runID, stage string) backend.RunStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := client.RunStatus(context.Background(), runID)
		if err != nil {
			t.Fatalf("RunStatus: %v", err)
		}
		if strings.EqualFold(status.CurrentStage, stage) && status.StageStatus == "done" {
			return status
		}
		if strings.HasPrefix(status.StageStatus, "error") {
			t.Fatalf("stage %s failed: %s", stage, status.StageStatus)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last status %+v", stage, status)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func createRun(t *testing.T, client *backend.Client, runID string) {
	t.Helper()
	ack, err := client.CreateRun(context.Background(), backend.CreateRunRequest{
		RunID:      runID,
		VideoID:    "VID_042",
		Script:     backend.Upload{Filename: "script.txt", Content: []byte("Markets opened lower. Traders braced for news.\nThen the rally came! Stocks closed higher.")},
		StyleBible: backend.Upload{Content: []byte("# Style\nMuted palette.")},
		Voiceover:  backend.Upload{Content: []byte("ID3")},
	})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if ack.Status != "created" || ack.RunID != runID || ack.Version != 1 {
		t.Fatalf("unexpected create ack %+v", ack)
	}
}

func TestCreateRunStartsUploaded(t *testing.T) {
	_, client := newServer(t)
	createRun(t, client, "RUN-1")

	status, err := client.RunStatus(context.Background(), "RUN-1")
	if err != nil {
		t.Fatalf("RunStatus: %v", err)
	}
	if status.CurrentStage != "UPLOADED" || status.StageStatus != "done" {
		t.Fatalf("unexpected initial status %+v", status)
	}

	runs, err := client.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "RUN-1" || runs[0].VideoID != "VID_042" || runs[0].Status == nil {
		t.Fatalf("unexpected listing %+v", runs)
	}

	_, err = client.CreateRun(context.Background(), backend.CreateRunRequest{RunID: "RUN-1", VideoID: "VID_042"})
	var statusErr *backend.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}
}

func TestUnknownRunIsNotFound(t *testing.T) {
	_, client := newServer(t)
	if _, err := client.RunStatus(context.Background(), "RUN-NOPE"); !backend.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := client.ExecuteStage(context.Background(), "RUN-NOPE", backend.StagePlanning, ""); !backend.IsNotFound(err) {
		t.Fatalf("expected not found for execute, got %v", err)
	}
}

func TestPlanningAndPromptsProduceShotsAndPrompts(t *testing.T) {
	_, client := newServer(t)
	ctx := context.Background()
	createRun(t, client, "RUN-2")

	ack, err := client.ExecuteStage(ctx, "RUN-2", backend.StagePlanning, "")
	if err != nil {
		t.Fatalf("ExecuteStage planning: %v", err)
	}
	if ack.Status != "running" || ack.Stage != backend.StagePlanning {
		t.Fatalf("unexpected execute ack %+v", ack)
	}
	done := waitForStage(t, client, "RUN-2", "PLANNING")
	if done.ProgressMessage != "Planned 3 shots" {
		t.Fatalf("unexpected completion message %q", done.ProgressMessage)
	}

	shots, err := client.Shots(ctx, "RUN-2")
	if err != nil {
		t.Fatalf("Shots: %v", err)
	}
	if len(shots) != 3 {
		t.Fatalf("expected 3 shots, got %d", len(shots))
	}
	if shots[0].ShotID != "RUN-2_s001" || shots[0].VideoID != "VID_042" || shots[0].Status != "PLANNED" || shots[0].Metaphor == nil {
		t.Fatalf("unexpected first shot %+v", shots[0])
	}
	var cameraText string
	if err := json.Unmarshal(shots[0].CameraConfig, &cameraText); err != nil || !strings.Contains(cameraText, "push-in") {
		t.Fatalf("expected camera config served as JSON text, got %s", shots[0].CameraConfig)
	}
	if *shots[0].BeatEndS != *shots[1].BeatStartS {
		t.Fatalf("expected contiguous beats, got %v and %v", *shots[0].BeatEndS, *shots[1].BeatStartS)
	}

	if _, err := client.ExecuteStage(ctx, "RUN-2", backend.StagePrompts, ""); err != nil {
		t.Fatalf("ExecuteStage prompts: %v", err)
	}
	done = waitForStage(t, client, "RUN-2", "PROMPTS")
	if done.ProgressTotal == nil || *done.ProgressTotal != 3 {
		t.Fatalf("expected progress total 3, got %+v", done)
	}

	shot, err := client.Shot(ctx, "RUN-2", "RUN-2_s002")
	if err != nil {
		t.Fatalf("Shot: %v", err)
	}
	roles := map[string]string{}
	for _, asset := range shot.Assets {
		if asset.Type != backend.AssetPrompt {
			continue
		}
		var text string
		if err := json.Unmarshal(asset.Metadata, &text); err != nil {
			t.Fatalf("metadata should be JSON text: %v", err)
		}
		var meta map[string]string
		if err := json.Unmarshal([]byte(text), &meta); err != nil {
			t.Fatalf("decode metadata: %v", err)
		}
		roles[asset.Role] = meta["prompt"]
	}
	if roles[backend.RoleStartRef] == "" || roles[backend.RoleEndRef] == "" {
		t.Fatalf("expected start and end prompts, got %v", roles)
	}
}

func TestExecuteRejectsUnknownStageAndConcurrentStage(t *testing.T) {
	srv, err := devserver.New(devserver.Options{StateDir: t.TempDir(), StepDelay: 50 * time.Millisecond, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer func() {
		ts.Close()
		_ = srv.Close()
	}()
	client := backend.NewClient(backend.Config{BaseURL: ts.URL})
	createRun(t, client, "RUN-3")

	resp, err := http.Post(ts.URL+"/api/runs/RUN-3/stages/assembly/execute", "application/json", strings.NewReader(`{"version":1}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown stage, got %d", resp.StatusCode)
	}

	if _, err := client.ExecuteStage(context.Background(), "RUN-3", backend.StagePlanning, ""); err != nil {
		t.Fatalf("ExecuteStage: %v", err)
	}
	_, err = client.ExecuteStage(context.Background(), "RUN-3", backend.StagePrompts, "")
	var statusErr *backend.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusConflict {
		t.Fatalf("expected conflict while planning runs, got %v", err)
	}
}

func TestPromptsWithoutPlanFails(t *testing.T) {
	_, client := newServer(t)
	createRun(t, client, "RUN-4")
	if _, err := client.ExecuteStage(context.Background(), "RUN-4", backend.StagePrompts, ""); err != nil {
		t.Fatalf("ExecuteStage: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		status, err := client.RunStatus(context.Background(), "RUN-4")
		if err != nil {
			t.Fatalf("RunStatus: %v", err)
		}
		if strings.HasPrefix(status.StageStatus, "error: ") && status.CurrentStage == "PROMPTS" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected error status, got %+v", status)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestShotJobsAddMediaServedByAssetEndpoint(t *testing.T) {
	_, client := newServer(t)
	ctx := context.Background()
	createRun(t, client, "RUN-5")
	if _, err := client.ExecuteStage(ctx, "RUN-5", backend.StagePlanning, ""); err != nil {
		t.Fatalf("ExecuteStage: %v", err)
	}
	waitForStage(t, client, "RUN-5", "PLANNING")

	ack, err := client.GenerateImages(ctx, "RUN-5", "RUN-5_s001", "")
	if err != nil {
		t.Fatalf("GenerateImages: %v", err)
	}
	if ack.Status != "success" || ack.ShotID != "RUN-5_s001" {
		t.Fatalf("unexpected job ack %+v", ack)
	}
	if _, err := client.GenerateClip(ctx, "RUN-5", "RUN-5_s001", ""); err != nil {
		t.Fatalf("GenerateClip: %v", err)
	}

	var image backend.Asset
	deadline := time.Now().Add(5 * time.Second)
	for {
		shot, err := client.Shot(ctx, "RUN-5", "RUN-5_s001")
		if err != nil {
			t.Fatalf("Shot: %v", err)
		}
		counts := map[string]int{}
		for _, asset := range shot.Assets {
			counts[asset.Type]++
			if asset.Type == backend.AssetImageStart {
				image = asset
			}
		}
		if counts[backend.AssetImageStart] == 1 && counts[backend.AssetImageEnd] == 1 && counts[backend.AssetClip] == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("media never appeared: %v", counts)
		}
		time.Sleep(2 * time.Millisecond)
	}

	resp, err := http.Get(client.AssetURL(image.AssetID, image.URL))
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "RUN-5_s001") {
		t.Fatalf("unexpected asset response %d %q", resp.StatusCode, body)
	}

	if _, err := client.GenerateClip(ctx, "RUN-5", "RUN-5_s999", ""); !backend.IsNotFound(err) {
		t.Fatalf("expected not found for unknown shot, got %v", err)
	}
}

func TestSecondServerOnSameStateDirIsLocked(t *testing.T) {
	dir := t.TempDir()
	first, err := devserver.New(devserver.Options{StateDir: dir, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer first.Close()

	if _, err := devserver.New(devserver.Options{StateDir: dir, Logger: logging.NewNop()}); !errors.Is(err, devserver.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestStoreReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := devserver.OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := store.CreateRun(context.Background(), "RUN-9", 1, "VID_9"); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := devserver.OpenStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	runs, err := reopened.ListRuns(context.Background())
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "RUN-9" {
		t.Fatalf("expected persisted run, got %+v", runs)
	}
	if _, err := reopened.Shot(context.Background(), "RUN-9", 1, "missing"); !errors.Is(err, devserver.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
