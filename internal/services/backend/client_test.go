package backend_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reelflow/internal/services/backend"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *backend.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return backend.NewClient(backend.Config{BaseURL: server.URL + "/", Version: 2, VideoID: "VID_042"})
}

func TestRunStatusSendsVersionAndDecodes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/runs/RUN-1/status" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("version"); got != "2" {
			t.Fatalf("expected version=2, got %q", got)
		}
		_, _ = io.WriteString(w, `{"current_stage":"PLANNING","stage_status":"running","progress_current":1,"progress_total":4,"progress_message":"Segmenting beats"}`)
	})

	status, err := client.RunStatus(context.Background(), "RUN-1")
	if err != nil {
		t.Fatalf("RunStatus returned error: %v", err)
	}
	if status.CurrentStage != "PLANNING" || status.StageStatus != "running" {
		t.Fatalf("unexpected status: %+v", status)
	}
	if status.ProgressTotal == nil || *status.ProgressTotal != 4 {
		t.Fatalf("expected progress total 4, got %v", status.ProgressTotal)
	}
	if status.ProgressMessage != "Segmenting beats" {
		t.Fatalf("unexpected message %q", status.ProgressMessage)
	}
}

func TestNon2xxReturnsStatusError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"Shot not found"}`, http.StatusNotFound)
	})

	_, err := client.Shot(context.Background(), "RUN-1", "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if !backend.IsNotFound(err) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if !strings.Contains(err.Error(), "Shot not found") {
		t.Fatalf("expected body in error, got %v", err)
	}
}

func TestShotsKeepsRawCameraAndMetadata(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"shot_id":"s1","run_id":"RUN-1","version":2,"script_text":"x","intent":"y",
			"camera_config":"{\"movement\":\"dolly\"}","duration_s":null,"status":"PLANNED",
			"assets":[{"asset_id":"a1","shot_id":"s1","type":"PROMPT","role":"start_ref","metadata":"{\"prompt\":\"hi\"}","is_selected":false}]}]`)
	})

	shots, err := client.Shots(context.Background(), "RUN-1")
	if err != nil {
		t.Fatalf("Shots returned error: %v", err)
	}
	if len(shots) != 1 {
		t.Fatalf("expected one shot, got %d", len(shots))
	}
	shot := shots[0]
	if shot.DurationS != nil {
		t.Fatalf("expected nil duration, got %v", *shot.DurationS)
	}
	var camera string
	if err := json.Unmarshal(shot.CameraConfig, &camera); err != nil {
		t.Fatalf("camera config should stay a raw JSON string: %v", err)
	}
	if len(shot.Assets) != 1 || !shot.Assets[0].IsType("prompt") {
		t.Fatalf("unexpected assets: %+v", shot.Assets)
	}
}

func TestCreateRunSendsMultipartForm(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/runs/create" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("run_id"); got != "RUN-9" {
			t.Fatalf("run_id = %q", got)
		}
		if got := r.FormValue("video_id"); got != "VID_042" {
			t.Fatalf("video_id = %q", got)
		}
		if got := r.FormValue("version"); got != "2" {
			t.Fatalf("version = %q", got)
		}
		for _, field := range []string{"script", "style_bible", "voiceover"} {
			file, header, err := r.FormFile(field)
			if err != nil {
				t.Fatalf("missing file %s: %v", field, err)
			}
			data, _ := io.ReadAll(file)
			file.Close()
			if len(data) == 0 || header.Filename == "" {
				t.Fatalf("empty upload for %s", field)
			}
		}
		_, _ = io.WriteString(w, `{"status":"created","run_id":"RUN-9","version":2}`)
	})

	ack, err := client.CreateRun(context.Background(), backend.CreateRunRequest{
		RunID:      "RUN-9",
		Script:     backend.Upload{Filename: "script.txt", Content: []byte("script")},
		StyleBible: backend.Upload{Content: []byte("bible")},
		Voiceover:  backend.Upload{Content: []byte("mp3")},
	})
	if err != nil {
		t.Fatalf("CreateRun returned error: %v", err)
	}
	if ack.Status != "created" || ack.RunID != "RUN-9" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestExecuteStagePostsJSONBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/runs/RUN-1/stages/prompts/execute" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["video_id"] != "VID_042" || body["version"] != float64(2) {
			t.Fatalf("unexpected body: %v", body)
		}
		_, _ = io.WriteString(w, `{"status":"running","stage":"prompts"}`)
	})

	ack, err := client.ExecuteStage(context.Background(), "RUN-1", "Prompts", "")
	if err != nil {
		t.Fatalf("ExecuteStage returned error: %v", err)
	}
	if ack.Stage != "prompts" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if _, err := client.ExecuteStage(context.Background(), "RUN-1", "assembly", ""); err == nil {
		t.Fatal("expected unsupported stage error")
	}
}

func TestGenerateEndpointsUseQueryParameters(t *testing.T) {
	var paths []string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Query().Get("version") != "2" {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		wantVideo := "VID_042"
		if strings.HasSuffix(r.URL.Path, "generate-clips") {
			wantVideo = "VID_777"
		}
		if r.URL.Query().Get("video_id") != wantVideo {
			t.Fatalf("unexpected query %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"status":"success","shot_id":"s1","message":"ok"}`)
	})

	if _, err := client.GenerateImages(context.Background(), "RUN-1", "s1", ""); err != nil {
		t.Fatalf("GenerateImages: %v", err)
	}
	if _, err := client.GenerateClip(context.Background(), "RUN-1", "s1", "VID_777"); err != nil {
		t.Fatalf("GenerateClip: %v", err)
	}
	want := []string{"/api/runs/RUN-1/shots/s1/generate-images", "/api/runs/RUN-1/shots/s1/generate-clips"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestAssetURL(t *testing.T) {
	client := backend.NewClient(backend.Config{BaseURL: "http://api.local:8000/"})
	tests := []struct {
		id, ref, want string
	}{
		{"a1", "", "http://api.local:8000/api/assets/a1/file"},
		{"a1", "/api/assets/a1/file", "http://api.local:8000/api/assets/a1/file"},
		{"a1", "https://cdn.example/clip.mp4", "https://cdn.example/clip.mp4"},
	}
	for _, tt := range tests {
		if got := client.AssetURL(tt.id, tt.ref); got != tt.want {
			t.Fatalf("AssetURL(%q, %q) = %q, want %q", tt.id, tt.ref, got, tt.want)
		}
	}
}
