package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reelflow/internal/config"
	"reelflow/internal/notifications"
)

type captured struct {
	title    string
	tags     string
	priority string
	body     string
}

func newCaptureServer(t *testing.T) (*httptest.Server, *[]captured) {
	t.Helper()
	var got []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got = append(got, captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		})
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server, &got
}

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.NotifyPromptsReady(context.Background(), "RUN-1"); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).TestNotification(context.Background()); err != nil {
		t.Fatalf("expected noop notifier for nil config, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	server, got := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	ctx := context.Background()

	tests := []struct {
		name         string
		send         func() error
		wantTitle    string
		wantBody     string
		wantTags     string
		wantPriority string
	}{
		{
			name:      "planning complete",
			send:      func() error { return svc.NotifyPlanningComplete(ctx, "RUN-1", 4) },
			wantTitle: "reelflow - Planning Complete",
			wantBody:  "📝 Plan ready for review: RUN-1 (4 shots)",
			wantTags:  "reelflow,planning,completed",
		},
		{
			name:      "prompts ready",
			send:      func() error { return svc.NotifyPromptsReady(ctx, "RUN-1") },
			wantTitle: "reelflow - Prompts Ready",
			wantBody:  "✅ Prompts ready: RUN-1",
			wantTags:  "reelflow,prompts,completed",
		},
		{
			name:      "clip complete",
			send:      func() error { return svc.NotifyJobComplete(ctx, "RUN-1", "s1", "clip") },
			wantTitle: "reelflow - Generation Complete",
			wantBody:  "🎞️ Clip ready: RUN-1 / s1",
			wantTags:  "reelflow,generate,clip",
		},
		{
			name:      "job timeout",
			send:      func() error { return svc.NotifyJobTimeout(ctx, "RUN-1", "s1", "images", 180*time.Second) },
			wantTitle: "reelflow - Generation Still Running",
			wantBody:  "⏳ Images for RUN-1 / s1 not ready after 3m0s; it may still complete",
			wantTags:  "reelflow,generate,timeout",
		},
		{
			name:         "stage rejected",
			send:         func() error { return svc.NotifyStageRejected(ctx, "RUN-1", "prompts", errors.New("http 500")) },
			wantTitle:    "reelflow - Error",
			wantBody:     "❌ prompts rejected for RUN-1: http 500",
			wantTags:     "reelflow,error,alert",
			wantPriority: "high",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(*got)
			if err := tt.send(); err != nil {
				t.Fatalf("send returned error: %v", err)
			}
			if len(*got) != before+1 {
				t.Fatalf("expected one request, got %d", len(*got)-before)
			}
			last := (*got)[len(*got)-1]
			if last.title != tt.wantTitle || last.body != tt.wantBody || last.tags != tt.wantTags || last.priority != tt.wantPriority {
				t.Fatalf("unexpected payload %+v", last)
			}
		})
	}
}

func TestNtfyServiceHonorsToggles(t *testing.T) {
	server, got := newCaptureServer(t)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Stages = false
	cfg.Notifications.Jobs = false
	svc := notifications.NewService(&cfg)

	_ = svc.NotifyPlanningComplete(context.Background(), "RUN-1", 1)
	_ = svc.NotifyJobComplete(context.Background(), "RUN-1", "s1", "clip")
	if len(*got) != 0 {
		t.Fatalf("expected disabled notifications to be skipped, got %d", len(*got))
	}
	if err := svc.TestNotification(context.Background()); err != nil {
		t.Fatalf("TestNotification: %v", err)
	}
	if len(*got) != 1 || !strings.Contains((*got)[0].body, "test") {
		t.Fatalf("expected test notification, got %+v", *got)
	}
}

func TestNtfyServiceReportsHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	err := notifications.NewService(&cfg).TestNotification(context.Background())
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
