package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelflow/internal/config"
)

const userAgent = "reelflow/0.1.0"

// Service defines the notification surface exposed to the orchestrator.
type Service interface {
	NotifyPlanningComplete(ctx context.Context, runID string, shots int) error
	NotifyPromptsReady(ctx context.Context, runID string) error
	NotifyJobComplete(ctx context.Context, runID, shotID, kind string) error
	NotifyJobTimeout(ctx context.Context, runID, shotID, kind string, waited time.Duration) error
	NotifyStageRejected(ctx context.Context, runID, stage string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		stages:   cfg.Notifications.Stages,
		jobs:     cfg.Notifications.Jobs,
		errors:   cfg.Notifications.Errors,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	stages   bool
	jobs     bool
	errors   bool
}

func (n *ntfyService) NotifyPlanningComplete(ctx context.Context, runID string, shots int) error {
	if !n.stages {
		return nil
	}
	message := fmt.Sprintf("📝 Plan ready for review: %s", strings.TrimSpace(runID))
	if shots > 0 {
		message = fmt.Sprintf("%s (%d shots)", message, shots)
	}
	return n.send(ctx, payload{
		title:   "reelflow - Planning Complete",
		message: message,
		tags:    []string{"reelflow", "planning", "completed"},
	})
}

func (n *ntfyService) NotifyPromptsReady(ctx context.Context, runID string) error {
	if !n.stages {
		return nil
	}
	return n.send(ctx, payload{
		title:   "reelflow - Prompts Ready",
		message: fmt.Sprintf("✅ Prompts ready: %s", strings.TrimSpace(runID)),
		tags:    []string{"reelflow", "prompts", "completed"},
	})
}

func (n *ntfyService) NotifyJobComplete(ctx context.Context, runID, shotID, kind string) error {
	if !n.jobs {
		return nil
	}
	return n.send(ctx, payload{
		title:   "reelflow - Generation Complete",
		message: fmt.Sprintf("🎞️ %s ready: %s / %s", jobLabel(kind), strings.TrimSpace(runID), strings.TrimSpace(shotID)),
		tags:    []string{"reelflow", "generate", strings.ToLower(strings.TrimSpace(kind))},
	})
}

func (n *ntfyService) NotifyJobTimeout(ctx context.Context, runID, shotID, kind string, waited time.Duration) error {
	if !n.jobs {
		return nil
	}
	waited = waited.Round(time.Second)
	if waited < 0 {
		waited = 0
	}
	return n.send(ctx, payload{
		title: "reelflow - Generation Still Running",
		message: fmt.Sprintf("⏳ %s for %s / %s not ready after %s; it may still complete",
			jobLabel(kind), strings.TrimSpace(runID), strings.TrimSpace(shotID), waited),
		tags: []string{"reelflow", "generate", "timeout"},
	})
}

func (n *ntfyService) NotifyStageRejected(ctx context.Context, runID, stage string, err error) error {
	if !n.errors {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ ")
	builder.WriteString(strings.TrimSpace(stage))
	builder.WriteString(" rejected for ")
	builder.WriteString(strings.TrimSpace(runID))
	builder.WriteString(": ")
	if err != nil {
		builder.WriteString(strings.TrimSpace(err.Error()))
	} else {
		builder.WriteString("unknown")
	}
	return n.send(ctx, payload{
		title:    "reelflow - Error",
		message:  builder.String(),
		tags:     []string{"reelflow", "error", "alert"},
		priority: "high",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "reelflow - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"reelflow", "test"},
		priority: "low",
	})
}

func jobLabel(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "images":
		return "Images"
	case "clip":
		return "Clip"
	default:
		return "Job"
	}
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyPlanningComplete(context.Context, string, int) error                     { return nil }
func (noopService) NotifyPromptsReady(context.Context, string) error                              { return nil }
func (noopService) NotifyJobComplete(context.Context, string, string, string) error               { return nil }
func (noopService) NotifyJobTimeout(context.Context, string, string, string, time.Duration) error { return nil }
func (noopService) NotifyStageRejected(context.Context, string, string, error) error              { return nil }
func (noopService) TestNotification(context.Context) error                                        { return nil }
