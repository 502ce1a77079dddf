package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"reelflow/internal/logging"
	"reelflow/internal/pipeline"
	"reelflow/internal/services/backend"
)

// DefaultStatusInterval is the Status Poller period when none is configured.
const DefaultStatusInterval = 2 * time.Second

// ErrStageFailed is returned when the backend marks the awaited stage failed.
var ErrStageFailed = errors.New("stage failed")

// StatusFetcher fetches a run's stage record.
type StatusFetcher interface {
	RunStatus(ctx context.Context, runID string) (backend.RunStatus, error)
}

// StatusPoller watches one run until Target completes.
type StatusPoller struct {
	Fetcher  StatusFetcher
	RunID    string
	Target   string
	Interval time.Duration
	Logger   *slog.Logger

	// OnStatus is called after every successful fetch that did not complete
	// the stage.
	OnStatus func(backend.RunStatus)
	// OnMessage is called when a fetch carries a progress message different
	// from the last one observed by this poller.
	OnMessage func(string)
}

// Run ticks until Target is reached, the stage fails, or ctx is cancelled.
// The ticker is stopped before Run returns, so completion is observed exactly
// once. Fetch errors are logged and the loop keeps ticking.
func (p *StatusPoller) Run(ctx context.Context) (backend.RunStatus, error) {
	var last backend.RunStatus
	if p.Fetcher == nil {
		return last, errors.New("status poller: fetcher required")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	target := pipeline.NormalizeStage(p.Target)
	ctx = logging.WithStage(logging.WithRun(ctx, p.RunID), target)
	logger := logging.WithContext(ctx, logging.NewComponentLogger(p.Logger, "status-poller"))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMessage string
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
		attempt++

		status, err := p.Fetcher.RunStatus(ctx, p.RunID)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			logger.Warn("status fetch failed; continuing",
				logging.Int(logging.FieldAttempt, attempt),
				logging.Error(err))
			continue
		}
		last = status

		if msg := strings.TrimSpace(status.ProgressMessage); msg != "" && msg != lastMessage {
			lastMessage = msg
			if p.OnMessage != nil {
				p.OnMessage(msg)
			}
		}

		if pipeline.Reached(status, target) {
			logger.Debug("stage complete",
				logging.String("current_stage", status.CurrentStage),
				logging.Int(logging.FieldAttempt, attempt))
			return status, nil
		}
		if pipeline.NormalizeStage(status.CurrentStage) == target {
			if reason, failed := pipeline.Failure(status); failed {
				logger.Error("stage failed", logging.String("reason", reason))
				return status, fmt.Errorf("%w: %s: %s", ErrStageFailed, target, reason)
			}
		}
		if p.OnStatus != nil {
			p.OnStatus(status)
		}
	}
}
