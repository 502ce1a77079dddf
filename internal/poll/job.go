package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reelflow/internal/logging"
)

const (
	// DefaultJobInterval is the Job Poller period when none is configured.
	DefaultJobInterval = 3 * time.Second
	// DefaultJobAttempts is the Job Poller attempt ceiling when none is configured.
	DefaultJobAttempts = 60
)

// ErrTimeout is returned when a Job Poller reaches its attempt ceiling. The
// remote job is not assumed cancelled and may still complete.
var ErrTimeout = errors.New("job poll timed out")

// JobPoller fetches one entity on a fixed period until Ready accepts it or
// MaxAttempts fetches have been made. Failed fetches count as attempts.
type JobPoller[T any] struct {
	Name        string
	Interval    time.Duration
	MaxAttempts int
	Fetch       func(ctx context.Context) (T, error)
	Ready       func(T) bool
	Logger      *slog.Logger
}

// Run blocks until the entity is ready, the ceiling is reached, or ctx is
// cancelled. On timeout the last successfully fetched value is returned with
// ErrTimeout.
func (p *JobPoller[T]) Run(ctx context.Context) (T, error) {
	var last T
	if p.Fetch == nil || p.Ready == nil {
		return last, errors.New("job poller: fetch and ready functions required")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultJobInterval
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultJobAttempts
	}
	logger := logging.WithContext(ctx, logging.NewComponentLogger(p.Logger, "job-poller"))
	if p.Name != "" {
		logger = logger.With(logging.String("job", p.Name))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}

		value, err := p.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			logger.Warn("job fetch failed; continuing",
				logging.Int(logging.FieldAttempt, attempt),
				logging.Error(err))
			continue
		}
		last = value
		if p.Ready(value) {
			logger.Debug("job ready", logging.Int(logging.FieldAttempt, attempt))
			return value, nil
		}
	}

	logger.Warn("job did not complete before attempt ceiling",
		logging.Int(logging.FieldAttempt, maxAttempts),
		logging.Alert("job_timeout"))
	return last, fmt.Errorf("%w after %d attempts", ErrTimeout, maxAttempts)
}
