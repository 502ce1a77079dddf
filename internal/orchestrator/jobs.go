package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"reelflow/internal/logging"
	"reelflow/internal/poll"
	"reelflow/internal/reconcile"
	"reelflow/internal/services/backend"
)

// Outcome is how a generation job's polling ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	// OutcomeTimedOut means the attempt ceiling was reached; the backend job
	// may still complete.
	OutcomeTimedOut
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeTimedOut:
		return "timed out"
	default:
		return "cancelled"
	}
}

// JobResult reports the end of one generation job.
type JobResult struct {
	Kind    JobKind
	ShotID  string
	Outcome Outcome
	Shot    reconcile.Shot
	Err     error
}

// Job tracks one submitted generation request.
type Job struct {
	Kind   JobKind
	ShotID string
	done   chan JobResult
	once   sync.Once
}

func newJob(kind JobKind, shotID string) *Job {
	return &Job{Kind: kind, ShotID: shotID, done: make(chan JobResult, 1)}
}

// Done yields exactly one result.
func (j *Job) Done() <-chan JobResult { return j.done }

// Wait blocks until the job finishes or ctx is done.
func (j *Job) Wait(ctx context.Context) (JobResult, error) {
	select {
	case res := <-j.done:
		return res, nil
	case <-ctx.Done():
		return JobResult{}, ctx.Err()
	}
}

func (j *Job) finish(res JobResult) {
	j.once.Do(func() {
		res.Kind = j.Kind
		res.ShotID = j.ShotID
		j.done <- res
	})
}

// GenerateImages submits start/end image generation for a shot and polls
// until both new images appear.
func (s *Session) GenerateImages(ctx context.Context, shotID string) (*Job, error) {
	return s.generate(ctx, shotID, JobImages)
}

// GenerateClip submits clip generation for a shot and polls until a new clip
// appears.
func (s *Session) GenerateClip(ctx context.Context, shotID string) (*Job, error) {
	return s.generate(ctx, shotID, JobClip)
}

func (s *Session) generate(ctx context.Context, shotID string, kind JobKind) (*Job, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	key := poll.JobKey(s.runID, shotID)
	s.orch.tasks.Stop(key)

	var baseline map[string]struct{}
	var videoID string
	ok := false
	started := s.mutate(s.ctx, func() {
		var shot reconcile.Shot
		shot, ok = reconcile.Find(s.shots, shotID)
		if !ok {
			return
		}
		videoID = shot.VideoID
		if videoID == "" {
			videoID = s.videoID
		}
		baseline = make(map[string]struct{}, len(shot.Assets))
		for _, asset := range shot.Assets {
			baseline[asset.ID] = struct{}{}
		}
		s.generating[shotID] = kind
	})
	if !started {
		return nil, ErrClosed
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownShot, shotID)
	}

	ctx = logging.WithShot(logging.WithRun(ctx, s.runID), shotID)
	logger := logging.WithContext(ctx, s.logger)

	var err error
	if kind == JobClip {
		_, err = s.orch.api.GenerateClip(ctx, s.runID, shotID, videoID)
	} else {
		_, err = s.orch.api.GenerateImages(ctx, s.runID, shotID, videoID)
	}
	if err != nil {
		s.mutate(s.ctx, func() {
			delete(s.generating, shotID)
			s.noticeLocked(NoticeBlocking, shotID, fmt.Sprintf("Failed to generate %s for %s: %v", kind, shotID, err))
		})
		s.rejected(ctx, "generate-"+string(kind), err)
		return nil, fmt.Errorf("%w: generate %s for %s: %w", ErrStageRejected, kind, shotID, err)
	}
	logger.Info("generation submitted", logging.String("job", string(kind)))

	job := newJob(kind, shotID)
	ready := newAssetsReady(baseline, kind.AssetTypes())
	launched := s.orch.tasks.Start(s.ctx, key, func(ctx context.Context) {
		s.watchJob(logging.WithShot(ctx, shotID), job, ready)
	})
	if !launched {
		job.finish(JobResult{Outcome: OutcomeCancelled, Err: ErrClosed})
	}
	return job, nil
}

func (s *Session) watchJob(ctx context.Context, job *Job, ready func(backend.Shot) bool) {
	shotID := job.ShotID
	poller := &poll.JobPoller[backend.Shot]{
		Name:        string(job.Kind),
		Interval:    s.orch.opts.JobInterval,
		MaxAttempts: s.orch.opts.JobMaxAttempts,
		Logger:      s.orch.opts.Logger,
		Fetch: func(ctx context.Context) (backend.Shot, error) {
			return s.orch.api.Shot(ctx, s.runID, shotID)
		},
		Ready: ready,
	}

	raw, err := poller.Run(ctx)
	switch {
	case err == nil:
		shot := s.reconciler.Shot(raw)
		applied := s.mutate(ctx, func() {
			s.shots = reconcile.Merge(s.shots, shot)
			delete(s.generating, shotID)
			s.views[shotID] = job.Kind
		})
		if !applied {
			job.finish(JobResult{Outcome: OutcomeCancelled, Err: ErrClosed})
			return
		}
		if notifyErr := s.orch.notifier.NotifyJobComplete(ctx, s.runID, shotID, string(job.Kind)); notifyErr != nil {
			s.logger.Warn("job notification failed", logging.Error(notifyErr))
		}
		job.finish(JobResult{Outcome: OutcomeCompleted, Shot: shot})

	case errors.Is(err, poll.ErrTimeout):
		waited := time.Duration(s.orch.opts.JobMaxAttempts) * s.orch.opts.JobInterval
		s.mutate(ctx, func() {
			s.noticeLocked(NoticeWarning, shotID, fmt.Sprintf("%s generation for %s is taking longer than expected; it may still complete. Refresh to check.", job.Kind, shotID))
		})
		if notifyErr := s.orch.notifier.NotifyJobTimeout(ctx, s.runID, shotID, string(job.Kind), waited); notifyErr != nil {
			s.logger.Warn("timeout notification failed", logging.Error(notifyErr))
		}
		job.finish(JobResult{Outcome: OutcomeTimedOut, Err: err})

	default:
		job.finish(JobResult{Outcome: OutcomeCancelled, Err: err})
	}
}

// newAssetsReady reports readiness once the shot carries an asset of every
// expected type that was not present when the job was submitted.
func newAssetsReady(baseline map[string]struct{}, expected []string) func(backend.Shot) bool {
	return func(shot backend.Shot) bool {
		for _, kind := range expected {
			found := false
			for _, asset := range shot.Assets {
				if !asset.IsType(kind) {
					continue
				}
				if _, seen := baseline[asset.AssetID]; !seen {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
}
