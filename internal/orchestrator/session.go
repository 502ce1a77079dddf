package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reelflow/internal/logging"
	"reelflow/internal/pipeline"
	"reelflow/internal/poll"
	"reelflow/internal/reconcile"
	"reelflow/internal/services/backend"
)

const (
	planningCompleteEntry = "Mission planning complete."
	promptsCompleteEntry  = "Prompt synthesis complete."
)

// Session is the live view of one run.
type Session struct {
	orch       *Orchestrator
	runID      string
	logger     *slog.Logger
	reconciler *reconcile.Reconciler

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	videoID     string
	state       pipeline.State
	status      *backend.RunStatus
	log         *poll.MessageLog
	shots       []reconcile.Shot
	generating  map[string]JobKind
	views       map[string]JobKind
	notices     []Notice
	seq         uint64
	closed      bool
	subscribers map[int]chan Snapshot
	nextSub     int
}

func newSession(o *Orchestrator, runID, videoID string) *Session {
	ctx, cancel := context.WithCancel(logging.WithRun(o.ctx, runID))
	return &Session{
		orch:        o,
		runID:       runID,
		videoID:     videoID,
		logger:      logging.WithContext(ctx, logging.NewComponentLogger(o.opts.Logger, "session")),
		reconciler:  reconcile.New(o.opts.Logger),
		ctx:         ctx,
		cancel:      cancel,
		state:       pipeline.Initial(),
		log:         poll.NewMessageLog(o.opts.LogCapacity),
		generating:  make(map[string]JobKind),
		views:       make(map[string]JobKind),
		subscribers: make(map[int]chan Snapshot),
	}
}

// RunID returns the session's run identifier.
func (s *Session) RunID() string { return s.runID }

// VideoID returns the video identifier sent with stage and generation
// requests.
func (s *Session) VideoID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoID
}

// Load fetches the run's status, resolves its stage, loads its shots, and
// resumes the poller the stage requires. When the status cannot be fetched
// the run is treated as planning and the planning poller is started.
func (s *Session) Load(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	ctx = logging.WithRun(ctx, s.runID)

	status, err := s.orch.api.RunStatus(ctx, s.runID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("status unavailable; assuming planning", logging.Error(err))
		videoID := s.lookupVideoID(ctx, nil)
		s.mutate(s.ctx, func() {
			s.state = pipeline.Initial()
			s.status = nil
			s.adoptVideoIDLocked(videoID)
		})
		s.startStatusPoller(backend.StagePlanning)
		return nil
	}

	res := pipeline.Resolve(status)
	shots, shotsErr := s.orch.api.Shots(ctx, s.runID)
	if shotsErr != nil {
		s.logger.Warn("shots unavailable during load", logging.Error(shotsErr))
	}
	videoID := s.lookupVideoID(ctx, shots)

	s.mutate(s.ctx, func() {
		s.state = pipeline.FromResolution(res)
		s.status = &status
		s.adoptVideoIDLocked(videoID)
		s.log.Append(status.ProgressMessage)
		if shotsErr == nil {
			s.shots = s.reconciler.Shots(shots)
		}
		if res.Failed() {
			s.noticeLocked(NoticeBlocking, "", fmt.Sprintf("%s stage failed: %s", pipeline.NormalizeStage(status.CurrentStage), res.Failure))
		}
	})
	s.logger.Info("run loaded",
		logging.String(logging.FieldStage, res.Stage.String()),
		logging.Bool("planning_complete", res.PlanningComplete),
		logging.String("resume", res.Resume))

	if res.Resume != "" {
		s.startStatusPoller(res.Resume)
	}
	return nil
}

// ConfirmPlan approves a completed plan and starts prompt synthesis. If the
// backend rejects the stage the session returns to awaiting confirmation with
// a blocking notice and no poller is started.
func (s *Session) ConfirmPlan(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	next, err := s.state.Confirm()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	videoID := s.videoID
	s.publishLocked()
	s.mu.Unlock()

	s.orch.tasks.Stop(poll.StatusKey(s.runID))

	ctx = logging.WithStage(logging.WithRun(ctx, s.runID), backend.StagePrompts)
	if _, err := s.orch.api.ExecuteStage(ctx, s.runID, backend.StagePrompts, videoID); err != nil {
		s.mutate(s.ctx, func() {
			s.state = s.state.RevertConfirm(err.Error())
			s.noticeLocked(NoticeBlocking, "", "Failed to start prompting stage: "+err.Error())
		})
		s.rejected(ctx, backend.StagePrompts, err)
		return fmt.Errorf("%w: start prompts: %w", ErrStageRejected, err)
	}
	s.logger.Info("prompt synthesis started")
	s.startStatusPoller(backend.StagePrompts)
	return nil
}

// RefreshShots reloads every shot and clears generation flags for shots whose
// job poller is no longer running.
func (s *Session) RefreshShots(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	shots, err := s.orch.api.Shots(logging.WithRun(ctx, s.runID), s.runID)
	if err != nil {
		return fmt.Errorf("refresh shots: %w", err)
	}
	active := make(map[string]bool)
	for shotID := range s.Snapshot().Generating {
		active[shotID] = s.JobActive(shotID)
	}
	reconciled := s.reconciler.Shots(shots)
	s.mutate(s.ctx, func() {
		s.shots = reconciled
		for shotID := range s.generating {
			if !active[shotID] {
				delete(s.generating, shotID)
			}
		}
	})
	return nil
}

// JobActive reports whether a job poller is still running for shotID.
func (s *Session) JobActive(shotID string) bool {
	return s.orch.tasks.Active(poll.JobKey(s.runID, shotID))
}

// Snapshot returns a copy of the view model.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that receives the latest snapshot after every
// change, starting with the current one. Slow readers only see the most
// recent snapshot. The channel is closed by cancel or when the session closes.
func (s *Session) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Snapshot, 1)
	if s.closed {
		ch <- s.snapshotLocked()
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if existing, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(existing)
			}
		})
	}
}

// DismissNotices clears operator notices.
func (s *Session) DismissNotices() {
	s.mutate(s.ctx, func() { s.notices = nil })
}

// Close stops the session's pollers and closes subscriber channels.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.cancel()
	s.orch.tasks.Stop(poll.StatusKey(s.runID))
	s.orch.tasks.StopPrefix(poll.RunPrefix(s.runID))

	s.mu.Lock()
	s.closed = true
	s.seq++
	final := s.snapshotLocked()
	for id, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- final
		close(ch)
		delete(s.subscribers, id)
	}
	s.mu.Unlock()
	s.orch.forget(s.runID, s)
}

func (s *Session) startPlanning(ctx context.Context) {
	ctx = logging.WithStage(ctx, backend.StagePlanning)
	if _, err := s.orch.api.ExecuteStage(ctx, s.runID, backend.StagePlanning, s.VideoID()); err != nil {
		s.mutate(s.ctx, func() {
			s.state = pipeline.State{Stage: pipeline.StagePlanning, Failure: err.Error()}
			s.noticeLocked(NoticeBlocking, "", "Failed to start planning stage: "+err.Error())
		})
		s.rejected(ctx, backend.StagePlanning, err)
		return
	}
	s.startStatusPoller(backend.StagePlanning)
}

func (s *Session) startStatusPoller(target string) {
	s.orch.tasks.Start(s.ctx, poll.StatusKey(s.runID), func(ctx context.Context) {
		s.watchStage(ctx, target)
	})
}

func (s *Session) watchStage(ctx context.Context, target string) {
	ctx = logging.WithStage(ctx, target)
	poller := &poll.StatusPoller{
		Fetcher:  s.orch.api,
		RunID:    s.runID,
		Target:   target,
		Interval: s.orch.opts.StatusInterval,
		Logger:   s.orch.opts.Logger,
		OnMessage: func(msg string) {
			s.mutate(ctx, func() { s.log.Append(msg) })
		},
		OnStatus: func(status backend.RunStatus) {
			s.mutate(ctx, func() {
				s.status = &status
				s.state = s.state.Observe(status)
			})
		},
	}

	status, err := poller.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		reason, _ := pipeline.Failure(status)
		s.mutate(ctx, func() {
			s.status = &status
			s.state = s.state.Observe(status)
			s.noticeLocked(NoticeBlocking, "", fmt.Sprintf("%s stage failed: %s", target, reason))
		})
		s.rejected(ctx, target, err)
		return
	}

	// Reload shots before publishing the completed stage.
	shots, shotsErr := s.orch.api.Shots(ctx, s.runID)
	if shotsErr != nil && ctx.Err() == nil {
		s.logger.Warn("shot refresh after stage completion failed", logging.Error(shotsErr))
	}
	var reconciled []reconcile.Shot
	if shotsErr == nil {
		reconciled = s.reconciler.Shots(shots)
	}

	applied := s.mutate(ctx, func() {
		s.status = &status
		if pipeline.NormalizeStage(status.CurrentStage) == target {
			s.state = s.state.Complete(target)
		} else {
			s.state = s.state.Observe(status)
		}
		if shotsErr == nil {
			s.shots = reconciled
			s.adoptVideoIDLocked(shotsVideoID(shots))
		} else {
			s.noticeLocked(NoticeWarning, "", "Shots could not be reloaded; refresh to retry")
		}
		switch target {
		case backend.StagePlanning:
			s.log.Append(planningCompleteEntry)
		case backend.StagePrompts:
			s.log.Append(promptsCompleteEntry)
		}
	})
	if !applied {
		return
	}
	s.logger.Info("stage complete", logging.Int("shots", len(reconciled)))

	var notifyErr error
	switch target {
	case backend.StagePlanning:
		notifyErr = s.orch.notifier.NotifyPlanningComplete(ctx, s.runID, len(reconciled))
	case backend.StagePrompts:
		notifyErr = s.orch.notifier.NotifyPromptsReady(ctx, s.runID)
	}
	if notifyErr != nil {
		s.logger.Warn("stage notification failed", logging.Error(notifyErr))
	}

	// The backend may already be running a later stage, for example prompts
	// started by another client while planning was being watched.
	if res := pipeline.Resolve(status); res.Resume != "" && res.Resume != target {
		s.logger.Info("backend moved to a later stage; following it",
			logging.String("resume", res.Resume))
		s.watchStage(ctx, res.Resume)
	}
}

// lookupVideoID finds the run's video id from its shots, falling back to the
// run listing. It returns "" when neither names one.
func (s *Session) lookupVideoID(ctx context.Context, shots []backend.Shot) string {
	if id := shotsVideoID(shots); id != "" {
		return id
	}
	if run, ok := s.orch.registry.Select(s.runID); ok && run.VideoID != "" {
		return run.VideoID
	}
	if err := s.orch.registry.Refresh(ctx); err != nil {
		s.logger.Warn("run listing unavailable; keeping default video id", logging.Error(err))
		return ""
	}
	if run, ok := s.orch.registry.Select(s.runID); ok {
		return strings.TrimSpace(run.VideoID)
	}
	return ""
}

func (s *Session) adoptVideoIDLocked(id string) {
	if id = strings.TrimSpace(id); id != "" && id != s.videoID {
		s.logger.Debug("adopting video id", logging.String("video_id", id))
		s.videoID = id
	}
}

func shotsVideoID(shots []backend.Shot) string {
	for _, shot := range shots {
		if id := strings.TrimSpace(shot.VideoID); id != "" {
			return id
		}
	}
	return ""
}

func (s *Session) rejected(ctx context.Context, stage string, err error) {
	s.logger.Error("stage rejected",
		logging.String(logging.FieldStage, stage),
		logging.Error(err))
	if notifyErr := s.orch.notifier.NotifyStageRejected(context.WithoutCancel(ctx), s.runID, stage, err); notifyErr != nil {
		s.logger.Warn("rejection notification failed", logging.Error(notifyErr))
	}
}

// mutate applies fn under the session lock unless ctx is done or the session
// is closed, then publishes a snapshot. It reports whether fn ran.
func (s *Session) mutate(ctx context.Context, fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || ctx.Err() != nil {
		return false
	}
	fn()
	s.publishLocked()
	return true
}

func (s *Session) noticeLocked(level NoticeLevel, shotID, message string) {
	s.notices = append(s.notices, Notice{Level: level, Message: message, ShotID: shotID, At: time.Now()})
	if len(s.notices) > maxNotices {
		s.notices = append([]Notice(nil), s.notices[len(s.notices)-maxNotices:]...)
	}
}

func (s *Session) publishLocked() {
	s.seq++
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		RunID:      s.runID,
		VideoID:    s.videoID,
		State:      s.state,
		Log:        s.log.Entries(),
		LogTotal:   s.log.Total(),
		Shots:      append([]reconcile.Shot(nil), s.shots...),
		Generating: make(map[string]JobKind, len(s.generating)),
		Views:      make(map[string]JobKind, len(s.views)),
		Notices:    append([]Notice(nil), s.notices...),
		Closed:     s.closed,
		Seq:        s.seq,
	}
	if s.status != nil {
		status := *s.status
		snap.Status = &status
	}
	for k, v := range s.generating {
		snap.Generating[k] = v
	}
	for k, v := range s.views {
		snap.Views[k] = v
	}
	return snap
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
