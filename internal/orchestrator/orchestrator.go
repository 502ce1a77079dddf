package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelflow/internal/config"
	"reelflow/internal/logging"
	"reelflow/internal/notifications"
	"reelflow/internal/poll"
	"reelflow/internal/registry"
	"reelflow/internal/services/backend"
)

// Backend is the subset of the backend API the orchestrator consumes.
type Backend interface {
	ListRuns(ctx context.Context) ([]backend.RunSummary, error)
	RunStatus(ctx context.Context, runID string) (backend.RunStatus, error)
	Shots(ctx context.Context, runID string) ([]backend.Shot, error)
	Shot(ctx context.Context, runID, shotID string) (backend.Shot, error)
	CreateRun(ctx context.Context, req backend.CreateRunRequest) (backend.Ack, error)
	ExecuteStage(ctx context.Context, runID, stage, videoID string) (backend.Ack, error)
	GenerateImages(ctx context.Context, runID, shotID, videoID string) (backend.Ack, error)
	GenerateClip(ctx context.Context, runID, shotID, videoID string) (backend.Ack, error)
}

// Options tunes polling and wiring.
type Options struct {
	StatusInterval time.Duration
	JobInterval    time.Duration
	JobMaxAttempts int
	LogCapacity    int
	VideoID        string
	Notifier       notifications.Service
	Logger         *slog.Logger
}

// OptionsFromConfig derives options from application configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	if cfg == nil {
		defaults := config.Default()
		cfg = &defaults
	}
	return Options{
		StatusInterval: cfg.StatusInterval(),
		JobInterval:    cfg.JobInterval(),
		JobMaxAttempts: cfg.Polling.JobMaxAttempts,
		LogCapacity:    cfg.Polling.LogCapacity,
		VideoID:        cfg.Backend.VideoID,
		Notifier:       notifications.NewService(cfg),
	}
}

// Orchestrator coordinates the run registry and per-run sessions.
type Orchestrator struct {
	api      Backend
	opts     Options
	registry *registry.Registry
	tasks    *poll.Tasks
	notifier notifications.Service
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// New constructs an orchestrator around api.
func New(api Backend, opts Options) *Orchestrator {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = poll.DefaultStatusInterval
	}
	if opts.JobInterval <= 0 {
		opts.JobInterval = poll.DefaultJobInterval
	}
	if opts.JobMaxAttempts <= 0 {
		opts.JobMaxAttempts = poll.DefaultJobAttempts
	}
	if opts.LogCapacity <= 0 {
		opts.LogCapacity = poll.DefaultLogCapacity
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewService(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		api:      api,
		opts:     opts,
		registry: registry.New(api, opts.Logger),
		tasks:    poll.NewTasks(opts.Logger),
		notifier: notifier,
		logger:   logging.NewComponentLogger(opts.Logger, "orchestrator"),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// CreateRunInput describes a new run. RunID and VideoID are generated when
// empty; Name defaults to the video ID.
type CreateRunInput struct {
	RunID      string
	VideoID    string
	Name       string
	Script     backend.Upload
	StyleBible backend.Upload
	Voiceover  backend.Upload
}

// CreateRun registers the run locally, uploads its materials, and starts the
// planning stage. The run appears in Runs as Pending before the backend
// responds and is marked Rejected if the upload fails. A rejected planning
// start does not fail CreateRun: the returned session carries a blocking
// notice and no poller is started.
func (o *Orchestrator) CreateRun(ctx context.Context, in CreateRunInput) (*Session, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}
	runID := strings.TrimSpace(in.RunID)
	if runID == "" {
		runID = NewRunID()
	}
	videoID := strings.TrimSpace(in.VideoID)
	if videoID == "" {
		videoID = NewVideoID()
	}

	o.registry.Create(registry.Run{ID: runID, Name: in.Name, VideoID: videoID, Version: 1})

	ctx = logging.WithRun(ctx, runID)
	logger := logging.WithContext(ctx, o.logger)
	_, err := o.api.CreateRun(ctx, backend.CreateRunRequest{
		RunID:      runID,
		VideoID:    videoID,
		Script:     in.Script,
		StyleBible: in.StyleBible,
		Voiceover:  in.Voiceover,
	})
	if err != nil {
		_ = o.registry.Reject(runID, err)
		logger.Error("run creation rejected", logging.Error(err))
		return nil, fmt.Errorf("create run %s: %w", runID, err)
	}
	logger.Info("run created", logging.String("video_id", videoID))

	sess, err := o.session(runID, videoID)
	if err != nil {
		return nil, err
	}
	sess.startPlanning(ctx)
	return sess, nil
}

// Runs returns the dashboard list.
func (o *Orchestrator) Runs() []registry.Run {
	return o.registry.Runs()
}

// RefreshRuns reloads the dashboard list from the backend.
func (o *Orchestrator) RefreshRuns(ctx context.Context) error {
	if o.isClosed() {
		return ErrClosed
	}
	return o.registry.Refresh(ctx)
}

// Open returns the session for runID, loading it on first use.
func (o *Orchestrator) Open(ctx context.Context, runID string) (*Session, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("open run: run id required")
	}
	o.mu.Lock()
	existing := o.sessions[runID]
	o.mu.Unlock()
	if existing != nil {
		return existing, nil
	}

	videoID := o.opts.VideoID
	if run, ok := o.registry.Select(runID); ok && run.VideoID != "" {
		videoID = run.VideoID
	}
	sess, err := o.session(runID, videoID)
	if err != nil {
		return nil, err
	}
	if err := sess.Load(ctx); err != nil {
		return nil, err
	}
	return sess, nil
}

// Close stops every poller and closes all sessions.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	sessions := make([]*Session, 0, len(o.sessions))
	for _, sess := range o.sessions {
		sessions = append(sessions, sess)
	}
	o.mu.Unlock()

	o.cancel()
	o.tasks.Close()
	for _, sess := range sessions {
		sess.Close()
	}
}

// Registry exposes the run registry.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Orchestrator) session(runID, videoID string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}
	if sess, ok := o.sessions[runID]; ok {
		return sess, nil
	}
	sess := newSession(o, runID, videoID)
	o.sessions[runID] = sess
	return sess, nil
}

func (o *Orchestrator) forget(runID string, sess *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions[runID] == sess {
		delete(o.sessions, runID)
	}
}

// NewRunID generates a run identifier.
func NewRunID() string {
	return "RUN-" + strings.ToUpper(uuid.NewString()[:8])
}

// NewVideoID generates a video identifier.
func NewVideoID() string {
	return "VID_" + strings.ToUpper(uuid.NewString()[:8])
}
