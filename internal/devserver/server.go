package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"reelflow/internal/config"
	"reelflow/internal/logging"
)

// ErrLocked is returned when another dev server owns the state directory.
var ErrLocked = errors.New("state directory is in use by another devserver")

const (
	databaseName = "devserver.db"
	lockName     = "devserver.lock"
)

// Options configures the simulated backend.
type Options struct {
	StateDir    string
	StepDelay   time.Duration
	ShotsPerRun int
	Logger      *slog.Logger
}

// OptionsFromConfig derives dev server options from application config.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		StateDir:    cfg.Paths.StateDir,
		StepDelay:   cfg.StepDelay(),
		ShotsPerRun: cfg.DevServer.ShotsPerRun,
		Logger:      logger,
	}
}

// Server is a local stand-in for the pipeline backend.
type Server struct {
	opts   Options
	store  *Store
	lock   *flock.Flock
	logger *slog.Logger
	newID  func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active map[string]string
	closed bool
}

// New opens the state directory, takes its lock, and opens the store.
func New(opts Options) (*Server, error) {
	if opts.StateDir == "" {
		return nil, errors.New("devserver: state dir required")
	}
	if opts.ShotsPerRun <= 0 {
		opts.ShotsPerRun = 3
	}
	if opts.StepDelay < 0 {
		opts.StepDelay = 0
	}
	if err := os.MkdirAll(opts.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}

	lock := flock.New(filepath.Join(opts.StateDir, lockName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, opts.StateDir)
	}

	store, err := OpenStore(filepath.Join(opts.StateDir, databaseName))
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:   opts,
		store:  store,
		lock:   lock,
		logger: logging.NewComponentLogger(opts.Logger, "devserver"),
		newID:  uuid.NewString,
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]string),
	}, nil
}

// Store exposes the underlying store.
func (s *Server) Store() *Store { return s.store }

// ListenAndServe serves the API on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves the API on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()
	s.logger.Info("devserver listening",
		logging.String("addr", listener.Addr().String()),
		logging.String("state_dir", s.opts.StateDir))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Wait blocks until all simulated work has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close stops simulated work, closes the store, and releases the lock.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	err := s.store.Close()
	if unlockErr := s.lock.Unlock(); unlockErr != nil {
		s.logger.Warn("failed to release devserver lock", logging.Error(unlockErr))
	}
	return err
}

// spawn runs fn in the background unless the server is closing.
func (s *Server) spawn(fn func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
	return true
}

// claim marks a stage as running for a run version. It fails when another
// stage of the same run is still running.
func (s *Server) claim(runID string, version int, stage string) (string, bool) {
	key := runKey(runID, version)
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, busy := s.active[key]; busy {
		return current, false
	}
	s.active[key] = stage
	return "", true
}

func (s *Server) release(runID string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, runKey(runID, version))
}

func runKey(runID string, version int) string {
	return runID + "@" + strconv.Itoa(version)
}

func (s *Server) runDir(runID string, version int) string {
	return filepath.Join(s.opts.StateDir, "runs", runID, "v"+strconv.Itoa(version))
}
