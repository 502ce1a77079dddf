package poll

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"reelflow/internal/logging"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Tasks runs keyed background loops. Starting a key that is already running
// cancels the previous loop and waits for it to exit before the new one
// begins.
//
// Start and Stop block until the replaced or stopped task has returned, so
// they must not be called from inside a task for its own key or while holding
// a lock the task needs.
type Tasks struct {
	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
	logger *slog.Logger
}

// NewTasks constructs an empty task group.
func NewTasks(logger *slog.Logger) *Tasks {
	return &Tasks{
		tasks:  make(map[string]*task),
		logger: logging.NewComponentLogger(logger, "poll-tasks"),
	}
}

// Start launches fn under key, replacing any task already registered for it.
// It returns false once the group has been closed.
func (g *Tasks) Start(parent context.Context, key string, fn func(ctx context.Context)) bool {
	if parent == nil {
		parent = context.Background()
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	prev := g.tasks[key]
	ctx, cancel := context.WithCancel(parent)
	current := &task{cancel: cancel, done: make(chan struct{})}
	g.tasks[key] = current
	g.mu.Unlock()

	if prev != nil {
		g.logger.Debug("replacing active task", logging.String("key", key))
		prev.cancel()
		<-prev.done
	}

	go func() {
		defer func() {
			cancel()
			g.mu.Lock()
			if g.tasks[key] == current {
				delete(g.tasks, key)
			}
			g.mu.Unlock()
			close(current.done)
		}()
		fn(ctx)
	}()
	return true
}

// Stop cancels the task registered under key and waits for it to exit.
func (g *Tasks) Stop(key string) {
	g.mu.Lock()
	current := g.tasks[key]
	g.mu.Unlock()
	if current == nil {
		return
	}
	current.cancel()
	<-current.done
}

// StopPrefix stops every task whose key starts with prefix.
func (g *Tasks) StopPrefix(prefix string) {
	for _, key := range g.Keys() {
		if strings.HasPrefix(key, prefix) {
			g.Stop(key)
		}
	}
}

// Active reports whether a task is registered under key.
func (g *Tasks) Active(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.tasks[key]
	return ok
}

// Keys returns the active task keys in sorted order.
func (g *Tasks) Keys() []string {
	g.mu.Lock()
	keys := make([]string, 0, len(g.tasks))
	for key := range g.tasks {
		keys = append(keys, key)
	}
	g.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Close stops every task and rejects further starts.
func (g *Tasks) Close() {
	g.mu.Lock()
	g.closed = true
	pending := make([]*task, 0, len(g.tasks))
	for _, t := range g.tasks {
		pending = append(pending, t)
	}
	g.mu.Unlock()

	for _, t := range pending {
		t.cancel()
	}
	for _, t := range pending {
		<-t.done
	}
}

// StatusKey is the task key for a run's Status Poller.
func StatusKey(runID string) string { return "status:" + runID }

// JobKey is the task key for a shot's Job Poller.
func JobKey(runID, shotID string) string { return "job:" + runID + ":" + shotID }

// RunPrefix matches every job task key belonging to runID.
func RunPrefix(runID string) string { return "job:" + runID + ":" }
