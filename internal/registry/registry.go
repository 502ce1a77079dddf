package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reelflow/internal/logging"
	"reelflow/internal/services/backend"
)

// ErrNotFound is returned when a run ID is not in the registry.
var ErrNotFound = errors.New("run not found")

// Phase tracks whether a run has been confirmed by the backend.
type Phase int

const (
	PhasePending Phase = iota
	PhaseConfirmed
	PhaseRejected
)

// MarshalText renders the phase name in JSON output.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseConfirmed:
		return "confirmed"
	case PhaseRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// DisplayStatus is the dashboard status of a run.
type DisplayStatus string

const (
	DisplayActive    DisplayStatus = "active"
	DisplayCompleted DisplayStatus = "completed"
	DisplayDraft     DisplayStatus = "draft"
)

// DisplayFor maps a run's stage status onto its dashboard status.
func DisplayFor(status *backend.RunStatus) DisplayStatus {
	if status == nil {
		return DisplayDraft
	}
	switch strings.ToLower(strings.TrimSpace(status.StageStatus)) {
	case "done":
		return DisplayCompleted
	case "running":
		return DisplayActive
	default:
		return DisplayDraft
	}
}

// Run is one dashboard entry.
type Run struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	VideoID   string             `json:"video_id"`
	Version   int                `json:"version"`
	Status    *backend.RunStatus `json:"status,omitempty"`
	Display   DisplayStatus      `json:"display_status"`
	CreatedAt string             `json:"created_at"`
	Phase     Phase              `json:"phase"`
	Error     string             `json:"error,omitempty"`
}

// Lister fetches the backend's run listing.
type Lister interface {
	ListRuns(ctx context.Context) ([]backend.RunSummary, error)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	runs   []Run
	lister Lister
	logger *slog.Logger
	now    func() time.Time
}

// New constructs an empty registry backed by lister.
func New(lister Lister, logger *slog.Logger) *Registry {
	return &Registry{
		lister: lister,
		logger: logging.NewComponentLogger(logger, "registry"),
		now:    time.Now,
	}
}

// Create inserts run at the front as Pending before any backend confirmation.
// An existing entry with the same ID is replaced in place.
func (r *Registry) Create(run Run) Run {
	run.Phase = PhasePending
	run.Error = ""
	if run.Display == "" {
		run.Display = DisplayActive
	}
	if strings.TrimSpace(run.Name) == "" {
		run.Name = FallbackName(run.VideoID, run.ID)
	}
	if run.CreatedAt == "" {
		run.CreatedAt = r.now().UTC().Format(time.RFC3339)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].ID == run.ID {
			r.runs[i] = run
			return run
		}
	}
	r.runs = append([]Run{run}, r.runs...)
	return run
}

// Reject marks a pending run as refused by the backend. The entry is kept.
func (r *Registry) Reject(id string, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.runs {
		if r.runs[i].ID != id {
			continue
		}
		r.runs[i].Phase = PhaseRejected
		r.runs[i].Display = DisplayDraft
		if cause != nil {
			r.runs[i].Error = cause.Error()
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Refresh replaces the list with the backend snapshot. Local entries the
// backend does not know about yet stay at the front in their current order.
// On a fetch error the existing list is kept.
func (r *Registry) Refresh(ctx context.Context) error {
	if r.lister == nil {
		return errors.New("registry: no backend configured")
	}
	summaries, err := r.lister.ListRuns(ctx)
	if err != nil {
		r.logger.Warn("run refresh failed; keeping current list", logging.Error(err))
		return fmt.Errorf("refresh runs: %w", err)
	}

	confirmed := make([]Run, 0, len(summaries))
	seen := make(map[string]struct{}, len(summaries))
	for _, summary := range summaries {
		if _, dup := seen[summary.RunID]; dup {
			continue
		}
		seen[summary.RunID] = struct{}{}
		confirmed = append(confirmed, fromSummary(summary))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	names := make(map[string]string)
	local := make([]Run, 0)
	for _, run := range r.runs {
		if _, ok := seen[run.ID]; ok {
			if run.Name != "" {
				names[run.ID] = run.Name
			}
			continue
		}
		if run.Phase == PhaseConfirmed {
			r.logger.Debug("confirmed run absent from backend listing", logging.String(logging.FieldRunID, run.ID))
		}
		local = append(local, run)
	}
	for i := range confirmed {
		if name, ok := names[confirmed[i].ID]; ok {
			confirmed[i].Name = name
		}
	}
	r.runs = append(local, confirmed...)
	return nil
}

// Select looks up a run by ID.
func (r *Registry) Select(id string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, run := range r.runs {
		if run.ID == id {
			return run, true
		}
	}
	return Run{}, false
}

// Runs returns a copy of the ordered list.
func (r *Registry) Runs() []Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Run(nil), r.runs...)
}

// FallbackName is the display name for a run without a local name.
func FallbackName(videoID, runID string) string {
	if v := strings.TrimSpace(videoID); v != "" {
		return v
	}
	return runID
}

func fromSummary(summary backend.RunSummary) Run {
	var status *backend.RunStatus
	if summary.Status != nil {
		copied := *summary.Status
		status = &copied
	}
	return Run{
		ID:        summary.RunID,
		Name:      FallbackName(summary.VideoID, summary.RunID),
		VideoID:   summary.VideoID,
		Version:   summary.Version,
		Status:    status,
		Display:   DisplayFor(status),
		CreatedAt: summary.CreatedAt,
		Phase:     PhaseConfirmed,
	}
}
