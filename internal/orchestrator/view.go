package orchestrator

import (
	"time"

	"reelflow/internal/pipeline"
	"reelflow/internal/reconcile"
	"reelflow/internal/services/backend"
)

// NoticeLevel classifies an operator notice.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	// NoticeWarning is a soft warning such as a job timeout.
	NoticeWarning
	// NoticeBlocking reports a rejected stage or job submission.
	NoticeBlocking
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeWarning:
		return "warning"
	case NoticeBlocking:
		return "blocking"
	default:
		return "info"
	}
}

// Notice is a message surfaced to the operator.
type Notice struct {
	Level   NoticeLevel
	Message string
	ShotID  string
	At      time.Time
}

const maxNotices = 20

// JobKind names a per-shot generation job.
type JobKind string

const (
	JobImages JobKind = "images"
	JobClip   JobKind = "clip"
)

// AssetTypes lists the asset types a job must produce.
func (k JobKind) AssetTypes() []string {
	if k == JobClip {
		return []string{backend.AssetClip}
	}
	return []string{backend.AssetImageStart, backend.AssetImageEnd}
}

// Snapshot is a copy of a session's view model. Shot records are shared with
// the session and must be treated as read-only.
type Snapshot struct {
	RunID      string
	VideoID    string
	State      pipeline.State
	Status     *backend.RunStatus
	Log        []string
	// LogTotal counts every entry ever logged; Log holds the newest of them.
	LogTotal   uint64
	Shots      []reconcile.Shot
	Generating map[string]JobKind
	// Views records which media each shot should display after its most
	// recent completed job.
	Views   map[string]JobKind
	Notices []Notice
	Closed  bool
	Seq     uint64
}

// Shot returns the shot with the given ID.
func (s Snapshot) Shot(id string) (reconcile.Shot, bool) {
	return reconcile.Find(s.Shots, id)
}
