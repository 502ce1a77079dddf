package pipeline

import (
	"strings"

	"reelflow/internal/services/backend"
)

// Stage is a client-visible pipeline stage.
type Stage int

const (
	StagePlanning Stage = iota
	StagePrompting
	StageReady
)

func (s Stage) String() string {
	switch s {
	case StagePlanning:
		return "planning"
	case StagePrompting:
		return "prompting"
	case StageReady:
		return "ready"
	default:
		return "unknown"
	}
}

const (
	statusRunning = "running"
	statusDone    = "done"
	statusError   = "error"

	// stageUploaded marks a freshly created run that has not started planning.
	stageUploaded = "uploaded"
)

// NormalizeStage lower-cases and trims a backend stage name. An empty value is
// treated as planning.
func NormalizeStage(stage string) string {
	stage = strings.ToLower(strings.TrimSpace(stage))
	if stage == "" {
		return backend.StagePlanning
	}
	return stage
}

// NormalizeStatus lower-cases and trims a backend stage status. An empty value
// is treated as running.
func NormalizeStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return statusRunning
	}
	return status
}

// Rank orders backend stages: uploaded and planning come first, followed by
// prompts, images, and clips. Unknown stages rank after clips.
func Rank(stage string) int {
	switch NormalizeStage(stage) {
	case stageUploaded:
		return 0
	case backend.StagePlanning:
		return 1
	case backend.StagePrompts:
		return 2
	case backend.StageImages:
		return 3
	case backend.StageClips:
		return 4
	default:
		return 5
	}
}

// IsDone reports whether the status marks its current stage complete.
func IsDone(status backend.RunStatus) bool {
	return NormalizeStatus(status.StageStatus) == statusDone
}

// Failure returns the failure message when the status marks its current stage
// as failed.
func Failure(status backend.RunStatus) (string, bool) {
	raw := strings.TrimSpace(status.StageStatus)
	if !strings.HasPrefix(strings.ToLower(raw), statusError) {
		return "", false
	}
	msg := strings.TrimSpace(raw[len(statusError):])
	msg = strings.TrimSpace(strings.TrimPrefix(msg, ":"))
	if msg == "" {
		msg = "stage failed"
	}
	return msg, true
}

// Reached reports whether target is complete according to status: either the
// backend reports target itself as done or it has already moved past target.
func Reached(status backend.RunStatus, target string) bool {
	current := NormalizeStage(status.CurrentStage)
	target = NormalizeStage(target)
	if current == target {
		return IsDone(status)
	}
	return Rank(current) > Rank(target)
}
