package orchestrator

import (
	"errors"

	"reelflow/internal/pipeline"
)

var (
	// ErrClosed is returned by operations on a closed orchestrator or session.
	ErrClosed = errors.New("orchestrator closed")
	// ErrInvalidTransition is returned when an operator action does not fit
	// the run's current stage.
	ErrInvalidTransition = pipeline.ErrInvalidTransition
	// ErrStageRejected wraps a non-2xx response to a stage or job submission.
	ErrStageRejected = errors.New("backend rejected request")
	// ErrUnknownShot is returned when a generation request names a shot that
	// is not loaded in the session.
	ErrUnknownShot = errors.New("unknown shot")
)
