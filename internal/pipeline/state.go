package pipeline

import (
	"errors"
	"fmt"

	"reelflow/internal/services/backend"
)

// ErrInvalidTransition is returned when an operator action is not allowed in
// the current state.
var ErrInvalidTransition = errors.New("invalid pipeline transition")

// State is the explicit pipeline state machine: Planning{complete},
// Prompting{progress}, or Ready. Values are immutable; transitions return new
// states.
type State struct {
	Stage            Stage
	PlanningComplete bool
	Progress         Progress
	Failure          string
}

// Initial is the state of a freshly created run.
func Initial() State {
	return State{Stage: StagePlanning}
}

// FromResolution builds the state a resolution describes.
func FromResolution(res Resolution) State {
	state := State{Stage: res.Stage, Failure: res.Failure}
	switch res.Stage {
	case StagePlanning:
		state.PlanningComplete = res.PlanningComplete
	case StagePrompting:
		state.Progress = res.Progress
		if state.Progress == (Progress{}) {
			state.Progress = Indeterminate
		}
	}
	return state
}

// Observe applies a status poll result. The state never moves backwards: a
// stale record for an earlier stage leaves the current state untouched, and a
// prompts record never undoes a pending plan confirmation.
func (s State) Observe(status backend.RunStatus) State {
	next := FromResolution(Resolve(status))
	if next.Stage < s.Stage {
		return s
	}
	if next.Stage == StagePlanning && s.Stage == StagePlanning && s.PlanningComplete && !next.PlanningComplete && next.Failure == "" {
		return s
	}
	return next
}

// Confirm moves a completed plan into prompting.
func (s State) Confirm() (State, error) {
	if s.Stage != StagePlanning || !s.PlanningComplete {
		return s, fmt.Errorf("%w: confirm requires a completed plan (stage %s, complete %t)", ErrInvalidTransition, s.Stage, s.PlanningComplete)
	}
	return State{Stage: StagePrompting, Progress: Indeterminate}, nil
}

// RevertConfirm restores the awaiting-confirmation state after the backend
// rejected the prompts stage.
func (s State) RevertConfirm(reason string) State {
	return State{Stage: StagePlanning, PlanningComplete: true, Failure: reason}
}

// Complete marks the awaited stage finished.
func (s State) Complete(stage string) State {
	switch NormalizeStage(stage) {
	case backend.StagePlanning:
		if s.Stage == StagePlanning {
			return State{Stage: StagePlanning, PlanningComplete: true}
		}
	case backend.StagePrompts:
		return State{Stage: StageReady}
	}
	return s
}

// WithProgress updates prompting progress; other stages are unchanged.
func (s State) WithProgress(p Progress) State {
	if s.Stage != StagePrompting {
		return s
	}
	s.Progress = p
	return s
}

func (s State) String() string {
	switch s.Stage {
	case StagePlanning:
		if s.PlanningComplete {
			return "planning (awaiting confirmation)"
		}
		return "planning"
	case StagePrompting:
		return "prompting " + s.Progress.String()
	default:
		return s.Stage.String()
	}
}
