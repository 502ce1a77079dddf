package pipeline

import "reelflow/internal/services/backend"

// Resolution is the outcome of resolving a backend status record.
type Resolution struct {
	Stage            Stage
	PlanningComplete bool
	// Resume names the backend stage whose Status Poller must be (re)started.
	// Empty when no poller is needed.
	Resume   string
	Progress Progress
	// Failure carries the backend error message when the current stage failed.
	Failure string
}

// Failed reports whether the backend marked the current stage as failed.
func (r Resolution) Failed() bool { return r.Failure != "" }

// Resolve maps a status record onto a client-visible stage. It is pure and
// total: every input, including empty or unknown values, maps to exactly one
// stage.
//
//   - planning (or uploaded): done blocks on operator confirmation; otherwise
//     the planning poller resumes.
//   - prompts: done is ready; otherwise the prompts poller resumes.
//   - anything later is ready.
//
// A failed stage keeps its stage but never resumes a poller.
func Resolve(status backend.RunStatus) Resolution {
	failure, failed := Failure(status)
	done := IsDone(status)

	switch NormalizeStage(status.CurrentStage) {
	case backend.StagePlanning:
		res := Resolution{Stage: StagePlanning, PlanningComplete: done && !failed, Failure: failure}
		if !done && !failed {
			res.Resume = backend.StagePlanning
		}
		return res
	case stageUploaded:
		res := Resolution{Stage: StagePlanning, Failure: failure}
		if !failed {
			res.Resume = backend.StagePlanning
		}
		return res
	case backend.StagePrompts:
		if done {
			return Resolution{Stage: StageReady}
		}
		res := Resolution{Stage: StagePrompting, Progress: ProgressFromStatus(status), Failure: failure}
		if !failed {
			res.Resume = backend.StagePrompts
		}
		return res
	default:
		return Resolution{Stage: StageReady, Failure: failure}
	}
}
