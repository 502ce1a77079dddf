package pipeline_test

import (
	"errors"
	"testing"

	"reelflow/internal/pipeline"
	"reelflow/internal/services/backend"
)

func intPtr(v int) *int { return &v }

func TestResolveTable(t *testing.T) {
	tests := []struct {
		name     string
		stage    string
		status   string
		want     pipeline.Stage
		complete bool
		resume   string
		failed   bool
	}{
		{"planning running", "planning", "running", pipeline.StagePlanning, false, "planning", false},
		{"planning done upper case", "PLANNING", "done", pipeline.StagePlanning, true, "", false},
		{"planning error", "PLANNING", "error: llm unavailable", pipeline.StagePlanning, false, "", true},
		{"uploaded", "UPLOADED", "done", pipeline.StagePlanning, false, "planning", false},
		{"empty record", "", "", pipeline.StagePlanning, false, "planning", false},
		{"prompts running", "prompts", "running", pipeline.StagePrompting, false, "prompts", false},
		{"prompts pending status", "PROMPTS", "", pipeline.StagePrompting, false, "prompts", false},
		{"prompts done", "PROMPTS", "done", pipeline.StageReady, false, "", false},
		{"prompts error", "prompts", "error", pipeline.StagePrompting, false, "", true},
		{"images running", "IMAGES", "running", pipeline.StageReady, false, "", false},
		{"clips done", "clips", "done", pipeline.StageReady, false, "", false},
		{"unknown later stage", "ASSEMBLY", "running", pipeline.StageReady, false, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := backend.RunStatus{CurrentStage: tt.stage, StageStatus: tt.status}
			got := pipeline.Resolve(status)
			if got.Stage != tt.want {
				t.Fatalf("stage = %s, want %s", got.Stage, tt.want)
			}
			if got.PlanningComplete != tt.complete {
				t.Fatalf("complete = %t, want %t", got.PlanningComplete, tt.complete)
			}
			if got.Resume != tt.resume {
				t.Fatalf("resume = %q, want %q", got.Resume, tt.resume)
			}
			if got.Failed() != tt.failed {
				t.Fatalf("failed = %t, want %t", got.Failed(), tt.failed)
			}
			if again := pipeline.Resolve(status); again != got {
				t.Fatalf("resolve is not idempotent: %+v vs %+v", got, again)
			}
		})
	}
}

func TestResolvePlanningDoneNeverAutoAdvances(t *testing.T) {
	res := pipeline.Resolve(backend.RunStatus{CurrentStage: "planning", StageStatus: "done"})
	if res.Stage != pipeline.StagePlanning || !res.PlanningComplete {
		t.Fatalf("expected planning awaiting confirmation, got %+v", res)
	}
}

func TestResolvePromptingProgress(t *testing.T) {
	res := pipeline.Resolve(backend.RunStatus{CurrentStage: "prompts", StageStatus: "running", ProgressCurrent: intPtr(3), ProgressTotal: intPtr(12)})
	if res.Progress.Indeterminate || res.Progress.Current != 3 || res.Progress.Total != 12 {
		t.Fatalf("unexpected progress %+v", res.Progress)
	}
	res = pipeline.Resolve(backend.RunStatus{CurrentStage: "prompts", StageStatus: "running", ProgressCurrent: intPtr(3), ProgressTotal: intPtr(0)})
	if !res.Progress.Indeterminate {
		t.Fatalf("expected indeterminate progress without a total, got %+v", res.Progress)
	}
}

func TestReached(t *testing.T) {
	tests := []struct {
		stage, status, target string
		want                  bool
	}{
		{"planning", "running", "planning", false},
		{"planning", "done", "planning", true},
		{"prompts", "running", "planning", true},
		{"planning", "done", "prompts", false},
		{"uploaded", "done", "planning", false},
		{"IMAGES", "running", "prompts", true},
	}
	for _, tt := range tests {
		got := pipeline.Reached(backend.RunStatus{CurrentStage: tt.stage, StageStatus: tt.status}, tt.target)
		if got != tt.want {
			t.Fatalf("Reached(%s/%s, %s) = %t, want %t", tt.stage, tt.status, tt.target, got, tt.want)
		}
	}
}

func TestFailureMessage(t *testing.T) {
	msg, ok := pipeline.Failure(backend.RunStatus{StageStatus: "error: No planning results found"})
	if !ok || msg != "No planning results found" {
		t.Fatalf("unexpected failure %q %t", msg, ok)
	}
	if _, ok := pipeline.Failure(backend.RunStatus{StageStatus: "done"}); ok {
		t.Fatal("done should not be a failure")
	}
}

func TestStateMachineFlow(t *testing.T) {
	state := pipeline.Initial()
	if _, err := state.Confirm(); !errors.Is(err, pipeline.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition before planning completes, got %v", err)
	}

	state = state.Observe(backend.RunStatus{CurrentStage: "PLANNING", StageStatus: "done"})
	if !state.PlanningComplete {
		t.Fatalf("expected planning complete, got %s", state)
	}

	state, err := state.Confirm()
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if state.Stage != pipeline.StagePrompting || !state.Progress.Indeterminate {
		t.Fatalf("expected indeterminate prompting, got %+v", state)
	}

	stale := state.Observe(backend.RunStatus{CurrentStage: "PLANNING", StageStatus: "done"})
	if stale.Stage != pipeline.StagePrompting {
		t.Fatalf("stale planning record moved state backwards: %s", stale)
	}

	state = state.Observe(backend.RunStatus{CurrentStage: "PROMPTS", StageStatus: "done"})
	if state.Stage != pipeline.StageReady {
		t.Fatalf("expected ready, got %s", state)
	}
}

func TestRevertConfirm(t *testing.T) {
	state := pipeline.State{Stage: pipeline.StagePrompting, Progress: pipeline.Indeterminate}
	reverted := state.RevertConfirm("http 500")
	if reverted.Stage != pipeline.StagePlanning || !reverted.PlanningComplete || reverted.Failure != "http 500" {
		t.Fatalf("unexpected revert state %+v", reverted)
	}
}
