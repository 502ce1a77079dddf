package pipeline

import (
	"fmt"

	"reelflow/internal/services/backend"
)

// Progress is stage progress as reported by the backend. When the backend
// supplies no total the progress is indeterminate and carries no numbers.
type Progress struct {
	Current       int
	Total         int
	Indeterminate bool
}

// Indeterminate is progress with no backend-reported total.
var Indeterminate = Progress{Indeterminate: true}

// ProgressFromStatus derives progress from the backend's counters.
func ProgressFromStatus(status backend.RunStatus) Progress {
	if status.ProgressTotal == nil || *status.ProgressTotal <= 0 {
		return Indeterminate
	}
	current := 0
	if status.ProgressCurrent != nil {
		current = *status.ProgressCurrent
	}
	total := *status.ProgressTotal
	if current < 0 {
		current = 0
	}
	if current > total {
		current = total
	}
	return Progress{Current: current, Total: total}
}

// Fraction returns completion in [0,1]; indeterminate progress reports 0.
func (p Progress) Fraction() float64 {
	if p.Indeterminate || p.Total <= 0 {
		return 0
	}
	return float64(p.Current) / float64(p.Total)
}

func (p Progress) String() string {
	if p.Indeterminate || p.Total <= 0 {
		return "working"
	}
	return fmt.Sprintf("%d/%d", p.Current, p.Total)
}
