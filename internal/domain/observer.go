package domain

import m "github.com/mouse-blink/autocov/internal/model"

// Observer is notified as the controller makes progress. Calls come from the
// controller goroutine only.
type Observer interface {
	StateChanged(state m.State)
	Measured(ratio float64)
	TargetsSelected(iteration int, targets []m.Target)
	CandidateJudged(candidate m.Candidate)
	IterationFinished(record m.IterationRecord)
}

// NopObserver ignores every event.
type NopObserver struct{}

// StateChanged does nothing.
func (NopObserver) StateChanged(m.State) {}

// Measured does nothing.
func (NopObserver) Measured(float64) {}

// TargetsSelected does nothing.
func (NopObserver) TargetsSelected(int, []m.Target) {}

// CandidateJudged does nothing.
func (NopObserver) CandidateJudged(m.Candidate) {}

// IterationFinished does nothing.
func (NopObserver) IterationFinished(m.IterationRecord) {}
