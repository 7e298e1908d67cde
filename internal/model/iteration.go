package model

import "time"

// State is a state of the iteration controller.
type State string

// Controller states.
const (
	StateIdle       State = "idle"
	StateMeasuring  State = "measuring"
	StateAnalyzing  State = "analyzing"
	StateGenerating State = "generating"
	StateValidating State = "validating"
	StateMerging    State = "merging"
	StateDone       State = "done"
	StateStalled    State = "stalled"
	StateFailed     State = "failed"
)

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateStalled || s == StateFailed
}

// GenerationFailure says why a target produced no candidates.
type GenerationFailure string

// Generation failure reasons.
const (
	FailureTimeout         GenerationFailure = "timeout"
	FailureContentFiltered GenerationFailure = "content_filtered"
	FailureEmptyResponse   GenerationFailure = "empty_response"
	FailureNotGo           GenerationFailure = "not_go"
	FailureNoTest          GenerationFailure = "no_test"
	FailureHasTestMain     GenerationFailure = "has_test_main"
	FailureBackend         GenerationFailure = "backend_error"
)

// IterationRecord summarises one completed iteration.
type IterationRecord struct {
	RunID              string
	Number             int
	CoverageBefore     float64
	CoverageAfter      float64
	Targets            int
	Accepted           int
	Rejected           int
	Rejections         map[RejectionReason]int
	GenerationFailures int
	// FailureReasons tallies GenerationFailures by reason.
	FailureReasons     map[GenerationFailure]int
	StartedAt          time.Time
	FinishedAt         time.Time
}

// Gained reports whether the iteration raised overall coverage.
func (r IterationRecord) Gained() bool {
	return r.CoverageAfter > r.CoverageBefore
}

// Report is what the controller hands back when the loop terminates.
type Report struct {
	RunID         string
	State         State
	Records       []IterationRecord
	Accepted      int
	FinalCoverage float64
	// TopRejection is the most common rejection reason, set on Stalled and Failed.
	TopRejection RejectionReason
	// StopReason says which rule ended the loop.
	StopReason string
	Err        error
}

// ExitCode maps the terminal state to the process exit code.
func (r Report) ExitCode() int {
	switch r.State {
	case StateDone:
		return 0
	case StateStalled:
		return 1
	default:
		return 2
	}
}

// MostCommonRejection tallies rejections across records. Ties resolve to the
// higher-priority reason.
func MostCommonRejection(records []IterationRecord) RejectionReason {
	totals := make(map[RejectionReason]int)

	for _, rec := range records {
		for reason, n := range rec.Rejections {
			totals[reason] += n
		}
	}

	var (
		best  RejectionReason
		count int
	)

	for _, reason := range RejectionReasons {
		if totals[reason] > count {
			best = reason
			count = totals[reason]
		}
	}

	return best
}
