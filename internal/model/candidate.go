package model

import "fmt"

// CandidateStatus is the lifecycle state of a generated test.
type CandidateStatus string

const (
	// CandidatePending is the state of a candidate that has not been validated yet.
	CandidatePending CandidateStatus = "pending"
	// CandidateAccepted is the state of a candidate that will be merged.
	CandidateAccepted CandidateStatus = "accepted"
	// CandidateRejected is the state of a discarded candidate.
	CandidateRejected CandidateStatus = "rejected"
)

// RejectionReason explains why a candidate was discarded. Reasons are listed
// from highest to lowest priority.
type RejectionReason string

const (
	// ReasonExecutionError means the candidate crashed, failed, or broke the build.
	ReasonExecutionError RejectionReason = "execution_error"
	// ReasonRegression means a previously passing test stopped passing.
	ReasonRegression RejectionReason = "regression"
	// ReasonNoCoverageGain means no target region gained covered lines.
	ReasonNoCoverageGain RejectionReason = "no_coverage_gain"
	// ReasonDeclined means the review hook refused the candidate.
	ReasonDeclined RejectionReason = "declined"
)

// RejectionReasons lists every reason in priority order.
var RejectionReasons = []RejectionReason{
	ReasonExecutionError,
	ReasonRegression,
	ReasonNoCoverageGain,
	ReasonDeclined,
}

// Candidate is a generated test that has not necessarily been validated.
type Candidate struct {
	ID            string
	TargetID      TargetID
	TargetRegions []RegionID
	PackageDir    Path   // directory the test file is written to
	FileName      string // e.g. autocov_1a2b3c4d_test.go
	TestNames     []string
	Source        []byte
	Status        CandidateStatus
	Reason        RejectionReason
	Detail        string
}

// RelPath returns the slash-separated project-relative path of the test file.
func (c Candidate) RelPath() Path {
	if c.PackageDir == "" || c.PackageDir == "." {
		return Path(c.FileName)
	}

	return Path(string(c.PackageDir) + "/" + c.FileName)
}

// Accept moves a pending candidate to accepted.
func (c *Candidate) Accept() error {
	if c.Status != CandidatePending {
		return fmt.Errorf("candidate %s is %s, not pending", c.ID, c.Status)
	}

	c.Status = CandidateAccepted

	return nil
}

// Reject moves a pending candidate to rejected.
func (c *Candidate) Reject(reason RejectionReason, detail string) error {
	if c.Status != CandidatePending {
		return fmt.Errorf("candidate %s is %s, not pending", c.ID, c.Status)
	}

	c.Status = CandidateRejected
	c.Reason = reason
	c.Detail = detail

	return nil
}

// Verdict is the validator's decision for one candidate.
type Verdict struct {
	Accepted bool
	Reason   RejectionReason
	Detail   string
	// Gain is the number of target lines newly covered.
	Gain int
}

// Accepted builds an accepting verdict.
func Accepted(gain int) Verdict {
	return Verdict{Accepted: true, Gain: gain}
}

// Rejected builds a rejecting verdict.
func Rejected(reason RejectionReason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}
