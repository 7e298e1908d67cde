package model

// TestOutcome is the result of one test or package in a test run.
type TestOutcome string

const (
	// OutcomePassed means the test completed successfully.
	OutcomePassed TestOutcome = "passed"
	// OutcomeFailed means the test reported a failure.
	OutcomeFailed TestOutcome = "failed"
	// OutcomeErrored means the test or its package crashed or did not build.
	OutcomeErrored TestOutcome = "errored"
	// OutcomeSkipped means the test was skipped.
	OutcomeSkipped TestOutcome = "skipped"
)

// TestID identifies a test by import path and name. An empty Name refers to
// the package itself.
type TestID struct {
	Package string
	Name    string
}

// String renders the id as "pkg.TestName" or "pkg".
func (id TestID) String() string {
	if id.Name == "" {
		return id.Package
	}

	return id.Package + "." + id.Name
}

// TestRun maps every test seen in a run to its outcome.
type TestRun map[TestID]TestOutcome

// Passed reports whether id passed.
func (r TestRun) Passed(id TestID) bool {
	return r[id] == OutcomePassed
}

// Broken reports whether id failed or errored.
func (r TestRun) Broken(id TestID) bool {
	o := r[id]
	return o == OutcomeFailed || o == OutcomeErrored
}

// Measurement is a coverage snapshot together with the test outcomes of the
// run that produced it.
type Measurement struct {
	Snapshot Snapshot
	Tests    TestRun
}
