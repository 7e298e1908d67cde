package controller

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	m "github.com/mouse-blink/autocov/internal/model"
)

func newTestSimpleUI() (*SimpleUI, *bytes.Buffer) {
	var buf bytes.Buffer

	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	return NewSimpleUI(cmd), &buf
}

func testRegion(file m.Path, scope string, start, end int) m.Region {
	lines := make([]int, 0, end-start+1)
	for l := start; l <= end; l++ {
		lines = append(lines, l)
	}

	return m.Region{
		ID:        m.NewRegionID(file, start, end),
		File:      file,
		Scope:     scope,
		StartLine: start,
		EndLine:   end,
		Lines:     lines,
	}
}

func testGraph() m.Graph {
	add := testRegion("calc.go", "Add", 3, 5)
	f := testRegion("cycle.go", "f", 4, 4)
	g := testRegion("cycle.go", "g", 8, 9)

	return m.Graph{
		Regions: []m.Region{add, f, g},
		Edges: []m.Edge{
			{From: f.ID, To: g.ID, Kind: m.EdgeControl},
			{From: g.ID, To: f.ID, Kind: m.EdgeControl},
		},
		Targets: []m.Target{
			m.NewTarget([]m.Region{g, f}, true),
			m.NewTarget([]m.Region{add}, false),
		},
	}
}

func testSnapshot(covered, uncovered int) m.Snapshot {
	lines := make([]m.LineCoverage, 0, covered+uncovered)
	for i := 1; i <= covered; i++ {
		lines = append(lines, m.LineCoverage{Line: i, Status: m.LineCovered})
	}

	for i := covered + 1; i <= covered+uncovered; i++ {
		lines = append(lines, m.LineCoverage{Line: i, Status: m.LineUncovered})
	}

	return m.NewSnapshot(map[m.Path]m.FileCoverage{"calc.go": {Lines: lines}}, time.Now())
}

func TestSimpleUI_DisplayTargets_PrintsTable(t *testing.T) {
	ui, buf := newTestSimpleUI()

	meas := m.Measurement{Snapshot: testSnapshot(6, 4)}
	if err := ui.DisplayTargets(meas, testGraph()); err != nil {
		t.Fatalf("DisplayTargets() error = %v", err)
	}

	output := buf.String()
	upper := strings.ToUpper(output)

	for _, want := range []string{
		"macro(cycle.go:4-4,cycle.go:8-9)",
		"f, g",
		"calc.go:3-5",
		"Add",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q\noutput:\n%s", want, output)
		}
	}

	for _, want := range []string{"TARGET", "SCOPE", "COVERAGE 60.0%", "2 EDGES", "6"} {
		if !strings.Contains(upper, want) {
			t.Fatalf("output missing %q\noutput:\n%s", want, output)
		}
	}

	if strings.Index(output, "macro(") > strings.Index(output, "calc.go:3-5") {
		t.Fatalf("targets not printed in priority order\noutput:\n%s", output)
	}
}

func TestSimpleUI_DisplayReport(t *testing.T) {
	ui, buf := newTestSimpleUI()

	report := m.Report{
		State: m.StateStalled,
		Records: []m.IterationRecord{
			{Number: 1, CoverageBefore: 0.7, CoverageAfter: 0.7, Rejected: 2},
			{Number: 2, CoverageBefore: 0.7, CoverageAfter: 0.7, Rejected: 1, GenerationFailures: 1},
		},
		FinalCoverage: 0.7,
		TopRejection:  m.ReasonNoCoverageGain,
		StopReason:    "no coverage gain in 2 consecutive iterations",
		Err:           errors.New("boom"),
	}

	if err := ui.DisplayReport(report); err != nil {
		t.Fatalf("DisplayReport() error = %v", err)
	}

	output := buf.String()

	for _, want := range []string{
		"70.0%",
		"state:     stalled (no coverage gain in 2 consecutive iterations)",
		"coverage:  70.0%",
		"rejected:  mostly no_coverage_gain",
		"error:     boom",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q\noutput:\n%s", want, output)
		}
	}
}

func TestSimpleUI_DisplayHistory(t *testing.T) {
	ui, buf := newTestSimpleUI()

	if err := ui.DisplayHistory(nil); err != nil {
		t.Fatalf("DisplayHistory() error = %v", err)
	}

	if !strings.Contains(buf.String(), "no recorded iterations") {
		t.Fatalf("empty history output = %q", buf.String())
	}

	buf.Reset()

	started := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	records := []m.IterationRecord{
		{RunID: "0123456789abcdef", Number: 1, StartedAt: started, CoverageBefore: 0.6, CoverageAfter: 0.85, Accepted: 2},
	}

	if err := ui.DisplayHistory(records); err != nil {
		t.Fatalf("DisplayHistory() error = %v", err)
	}

	output := buf.String()
	for _, want := range []string{"01234567", "2024-05-01 12:30:00", "60.0%", "85.0%"} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q\noutput:\n%s", want, output)
		}
	}

	if strings.Contains(output, "0123456789abcdef") {
		t.Fatalf("run id not shortened\noutput:\n%s", output)
	}
}

func TestSimpleUI_ObserverOutput(t *testing.T) {
	ui, buf := newTestSimpleUI()
	graph := testGraph()

	ui.StateChanged(m.StateMeasuring)
	ui.Measured(0.6)
	ui.TargetsSelected(1, graph.Targets[1:])
	ui.CandidateJudged(m.Candidate{FileName: "autocov_1_test.go", PackageDir: "pkg", Status: m.CandidateAccepted})
	ui.CandidateJudged(m.Candidate{
		FileName: "autocov_2_test.go",
		Status:   m.CandidateRejected,
		Reason:   m.ReasonExecutionError,
		Detail:   "undefined: Foo\nmore",
	})
	ui.IterationFinished(m.IterationRecord{Number: 1, CoverageBefore: 0.6, CoverageAfter: 0.7, Accepted: 1, Rejected: 1})
	ui.StateChanged(m.StateDone)

	output := buf.String()

	if strings.Contains(output, "measuring") {
		t.Fatalf("non-terminal state printed\noutput:\n%s", output)
	}

	for _, want := range []string{
		"coverage: 60.0%",
		"iteration 1: 1 target(s)",
		"calc.go:3-5 (3 lines)",
		"accepted pkg/autocov_1_test.go",
		"rejected autocov_2_test.go: execution_error undefined: Foo",
		"iteration 1: 60.0% -> 70.0%, 1 accepted, 1 rejected",
		"run done",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("output missing %q\noutput:\n%s", want, output)
		}
	}

	if strings.Contains(output, "more") {
		t.Fatalf("detail not cut at first line\noutput:\n%s", output)
	}
}

func TestTargetScopes(t *testing.T) {
	target := m.NewTarget([]m.Region{
		testRegion("a.go", "", 1, 1),
		testRegion("a.go", "F", 3, 3),
		testRegion("a.go", "F", 5, 5),
	}, true)

	if got := targetScopes(target); got != "-, F" {
		t.Fatalf("targetScopes() = %q, want %q", got, "-, F")
	}
}
