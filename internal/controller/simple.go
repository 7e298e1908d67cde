package controller

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	m "github.com/mouse-blink/autocov/internal/model"
)

// SimpleUI implements UI using cobra Command's output.
type SimpleUI struct {
	cmd *cobra.Command
}

// NewSimpleUI creates a new SimpleUI.
func NewSimpleUI(cmd *cobra.Command) *SimpleUI {
	return &SimpleUI{cmd: cmd}
}

// Start initializes the UI.
func (s *SimpleUI) Start(_ ...StartOption) error {
	return nil
}

// Close finalizes the UI.
func (s *SimpleUI) Close() {}

// Wait returns immediately; there is nothing to dismiss.
func (s *SimpleUI) Wait() {}

// StateChanged prints terminal states only.
func (s *SimpleUI) StateChanged(state m.State) {
	if state.Terminal() {
		s.printf("run %s\n", state)
	}
}

// Measured prints the overall coverage.
func (s *SimpleUI) Measured(ratio float64) {
	s.printf("coverage: %s\n", formatPercent(ratio))
}

// TargetsSelected lists the targets of an iteration.
func (s *SimpleUI) TargetsSelected(iteration int, targets []m.Target) {
	s.printf("iteration %d: %d target(s)\n", iteration, len(targets))

	for _, t := range targets {
		s.printf("  %s (%d lines)\n", t.ID, t.Size())
	}
}

// CandidateJudged prints the outcome of a candidate.
func (s *SimpleUI) CandidateJudged(c m.Candidate) {
	if c.Status == m.CandidateAccepted {
		s.printf("  accepted %s\n", c.RelPath())
		return
	}

	s.printf("  rejected %s: %s %s\n", c.RelPath(), c.Reason, firstLine(c.Detail))
}

// IterationFinished prints the coverage movement of an iteration.
func (s *SimpleUI) IterationFinished(rec m.IterationRecord) {
	s.printf("iteration %d: %s -> %s, %d accepted, %d rejected\n",
		rec.Number, formatPercent(rec.CoverageBefore), formatPercent(rec.CoverageAfter), rec.Accepted, rec.Rejected)
}

// DisplayTargets prints the prioritized targets of a graph.
func (s *SimpleUI) DisplayTargets(meas m.Measurement, graph m.Graph) error {
	var tableBuffer bytes.Buffer

	table := newTable(&tableBuffer)
	table.SetHeader([]string{"#", "Target", "Scope", "Lines"})
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT,
	})

	lines := 0

	for i, target := range graph.Targets {
		table.Append([]string{
			fmt.Sprintf("%d", i+1),
			string(target.ID),
			targetScopes(target),
			fmt.Sprintf("%d", target.Size()),
		})

		lines += target.Size()
	}

	table.SetFooter([]string{
		"",
		fmt.Sprintf("Coverage %s", formatPercent(meas.Snapshot.OverallRatio())),
		fmt.Sprintf("%d edges", len(graph.Edges)),
		fmt.Sprintf("%d", lines),
	})

	table.Render()
	s.printf("\n%s", tableBuffer.String())

	return nil
}

// DisplayReport prints the outcome of a run.
func (s *SimpleUI) DisplayReport(report m.Report) error {
	var tableBuffer bytes.Buffer

	table := newTable(&tableBuffer)
	table.SetHeader([]string{"Iteration", "Before", "After", "Accepted", "Rejected", "Failures"})

	for _, rec := range report.Records {
		table.Append([]string{
			fmt.Sprintf("%d", rec.Number),
			formatPercent(rec.CoverageBefore),
			formatPercent(rec.CoverageAfter),
			fmt.Sprintf("%d", rec.Accepted),
			fmt.Sprintf("%d", rec.Rejected),
			fmt.Sprintf("%d", rec.GenerationFailures),
		})
	}

	table.Render()
	s.printf("\n%s\n", tableBuffer.String())

	s.printf("state:     %s (%s)\n", report.State, report.StopReason)
	s.printf("coverage:  %s\n", formatPercent(report.FinalCoverage))
	s.printf("accepted:  %d\n", report.Accepted)

	if report.TopRejection != "" {
		s.printf("rejected:  mostly %s\n", report.TopRejection)
	}

	if report.Err != nil {
		s.printf("error:     %v\n", report.Err)
	}

	return nil
}

// DisplayHistory prints persisted iteration records.
func (s *SimpleUI) DisplayHistory(records []m.IterationRecord) error {
	if len(records) == 0 {
		s.printf("no recorded iterations\n")
		return nil
	}

	var tableBuffer bytes.Buffer

	table := newTable(&tableBuffer)
	table.SetHeader([]string{"Run", "Iteration", "Started", "Before", "After", "Accepted", "Rejected"})

	for _, rec := range records {
		table.Append([]string{
			shortRun(rec.RunID),
			fmt.Sprintf("%d", rec.Number),
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			formatPercent(rec.CoverageBefore),
			formatPercent(rec.CoverageAfter),
			fmt.Sprintf("%d", rec.Accepted),
			fmt.Sprintf("%d", rec.Rejected),
		})
	}

	table.Render()
	s.printf("\n%s", tableBuffer.String())

	return nil
}

func (s *SimpleUI) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.cmd.OutOrStdout(), format, args...)
}

func newTable(buf *bytes.Buffer) *tablewriter.Table {
	table := tablewriter.NewWriter(buf)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	return table
}

func formatPercent(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func targetScopes(t m.Target) string {
	seen := make(map[string]bool)

	var scopes []string

	for _, r := range t.Members {
		name := r.Scope
		if name == "" {
			name = "-"
		}

		if !seen[name] {
			seen[name] = true
			scopes = append(scopes, name)
		}
	}

	return strings.Join(scopes, ", ")
}

func shortRun(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
