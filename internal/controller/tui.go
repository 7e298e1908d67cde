package controller

import (
	"fmt"
	"io"
	"os"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	m "github.com/mouse-blink/autocov/internal/model"
)

// TUI implements UI using Bubble Tea for interactive display.
type TUI struct {
	output  io.Writer
	mu      sync.Mutex
	program *tea.Program
	started bool
	done    chan struct{}
	config  StartConfig
}

// NewTUI creates a new TUI.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// Start launches the Bubble Tea program for the selected mode.
func (t *TUI) Start(options ...StartOption) error {
	for _, opt := range options {
		opt(&t.config)
	}

	if t.config.mode == ModeAnalyze {
		return t.startWithModel(newTargetsModel())
	}

	return t.startWithModel(newRunModel(t.config.threshold))
}

func (t *TUI) startWithModel(model tea.Model) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.started {
		return nil
	}

	opts := []tea.ProgramOption{tea.WithOutput(t.output)}
	if _, ok := t.output.(*os.File); ok {
		opts = append(opts, tea.WithAltScreen())
	} else {
		opts = append(opts, tea.WithInput(nil))
	}

	t.program = tea.NewProgram(model, opts...)
	t.done = make(chan struct{})
	t.started = true

	go func() {
		defer close(t.done)

		if _, err := t.program.Run(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "tui: %v\n", err)
		}
	}()

	return nil
}

func (t *TUI) ensureStarted() {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()

	if started {
		return
	}

	_ = t.Start()
}

func (t *TUI) send(msg tea.Msg) {
	t.mu.Lock()
	program := t.program
	t.mu.Unlock()

	if program == nil {
		return
	}

	program.Send(msg)
}

// Wait blocks until the user closes the program.
func (t *TUI) Wait() {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return
	}

	<-done
}

// Close stops the program and waits for it to exit.
func (t *TUI) Close() {
	t.mu.Lock()
	program := t.program
	t.mu.Unlock()

	if program == nil {
		return
	}

	program.Quit()
	t.Wait()
}

// StateChanged forwards the controller state.
func (t *TUI) StateChanged(state m.State) {
	t.send(stateMsg{state: state})
}

// Measured forwards the overall coverage.
func (t *TUI) Measured(ratio float64) {
	t.send(measuredMsg{ratio: ratio})
}

// TargetsSelected forwards the targets of an iteration.
func (t *TUI) TargetsSelected(iteration int, targets []m.Target) {
	t.send(targetsMsg{iteration: iteration, targets: targets})
}

// CandidateJudged forwards a settled candidate.
func (t *TUI) CandidateJudged(candidate m.Candidate) {
	t.send(candidateMsg{candidate: candidate})
}

// IterationFinished forwards an iteration record.
func (t *TUI) IterationFinished(record m.IterationRecord) {
	t.send(iterationMsg{record: record})
}

// DisplayTargets shows the target list of an analysis.
func (t *TUI) DisplayTargets(meas m.Measurement, graph m.Graph) error {
	t.config.mode = ModeAnalyze
	t.ensureStarted()
	t.send(graphMsg{coverage: meas.Snapshot.OverallRatio(), graph: graph})

	return nil
}

// DisplayReport shows the final report of a run.
func (t *TUI) DisplayReport(report m.Report) error {
	t.send(reportMsg{report: report})
	return nil
}

// DisplayHistory renders persisted records as a static table.
func (t *TUI) DisplayHistory(records []m.IterationRecord) error {
	_, err := fmt.Fprintln(t.output, renderHistory(records))
	return err
}

func renderHistory(records []m.IterationRecord) string {
	title := titleStyle.Render("AutoCov History")
	if len(records) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, title, summaryStyle.Render("no recorded iterations"))
	}

	header := headerStyle.Render(fmt.Sprintf("%-8s  %4s  %-19s  %7s  %7s  %8s  %8s",
		"Run", "#", "Started", "Before", "After", "Accepted", "Rejected"))

	rows := []string{header}

	for _, rec := range records {
		after := accentStyle.Render(fmt.Sprintf("%7s", formatPercent(rec.CoverageAfter)))
		if rec.Gained() {
			after = statusStyle(string(m.CandidateAccepted)).Render(fmt.Sprintf("%7s", formatPercent(rec.CoverageAfter)))
		}

		rows = append(rows, fmt.Sprintf("%-8s  %4d  %-19s  %7s  %s  %8d  %8d",
			shortRun(rec.RunID),
			rec.Number,
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			formatPercent(rec.CoverageBefore),
			after,
			rec.Accepted,
			rec.Rejected,
		))
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
}
