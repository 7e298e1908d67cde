// Package controller provides output adapters for following a coverage run
// and displaying its results.
package controller

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mouse-blink/autocov/internal/domain"
	m "github.com/mouse-blink/autocov/internal/model"
)

// StartMode defines the mode of operation for the UI.
type StartMode int

// Available StartMode values.
const (
	ModeAnalyze StartMode = iota
	ModeRun
)

// StartOption is a functional option for Start method.
type StartOption func(*StartConfig)

// StartConfig holds configuration for starting the UI.
type StartConfig struct {
	mode      StartMode
	threshold float64
}

// WithAnalyzeMode sets the UI to show the target graph.
func WithAnalyzeMode() StartOption {
	return func(c *StartConfig) {
		c.mode = ModeAnalyze
	}
}

// WithRunMode sets the UI to follow a run towards threshold.
func WithRunMode(threshold float64) StartOption {
	return func(c *StartConfig) {
		c.mode = ModeRun
		c.threshold = threshold
	}
}

// UI follows a run as a domain.Observer and renders results.
// Implementations can use different output methods (simple text, TUI, etc).
type UI interface {
	domain.Observer

	Start(options ...StartOption) error
	Close()
	Wait() // Wait for UI to finish (user closes it)
	DisplayTargets(meas m.Measurement, graph m.Graph) error
	DisplayReport(report m.Report) error
	DisplayHistory(records []m.IterationRecord) error
}

// NewUI creates a UI based on whether TTY mode is enabled.
// When useTTY is true, it returns a TUI (Bubble Tea).
// When useTTY is false, it returns a SimpleUI (plain text).
func NewUI(cmd *cobra.Command, useTTY bool) UI {
	if useTTY {
		return NewTUI(cmd.OutOrStdout())
	}

	return NewSimpleUI(cmd)
}

// IsTTY checks if the given writer is a terminal (TTY).
// Returns false if the output is redirected to a file or pipe.
func IsTTY(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}

	fileInfo, err := file.Stat()
	if err != nil {
		return false
	}

	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
