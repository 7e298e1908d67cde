package controller

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	m "github.com/mouse-blink/autocov/internal/model"
)

// PromptReviewer asks on a terminal whether each validated candidate may be merged.
type PromptReviewer struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPromptReviewer creates a reviewer reading answers from in.
func NewPromptReviewer(in io.Reader, out io.Writer) *PromptReviewer {
	return &PromptReviewer{in: bufio.NewReader(in), out: out}
}

// Review shows every candidate and collects a yes/no answer. End of input
// declines whatever has not been answered yet.
func (r *PromptReviewer) Review(ctx context.Context, candidates []m.Candidate) (map[string]bool, error) {
	approved := make(map[string]bool, len(candidates))

	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			return approved, err
		}

		_, _ = fmt.Fprintf(r.out, "\n[%d/%d] %s (target %s)\n", i+1, len(candidates), c.RelPath(), c.TargetID)
		_, _ = fmt.Fprintln(r.out, strings.TrimRight(string(c.Source), "\n"))

		ok, err := r.ask("merge this test? [y/N] ")
		if err == io.EOF {
			return approved, nil
		}

		if err != nil {
			return approved, fmt.Errorf("read answer: %w", err)
		}

		approved[c.ID] = ok
	}

	return approved, nil
}

func (r *PromptReviewer) ask(question string) (bool, error) {
	_, _ = fmt.Fprint(r.out, question)

	line, err := r.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return false, err
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
