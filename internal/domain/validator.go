package domain

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mouse-blink/autocov/internal/adapter"
	apperr "github.com/mouse-blink/autocov/internal/errors"
	m "github.com/mouse-blink/autocov/internal/model"
)

// Validator decides whether a candidate may be merged.
type Validator interface {
	// Validate runs the full suite with the candidate added in a scratch
	// copy of the project. It never fails: problems become rejections.
	Validate(ctx context.Context, candidate m.Candidate, baseline m.Measurement) m.Verdict
}

// ValidatorOptions locates the project under validation.
type ValidatorOptions struct {
	Root      m.Path
	TestPaths []string
}

type validator struct {
	fs       adapter.SourceFSAdapter
	coverage adapter.CoverageBackend
	locks    *LockRegistry
	opts     ValidatorOptions
	logger   *slog.Logger
}

// NewValidator constructs a Validator backed by the provided filesystem and
// coverage backend.
func NewValidator(fs adapter.SourceFSAdapter, coverage adapter.CoverageBackend, locks *LockRegistry,
	opts ValidatorOptions, logger *slog.Logger,
) Validator {
	if logger == nil {
		logger = slog.Default()
	}

	return &validator{fs: fs, coverage: coverage, locks: locks, opts: opts, logger: logger}
}

func (v *validator) Validate(ctx context.Context, candidate m.Candidate, baseline m.Measurement) m.Verdict {
	ctx, span := tracer.Start(ctx, "Validator.Validate", trace.WithAttributes(
		attribute.String("autocov.candidate", candidate.ID),
		attribute.String("autocov.target", string(candidate.TargetID)),
	))
	defer span.End()

	tmpDir, err := v.prepareWorkspace()
	if tmpDir != "" {
		defer v.cleanupTempDir(tmpDir)
	}

	if err != nil {
		return m.Rejected(m.ReasonExecutionError, err.Error())
	}

	if err := v.writeCandidate(tmpDir, candidate); err != nil {
		return m.Rejected(m.ReasonExecutionError, err.Error())
	}

	lock := v.locks.For(v.opts.Root)
	lock.Lock()
	scratch, err := v.coverage.RunAndMeasure(ctx, tmpDir, v.opts.TestPaths)
	lock.Unlock()

	if err != nil {
		return m.Rejected(m.ReasonExecutionError, apperr.Execution("scratch run", err).Error())
	}

	verdict := Judge(candidate, baseline, scratch)
	span.SetAttributes(attribute.Bool("autocov.accepted", verdict.Accepted))

	return verdict
}

func (v *validator) prepareWorkspace() (m.Path, error) {
	tmpDir, err := v.fs.CreateTempDir("autocov-validate-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	if err := v.fs.CopyDir(v.opts.Root, tmpDir); err != nil {
		return tmpDir, fmt.Errorf("failed to copy project: %w", err)
	}

	return tmpDir, nil
}

func (v *validator) writeCandidate(tmpDir m.Path, candidate m.Candidate) error {
	path := v.fs.JoinPath(string(tmpDir), filepath.FromSlash(string(candidate.RelPath())))
	if err := v.fs.WriteFile(path, candidate.Source, 0o600); err != nil {
		return fmt.Errorf("failed to write candidate: %w", err)
	}

	return nil
}

// cleanupTempDir removes the scratch directory, logging errors if cleanup fails.
func (v *validator) cleanupTempDir(tmpDir m.Path) {
	if err := v.fs.RemoveAll(tmpDir); err != nil {
		v.logger.Warn("failed to remove scratch dir", "path", tmpDir, "error", err)
	}
}

// Judge compares a scratch measurement with the baseline. Reasons are
// checked in priority order: execution_error, regression, no_coverage_gain.
func Judge(candidate m.Candidate, baseline, scratch m.Measurement) m.Verdict {
	if detail := executionProblem(candidate, baseline.Tests, scratch.Tests); detail != "" {
		return m.Rejected(m.ReasonExecutionError, detail)
	}

	if regressed := regressions(baseline.Tests, scratch.Tests); len(regressed) > 0 {
		return m.Rejected(m.ReasonRegression, "no longer passing: "+strings.Join(regressed, ", "))
	}

	gain := 0

	for _, id := range candidate.TargetRegions {
		file, start, end, err := m.ParseRegionID(id)
		if err != nil {
			continue
		}

		if d := scratch.Snapshot.CoveredBetween(file, start, end) - baseline.Snapshot.CoveredBetween(file, start, end); d > 0 {
			gain += d
		}
	}

	if gain == 0 {
		return m.Rejected(m.ReasonNoCoverageGain, "no target line newly covered")
	}

	return m.Accepted(gain)
}

func executionProblem(candidate m.Candidate, baseline, scratch m.TestRun) string {
	byName := make(map[string]m.TestOutcome, len(candidate.TestNames))

	for id, outcome := range scratch {
		if id.Name != "" {
			byName[id.Name] = outcome
		}
	}

	for _, name := range candidate.TestNames {
		outcome, ok := byName[name]

		switch {
		case !ok:
			return fmt.Sprintf("%s did not run", name)
		case outcome == m.OutcomeFailed || outcome == m.OutcomeErrored:
			return fmt.Sprintf("%s %s", name, outcome)
		}
	}

	var broken []string

	for id, outcome := range scratch {
		if id.Name == "" && outcome == m.OutcomeErrored && baseline[id] != m.OutcomeErrored {
			broken = append(broken, id.Package)
		}
	}

	if len(broken) > 0 {
		sort.Strings(broken)
		return "package errored: " + strings.Join(broken, ", ")
	}

	return ""
}

func regressions(baseline, scratch m.TestRun) []string {
	var out []string

	for id := range baseline {
		if id.Name != "" && baseline.Passed(id) && scratch.Broken(id) {
			out = append(out, id.String())
		}
	}

	sort.Strings(out)

	return out
}
