package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	m "github.com/mouse-blink/autocov/internal/model"
)

// RunArgs configures one go test invocation.
type RunArgs struct {
	// Packages are the package patterns to test; defaults to ./...
	Packages []string
	// CoverProfile, when set, is passed as -coverprofile.
	CoverProfile string
	// CoverPkg is passed as -coverpkg when CoverProfile is set.
	CoverPkg string
	// CoverMode defaults to count.
	CoverMode string
}

// TestRunnerAdapter executes go tests within a directory.
type TestRunnerAdapter interface {
	// Run executes go test -json in dir and returns the per-test outcomes.
	// Failing tests are not an error; only a run that produced no parsable
	// events is.
	Run(ctx context.Context, dir m.Path, args RunArgs) (m.TestRun, error)
}

// LocalTestRunnerAdapter runs the go tool found on PATH.
type LocalTestRunnerAdapter struct {
	goBinary string
}

// NewLocalTestRunnerAdapter constructs a LocalTestRunnerAdapter.
func NewLocalTestRunnerAdapter() *LocalTestRunnerAdapter {
	return &LocalTestRunnerAdapter{goBinary: "go"}
}

// Run executes the tests and parses the test2json stream.
func (a *LocalTestRunnerAdapter) Run(ctx context.Context, dir m.Path, args RunArgs) (m.TestRun, error) {
	cmdArgs := buildTestArgs(args)

	// #nosec G204 - arguments are built from internal configuration
	cmd := exec.CommandContext(ctx, a.goBinary, cmdArgs...)
	cmd.Dir = string(dir)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("go test in %s: %w", dir, ctxErr)
	}

	run, events, err := ParseTestEvents(&stdout)
	if err != nil {
		return nil, fmt.Errorf("parse go test output in %s: %w", dir, err)
	}

	var exitErr *exec.ExitError
	if runErr != nil && (!errors.As(runErr, &exitErr) || events == 0) {
		return nil, fmt.Errorf("go test in %s: %w: %s", dir, runErr, strings.TrimSpace(stderr.String()))
	}

	return run, nil
}

func buildTestArgs(args RunArgs) []string {
	cmdArgs := []string{"test", "-json", "-count=1"}

	if args.CoverProfile != "" {
		mode := args.CoverMode
		if mode == "" {
			mode = "count"
		}

		cmdArgs = append(cmdArgs, "-covermode="+mode, "-coverprofile="+args.CoverProfile)

		if args.CoverPkg != "" {
			cmdArgs = append(cmdArgs, "-coverpkg="+args.CoverPkg)
		}
	}

	packages := args.Packages
	if len(packages) == 0 {
		packages = []string{"./..."}
	}

	return append(cmdArgs, packages...)
}

// testEvent is one line of go test -json output.
type testEvent struct {
	Action      string
	Package     string
	Test        string
	Output      string
	ImportPath  string
	FailedBuild string
}

type packageState struct {
	failedTests int
	buildFailed bool
	outcome     m.TestOutcome
}

// ParseTestEvents folds a test2json stream into a TestRun. Tests that
// panicked, or that started but never finished, are errored. A package that
// failed without any failing test, or failed to build, is errored.
func ParseTestEvents(r io.Reader) (m.TestRun, int, error) {
	run := make(m.TestRun)
	packages := make(map[string]*packageState)
	panicked := make(map[m.TestID]bool)
	started := make(map[m.TestID]bool)

	pkg := func(name string) *packageState {
		ps, ok := packages[name]
		if !ok {
			ps = &packageState{}
			packages[name] = ps
		}

		return ps
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	events := 0

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}

		var ev testEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}

		events++

		if ev.Action == "build-fail" {
			name, _, _ := strings.Cut(ev.ImportPath, " ")
			pkg(name).buildFailed = true

			continue
		}

		if ev.Package == "" {
			continue
		}

		ps := pkg(ev.Package)

		if ev.Test == "" {
			applyPackageEvent(ps, ev)
			continue
		}

		id := m.TestID{Package: ev.Package, Name: ev.Test}

		switch ev.Action {
		case "run":
			started[id] = true
		case "output":
			if strings.Contains(ev.Output, "panic:") {
				panicked[id] = true
			}
		case "pass":
			run[id] = m.OutcomePassed
		case "skip":
			run[id] = m.OutcomeSkipped
		case "fail":
			ps.failedTests++

			run[id] = m.OutcomeFailed
			if panicked[id] {
				run[id] = m.OutcomeErrored
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, events, err
	}

	for id := range started {
		if _, done := run[id]; !done {
			run[id] = m.OutcomeErrored
		}
	}

	for name, ps := range packages {
		outcome := ps.outcome
		if ps.buildFailed || (outcome == m.OutcomeFailed && ps.failedTests == 0) {
			outcome = m.OutcomeErrored
		}

		if outcome != "" {
			run[m.TestID{Package: name}] = outcome
		}
	}

	return run, events, nil
}

func applyPackageEvent(ps *packageState, ev testEvent) {
	switch ev.Action {
	case "pass":
		ps.outcome = m.OutcomePassed
	case "skip":
		ps.outcome = m.OutcomeSkipped
	case "fail":
		ps.outcome = m.OutcomeFailed
		if ev.FailedBuild != "" {
			ps.buildFailed = true
		}
	case "output":
		if strings.Contains(ev.Output, "[build failed]") || strings.Contains(ev.Output, "[setup failed]") {
			ps.buildFailed = true
		}
	}
}
