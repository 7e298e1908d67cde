package domain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	m "github.com/mouse-blink/autocov/internal/model"
)

// lineSet builds a snapshot of one file from covered and uncovered lines.
func lineSet(covered, uncovered []int) m.FileCoverage {
	var fc m.FileCoverage

	for _, l := range covered {
		fc.Lines = append(fc.Lines, m.LineCoverage{Line: l, Status: m.LineCovered})
	}

	for _, l := range uncovered {
		fc.Lines = append(fc.Lines, m.LineCoverage{Line: l, Status: m.LineUncovered})
	}

	return fc
}

func snapshotOf(files map[m.Path]m.FileCoverage) m.Snapshot {
	return m.NewSnapshot(files, time.Unix(0, 0))
}

// funcsSource renders a package of n one-line functions F0..Fn-1. The body
// of Fi sits on line bodyLine(i).
func funcsSource(pkg string, n int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "package %s\n\n", pkg)

	for i := range n {
		fmt.Fprintf(&b, "func F%d() int {\n\treturn %d\n}\n\n", i, i)
	}

	return b.String()
}

func bodyLine(i int) int {
	return 4 + 4*i
}

func writeProject(t *testing.T, files map[string]string) m.Path {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}

	return m.Path(root)
}

const coversMarker = "// covers:"

// markerCoverage measures calc.go by reading "// covers:" markers out of the
// autocov test files present in the project root.
type markerCoverage struct {
	mu         sync.Mutex
	file       m.Path
	baseline   []int
	executable []int
	calls      int
	completed  int
	failOn     map[int]error
	onMeasure  func(call int)
}

func newMarkerCoverage(file m.Path, executable, baseline []int) *markerCoverage {
	return &markerCoverage{file: file, executable: executable, baseline: baseline}
}

func (c *markerCoverage) RunAndMeasure(ctx context.Context, root m.Path, _ []string) (m.Measurement, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if c.onMeasure != nil {
		c.onMeasure(call)
	}

	if err := c.failOn[call]; err != nil {
		return m.Measurement{}, err
	}

	if err := ctx.Err(); err != nil {
		return m.Measurement{}, err
	}

	covered := make(map[int]bool)
	for _, l := range c.baseline {
		covered[l] = true
	}

	entries, err := os.ReadDir(string(root))
	if err != nil {
		return m.Measurement{}, err
	}

	tests := m.TestRun{}

	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "autocov_") || !strings.HasSuffix(e.Name(), "_test.go") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(string(root), e.Name()))
		if err != nil {
			return m.Measurement{}, err
		}

		for _, line := range markerLines(string(content)) {
			covered[line] = true
		}
	}

	var cov, unc []int

	for _, l := range c.executable {
		if covered[l] {
			cov = append(cov, l)
		} else {
			unc = append(unc, l)
		}
	}

	c.mu.Lock()
	c.completed++
	c.mu.Unlock()

	return m.Measurement{
		Snapshot: snapshotOf(map[m.Path]m.FileCoverage{c.file: lineSet(cov, unc)}),
		Tests:    tests,
	}, nil
}

// Completed counts measurements that ran to the end.
func (c *markerCoverage) Completed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.completed
}

func (c *markerCoverage) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls
}

func markerLines(src string) []int {
	var lines []int

	for _, row := range strings.Split(src, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(row), coversMarker)
		if !ok {
			continue
		}

		for _, f := range strings.Split(rest, ",") {
			if n, err := strconv.Atoi(strings.TrimSpace(f)); err == nil {
				lines = append(lines, n)
			}
		}
	}

	return lines
}

// scriptedGenerator builds candidates without a model. covers decides which
// lines a target's candidate claims to cover.
type scriptedGenerator struct {
	mu      sync.Mutex
	seq     int
	covers  func(target m.Target) []int
	fail    func(target m.Target) error
	onCall  func()
	targets []m.TargetID
}

func (g *scriptedGenerator) Generate(_ context.Context, target m.Target, code CodeContext) *CandidateStream {
	return &CandidateStream{produce: func() ([]m.Candidate, error) {
		g.mu.Lock()
		g.seq++
		seq := g.seq
		g.targets = append(g.targets, target.ID)
		g.mu.Unlock()

		if g.onCall != nil {
			g.onCall()
		}

		if g.fail != nil {
			if err := g.fail(target); err != nil {
				return nil, err
			}
		}

		var lines []int
		if g.covers != nil {
			lines = g.covers(target)
		} else {
			for _, r := range target.Members {
				lines = append(lines, r.Lines...)
			}
		}

		parts := make([]string, len(lines))
		for i, l := range lines {
			parts[i] = strconv.Itoa(l)
		}

		name := fmt.Sprintf("TestGenerated%d", seq)
		src := fmt.Sprintf("package %s\n\nimport \"testing\"\n\n%s %s\nfunc %s(t *testing.T) {}\n",
			code.Package, coversMarker, strings.Join(parts, ","), name)

		return []m.Candidate{{
			ID:            fmt.Sprintf("cand-%d", seq),
			TargetID:      target.ID,
			TargetRegions: target.RegionIDs(),
			PackageDir:    code.PackageDir,
			FileName:      fmt.Sprintf("autocov_%04d_test.go", seq),
			TestNames:     []string{name},
			Source:        []byte(src),
			Status:        m.CandidatePending,
		}}, nil
	}}
}

func (g *scriptedGenerator) Targets() []m.TargetID {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := append([]m.TargetID(nil), g.targets...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// verdictValidator answers with a fixed verdict.
type verdictValidator struct {
	verdict m.Verdict
}

func (v verdictValidator) Validate(context.Context, m.Candidate, m.Measurement) m.Verdict {
	return v.verdict
}

// recordingObserver keeps every event it sees.
type recordingObserver struct {
	states   []m.State
	ratios   []float64
	selected [][]m.Target
	judged   []m.Candidate
	records  []m.IterationRecord
}

func (o *recordingObserver) StateChanged(s m.State) { o.states = append(o.states, s) }
func (o *recordingObserver) Measured(r float64) { o.ratios = append(o.ratios, r) }
func (o *recordingObserver) CandidateJudged(c m.Candidate) { o.judged = append(o.judged, c) }

func (o *recordingObserver) TargetsSelected(_ int, targets []m.Target) {
	o.selected = append(o.selected, targets)
}

func (o *recordingObserver) IterationFinished(rec m.IterationRecord) {
	o.records = append(o.records, rec)
}

// memoryLog is an in-memory IterationLog.
type memoryLog struct {
	records map[string][]m.IterationRecord
}

func (l *memoryLog) Append(key string, rec m.IterationRecord) error {
	if l.records == nil {
		l.records = make(map[string][]m.IterationRecord)
	}

	l.records[key] = append(l.records[key], rec)

	return nil
}

func (l *memoryLog) Load(key string) ([]m.IterationRecord, error) {
	return l.records[key], nil
}

func (l *memoryLog) Close() error { return nil }

// decliningReviewer approves only the listed candidate ids.
type decliningReviewer struct {
	approve map[string]bool
}

func (r decliningReviewer) Review(_ context.Context, candidates []m.Candidate) (map[string]bool, error) {
	out := make(map[string]bool)

	for _, c := range candidates {
		if r.approve[c.ID] {
			out[c.ID] = true
		}
	}

	return out, nil
}
