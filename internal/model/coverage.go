package model

import (
	"sort"
	"time"
)

// LineStatus tags a single source line in a coverage measurement.
type LineStatus string

const (
	// LineCovered marks a line executed by at least one test.
	LineCovered LineStatus = "covered"
	// LineUncovered marks an executable line no test reached.
	LineUncovered LineStatus = "uncovered"
	// LineExcluded marks non-executable lines and lines of excluded files.
	LineExcluded LineStatus = "excluded"
)

// LineCoverage is the tag of one line.
type LineCoverage struct {
	Line   int
	Status LineStatus
}

// BranchCoverage records whether the arm from FromLine to ToLine was taken.
type BranchCoverage struct {
	FromLine int
	ToLine   int
	Taken    bool
}

// FileCoverage holds the per-line tags of one file, ordered by line.
type FileCoverage struct {
	Lines    []LineCoverage
	Branches []BranchCoverage
}

// Counts returns the number of covered and executable lines.
func (f FileCoverage) Counts() (covered, executable int) {
	for _, l := range f.Lines {
		switch l.Status {
		case LineCovered:
			covered++
			executable++
		case LineUncovered:
			executable++
		case LineExcluded:
		}
	}

	return covered, executable
}

// Status returns the tag of line, or LineExcluded when the line is unknown.
func (f FileCoverage) Status(line int) LineStatus {
	i := sort.Search(len(f.Lines), func(i int) bool { return f.Lines[i].Line >= line })
	if i < len(f.Lines) && f.Lines[i].Line == line {
		return f.Lines[i].Status
	}

	return LineExcluded
}

// Snapshot is an immutable record of one coverage measurement.
type Snapshot struct {
	files   map[Path]FileCoverage
	overall float64
	takenAt time.Time
}

// NewSnapshot copies files, sorts every file's lines, and derives the overall ratio.
func NewSnapshot(files map[Path]FileCoverage, takenAt time.Time) Snapshot {
	copied := make(map[Path]FileCoverage, len(files))

	for path, fc := range files {
		lines := append([]LineCoverage(nil), fc.Lines...)
		sort.Slice(lines, func(i, j int) bool { return lines[i].Line < lines[j].Line })

		copied[path] = FileCoverage{
			Lines:    lines,
			Branches: append([]BranchCoverage(nil), fc.Branches...),
		}
	}

	s := Snapshot{files: copied, takenAt: takenAt}
	s.overall = s.Recompute()

	return s
}

// OverallRatio returns covered executable lines over all executable lines.
func (s Snapshot) OverallRatio() float64 {
	return s.overall
}

// Recompute derives the overall ratio from the per-file tags. A snapshot with
// no executable lines is fully covered.
func (s Snapshot) Recompute() float64 {
	var covered, executable int

	for _, fc := range s.files {
		c, e := fc.Counts()
		covered += c
		executable += e
	}

	if executable == 0 {
		return 1
	}

	return float64(covered) / float64(executable)
}

// TakenAt returns when the measurement finished.
func (s Snapshot) TakenAt() time.Time {
	return s.takenAt
}

// File returns the coverage of path.
func (s Snapshot) File(path Path) (FileCoverage, bool) {
	fc, ok := s.files[path]
	return fc, ok
}

// Paths returns the measured files in lexical order.
func (s Snapshot) Paths() []Path {
	paths := make([]Path, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	return paths
}

// CoveredBetween counts covered lines of path in [start, end].
func (s Snapshot) CoveredBetween(path Path, start, end int) int {
	fc, ok := s.files[path]
	if !ok {
		return 0
	}

	n := 0

	for _, l := range fc.Lines {
		if l.Line >= start && l.Line <= end && l.Status == LineCovered {
			n++
		}
	}

	return n
}
