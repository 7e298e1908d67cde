package adapter

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/mod/modfile"
	"golang.org/x/tools/cover"

	apperr "github.com/mouse-blink/autocov/internal/errors"
	m "github.com/mouse-blink/autocov/internal/model"
)

// CoverageBackend runs a project's tests under coverage instrumentation.
type CoverageBackend interface {
	// RunAndMeasure runs the tests matched by testPaths in root and returns a
	// per-line snapshot together with the test outcomes of the same run.
	RunAndMeasure(ctx context.Context, root m.Path, testPaths []string) (m.Measurement, error)
}

// GoCoverageBackend measures coverage with go test -coverprofile.
type GoCoverageBackend struct {
	fs      SourceFSAdapter
	runner  TestRunnerAdapter
	exclude []glob.Glob
	now     func() time.Time
}

// NewGoCoverageBackend compiles the exclusion patterns and wires the backend.
// Patterns match slash-separated project-relative paths; "**" crosses dirs.
func NewGoCoverageBackend(fs SourceFSAdapter, runner TestRunnerAdapter, exclude []string) (*GoCoverageBackend, error) {
	globs := make([]glob.Glob, 0, len(exclude))

	for _, pattern := range exclude {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("compile exclude pattern %q: %w", pattern, err)
		}

		globs = append(globs, g)
	}

	return &GoCoverageBackend{fs: fs, runner: runner, exclude: globs, now: time.Now}, nil
}

// RunAndMeasure runs go test with -coverpkg=./... so every package in the
// module is instrumented, then tags every line of every source file.
func (b *GoCoverageBackend) RunAndMeasure(ctx context.Context, root m.Path, testPaths []string) (m.Measurement, error) {
	modulePath, err := b.modulePath(root)
	if err != nil {
		return m.Measurement{}, apperr.CoverageBackend("read module path", err).WithContext(apperr.CtxPath, root)
	}

	tmpDir, err := b.fs.CreateTempDir("autocov-profile-*")
	if err != nil {
		return m.Measurement{}, apperr.CoverageBackend("create profile dir", err)
	}

	defer func() { _ = b.fs.RemoveAll(tmpDir) }()

	profilePath := filepath.Join(string(tmpDir), "cover.out")

	run, err := b.runner.Run(ctx, root, RunArgs{
		Packages:     testPaths,
		CoverProfile: profilePath,
		CoverPkg:     "./...",
		CoverMode:    "count",
	})
	if err != nil {
		return m.Measurement{}, apperr.CoverageBackend("run tests", err).WithContext(apperr.CtxPath, root)
	}

	profiles, err := cover.ParseProfiles(profilePath)
	if err != nil {
		return m.Measurement{}, apperr.CoverageBackend("parse coverage profile", err).WithContext(apperr.CtxPath, root)
	}

	sources, err := b.fs.GoSources(root)
	if err != nil {
		return m.Measurement{}, apperr.CoverageBackend("list sources", err).WithContext(apperr.CtxPath, root)
	}

	blocks := groupBlocks(profiles, modulePath)
	files := make(map[m.Path]m.FileCoverage, len(sources))

	for _, rel := range sources {
		content, err := b.fs.ReadFile(m.Path(filepath.Join(string(root), filepath.FromSlash(string(rel)))))
		if err != nil {
			return m.Measurement{}, apperr.CoverageBackend("read source", err).WithContext(apperr.CtxPath, rel)
		}

		lineCount := countLines(content)

		if b.excluded(rel) {
			files[rel] = excludedFile(lineCount)
			continue
		}

		files[rel] = tagLines(lineCount, blocks[rel])
	}

	return m.Measurement{Snapshot: m.NewSnapshot(files, b.now()), Tests: run}, nil
}

func (b *GoCoverageBackend) modulePath(root m.Path) (string, error) {
	content, err := b.fs.ReadFile(m.Path(filepath.Join(string(root), "go.mod")))
	if err != nil {
		return "", err
	}

	path := modfile.ModulePath(content)
	if path == "" {
		return "", fmt.Errorf("no module directive in %s/go.mod", root)
	}

	return path, nil
}

func (b *GoCoverageBackend) excluded(rel m.Path) bool {
	for _, g := range b.exclude {
		if g.Match(string(rel)) {
			return true
		}
	}

	return false
}

// groupBlocks keys profile blocks by project-relative path. Files outside
// the module are dropped.
func groupBlocks(profiles []*cover.Profile, modulePath string) map[m.Path][]cover.ProfileBlock {
	out := make(map[m.Path][]cover.ProfileBlock, len(profiles))
	prefix := modulePath + "/"

	for _, p := range profiles {
		if !strings.HasPrefix(p.FileName, prefix) {
			continue
		}

		rel := m.Path(strings.TrimPrefix(p.FileName, prefix))
		out[rel] = append(out[rel], p.Blocks...)
	}

	return out
}

func countLines(content []byte) int {
	if len(content) == 0 {
		return 0
	}

	n := bytes.Count(content, []byte("\n"))
	if content[len(content)-1] != '\n' {
		n++
	}

	return n
}

func excludedFile(lineCount int) m.FileCoverage {
	lines := make([]m.LineCoverage, lineCount)
	for i := range lines {
		lines[i] = m.LineCoverage{Line: i + 1, Status: m.LineExcluded}
	}

	return m.FileCoverage{Lines: lines}
}

// tagLines marks a line covered when any spanning block ran, uncovered when
// spanning blocks exist but none ran, and excluded otherwise.
func tagLines(lineCount int, blocks []cover.ProfileBlock) m.FileCoverage {
	status := make([]m.LineStatus, lineCount+1)
	branches := make([]m.BranchCoverage, 0, len(blocks))

	for _, blk := range blocks {
		taken := blk.Count > 0
		branches = append(branches, m.BranchCoverage{FromLine: blk.StartLine, ToLine: blk.EndLine, Taken: taken})

		for line := blk.StartLine; line <= blk.EndLine && line <= lineCount; line++ {
			if line < 1 {
				continue
			}

			if taken {
				status[line] = m.LineCovered
			} else if status[line] != m.LineCovered {
				status[line] = m.LineUncovered
			}
		}
	}

	lines := make([]m.LineCoverage, lineCount)
	for i := range lines {
		s := status[i+1]
		if s == "" {
			s = m.LineExcluded
		}

		lines[i] = m.LineCoverage{Line: i + 1, Status: s}
	}

	return m.FileCoverage{Lines: lines, Branches: branches}
}
