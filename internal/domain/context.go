package domain

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/mouse-blink/autocov/internal/adapter"
	m "github.com/mouse-blink/autocov/internal/model"
)

// Limits on how much surrounding material goes into one prompt.
const (
	maxTestFileBytes  = 8 * 1024
	maxTestTotalBytes = 24 * 1024
	maxSummaryFiles   = 200
	snippetPadding    = 3
)

// Snippet is one target member rendered with line numbers. Uncovered lines
// are marked.
type Snippet struct {
	File      m.Path
	Scope     string
	StartLine int
	EndLine   int
	Code      string
}

// TestFile is an existing test file of the target package. Name is
// project-relative.
type TestFile struct {
	Name    string
	Content string
}

// FileSummary lists the functions declared in a project file.
type FileSummary struct {
	Path      m.Path
	Functions []string
}

// CodeContext is everything the generator knows about a target.
type CodeContext struct {
	Package       string
	PackageDir    m.Path
	Snippets      []Snippet
	ExistingTests []TestFile
	Summary       []FileSummary
}

// ContextBuilder gathers the code a prompt needs for a target.
type ContextBuilder interface {
	Build(root m.Path, index m.SourceIndex, target m.Target) (CodeContext, error)
}

type contextBuilder struct {
	fs adapter.SourceFSAdapter
}

// NewContextBuilder constructs a ContextBuilder reading through fs.
func NewContextBuilder(fs adapter.SourceFSAdapter) ContextBuilder {
	return &contextBuilder{fs: fs}
}

func (b *contextBuilder) Build(root m.Path, index m.SourceIndex, target m.Target) (CodeContext, error) {
	lead := target.Lead()
	src := index[lead.File]

	cc := CodeContext{
		Package:    src.Package,
		PackageDir: src.PackageDir,
	}

	if cc.PackageDir == "" {
		cc.PackageDir = m.Path(path.Dir(string(lead.File)))
	}

	lines := make(map[m.Path][]string)

	for _, region := range target.Members {
		fileLines, ok := lines[region.File]
		if !ok {
			content, err := b.fs.ReadFile(b.abs(root, region.File))
			if err != nil {
				return CodeContext{}, fmt.Errorf("read %s: %w", region.File, err)
			}

			fileLines = strings.Split(string(content), "\n")
			lines[region.File] = fileLines
		}

		cc.Snippets = append(cc.Snippets, renderSnippet(region, index[region.File], fileLines))
	}

	cc.ExistingTests = b.existingTests(root, cc.PackageDir)
	cc.Summary = summarize(index)

	return cc, nil
}

func (b *contextBuilder) abs(root, rel m.Path) m.Path {
	return b.fs.JoinPath(string(root), filepath.FromSlash(string(rel)))
}

// renderSnippet shows the whole enclosing scope, or a padded window when the
// region has none.
func renderSnippet(region m.Region, src m.FileSource, fileLines []string) Snippet {
	start := region.StartLine - snippetPadding
	end := region.EndLine + snippetPadding

	if scope, ok := src.ScopeAt(region.StartLine); ok {
		start, end = scope.StartLine, scope.EndLine
	}

	start = max(start, 1)
	end = min(end, len(fileLines))

	uncovered := make(map[int]struct{}, len(region.Lines))
	for _, l := range region.Lines {
		uncovered[l] = struct{}{}
	}

	var sb strings.Builder

	for n := start; n <= end; n++ {
		marker := "  "
		if _, ok := uncovered[n]; ok {
			marker = ">>"
		}

		fmt.Fprintf(&sb, "%s %4d | %s\n", marker, n, fileLines[n-1])
	}

	return Snippet{
		File:      region.File,
		Scope:     region.Scope,
		StartLine: start,
		EndLine:   end,
		Code:      sb.String(),
	}
}

func (b *contextBuilder) existingTests(root, packageDir m.Path) []TestFile {
	files, err := b.fs.TestFiles(b.abs(root, packageDir))
	if err != nil {
		return nil
	}

	var (
		tests []TestFile
		total int
	)

	for _, file := range files {
		content, err := b.fs.ReadFile(file)
		if err != nil {
			continue
		}

		if len(content) > maxTestFileBytes {
			content = append(content[:maxTestFileBytes:maxTestFileBytes], []byte("\n// ...truncated")...)
		}

		if total+len(content) > maxTestTotalBytes {
			break
		}

		total += len(content)

		name, err := b.fs.RelPath(root, file)
		if err != nil {
			name = m.Path(filepath.Base(string(file)))
		}

		tests = append(tests, TestFile{Name: string(name), Content: string(content)})
	}

	return tests
}

func summarize(index m.SourceIndex) []FileSummary {
	var out []FileSummary

	for _, p := range index.Paths() {
		if len(out) == maxSummaryFiles {
			break
		}

		var funcs []string

		for _, scope := range index[p].Scopes {
			if scope.Type == m.ScopeFunction {
				funcs = append(funcs, scope.Name)
			}
		}

		out = append(out, FileSummary{Path: p, Functions: funcs})
	}

	return out
}
