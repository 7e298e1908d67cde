// Package model defines the data structures shared by the coverage loop.
package model

import "sort"

// Path represents a file system path. Paths stored in snapshots and graphs are
// slash-separated and relative to the project root.
type Path string

// ScopeType defines the kind of code element a scope covers.
type ScopeType string

const (
	// ScopeGlobal represents package-level declarations (const, var, type).
	ScopeGlobal ScopeType = "global"

	// ScopeInit represents init() functions.
	ScopeInit ScopeType = "init"

	// ScopeFunction represents regular function and method bodies.
	ScopeFunction ScopeType = "function"
)

// CodeScope represents a region of code with its scope type and line range.
type CodeScope struct {
	Type      ScopeType
	StartLine int
	EndLine   int
	Name      string // "Func" or "Recv.Method"
	// Calls lists callee names found in the body: plain identifiers for
	// functions and selector names for methods.
	Calls []string
	// Refs lists package-level variables and constants the body reads or writes.
	Refs []string
	// Ignored is set by an //autocov:ignore directive.
	Ignored bool
}

// Contains reports whether line falls inside the scope.
func (s CodeScope) Contains(line int) bool {
	return line >= s.StartLine && line <= s.EndLine
}

// MethodName returns the method part of "Recv.Method", or the name itself.
func (s CodeScope) MethodName() string {
	for i := len(s.Name) - 1; i >= 0; i-- {
		if s.Name[i] == '.' {
			return s.Name[i+1:]
		}
	}

	return s.Name
}

// FileSource holds the static structure of one Go source file.
type FileSource struct {
	Path       Path   // relative to the project root
	Package    string // package clause name
	PackageDir Path   // slash-separated dir relative to the project root
	Scopes     []CodeScope
}

// ScopeAt returns the innermost function scope containing line.
func (f FileSource) ScopeAt(line int) (CodeScope, bool) {
	var (
		best  CodeScope
		found bool
	)

	for _, scope := range f.Scopes {
		if scope.Type == ScopeGlobal || !scope.Contains(line) {
			continue
		}

		if !found || scope.EndLine-scope.StartLine < best.EndLine-best.StartLine {
			best = scope
			found = true
		}
	}

	return best, found
}

// SourceIndex maps project-relative paths to their static structure.
type SourceIndex map[Path]FileSource

// Paths returns the indexed paths in lexical order.
func (idx SourceIndex) Paths() []Path {
	paths := make([]Path, 0, len(idx))
	for p := range idx {
		paths = append(paths, p)
	}

	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	return paths
}
