package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// RegionID identifies a region as "file:start-end".
type RegionID string

// Region is a contiguous uncovered line range inside one scope of one file.
type Region struct {
	ID        RegionID
	File      Path
	Scope     string // enclosing function, empty at file level
	StartLine int
	EndLine   int
	Lines     []int // the uncovered lines, ascending
}

// NewRegionID builds the canonical id of a region.
func NewRegionID(file Path, start, end int) RegionID {
	return RegionID(fmt.Sprintf("%s:%d-%d", file, start, end))
}

// ParseRegionID splits an id built by NewRegionID.
func ParseRegionID(id RegionID) (file Path, start, end int, err error) {
	s := string(id)

	colon := strings.LastIndex(s, ":")
	if colon < 0 {
		return "", 0, 0, fmt.Errorf("region id %q: missing line range", id)
	}

	from, to, ok := strings.Cut(s[colon+1:], "-")
	if !ok {
		return "", 0, 0, fmt.Errorf("region id %q: malformed line range", id)
	}

	if start, err = strconv.Atoi(from); err != nil {
		return "", 0, 0, fmt.Errorf("region id %q: %w", id, err)
	}

	if end, err = strconv.Atoi(to); err != nil {
		return "", 0, 0, fmt.Errorf("region id %q: %w", id, err)
	}

	return Path(s[:colon]), start, end, nil
}

// Size is the number of uncovered lines in the region.
func (r Region) Size() int {
	return len(r.Lines)
}

// EdgeKind explains why an edge exists. Traversal treats both kinds alike.
type EdgeKind string

const (
	// EdgeControl means the source scope calls into the target scope.
	EdgeControl EdgeKind = "control"
	// EdgeData means both scopes reference the same package-level symbol.
	EdgeData EdgeKind = "data"
)

// Edge is a directed dependency between two regions.
type Edge struct {
	From RegionID
	To   RegionID
	Kind EdgeKind
}

// TargetID identifies a generation target.
type TargetID string

// Target is what a candidate is generated for: a single region, or a
// macro-region collapsing a strongly connected component.
type Target struct {
	ID      TargetID
	Members []Region // sorted by file, then start line
}

// NewTarget sorts members and derives the target id.
func NewTarget(members []Region, macro bool) Target {
	sorted := append([]Region(nil), members...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].File != sorted[j].File {
			return sorted[i].File < sorted[j].File
		}

		return sorted[i].StartLine < sorted[j].StartLine
	})

	if !macro && len(sorted) == 1 {
		return Target{ID: TargetID(sorted[0].ID), Members: sorted}
	}

	ids := make([]string, len(sorted))
	for i, r := range sorted {
		ids[i] = string(r.ID)
	}

	return Target{ID: TargetID("macro(" + strings.Join(ids, ",") + ")"), Members: sorted}
}

// IsMacro reports whether the target is a collapsed component.
func (t Target) IsMacro() bool {
	return strings.HasPrefix(string(t.ID), "macro(")
}

// Size is the total number of uncovered lines across members.
func (t Target) Size() int {
	n := 0
	for _, r := range t.Members {
		n += r.Size()
	}

	return n
}

// Lead returns the first member, which anchors ordering and file placement.
func (t Target) Lead() Region {
	if len(t.Members) == 0 {
		return Region{}
	}

	return t.Members[0]
}

// RegionIDs lists member ids in member order.
func (t Target) RegionIDs() []RegionID {
	ids := make([]RegionID, len(t.Members))
	for i, r := range t.Members {
		ids[i] = r.ID
	}

	return ids
}

// Files lists the distinct files the target touches, sorted.
func (t Target) Files() []Path {
	seen := make(map[Path]struct{}, len(t.Members))
	files := make([]Path, 0, len(t.Members))

	for _, r := range t.Members {
		if _, ok := seen[r.File]; ok {
			continue
		}

		seen[r.File] = struct{}{}
		files = append(files, r.File)
	}

	sort.Slice(files, func(i, j int) bool { return files[i] < files[j] })

	return files
}

// Graph is the uncovered-region graph of one iteration. Targets holds the
// priority order used for selection.
type Graph struct {
	Regions []Region
	Edges   []Edge
	Targets []Target
}

