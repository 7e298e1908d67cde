package domain

import (
	"path"
	"sort"

	m "github.com/mouse-blink/autocov/internal/model"
)

// GraphBuilder turns a coverage snapshot into prioritized targets.
type GraphBuilder interface {
	// Build groups uncovered lines into regions, links them by calls and
	// shared package state, collapses cycles, and orders the result. The same
	// inputs always produce the same graph.
	Build(snapshot m.Snapshot, index m.SourceIndex) m.Graph
}

type graphBuilder struct{}

// NewGraphBuilder returns the default GraphBuilder.
func NewGraphBuilder() GraphBuilder {
	return &graphBuilder{}
}

// regionNode is a region plus the static facts edges are derived from.
type regionNode struct {
	region     m.Region
	scope      m.CodeScope
	hasScope   bool
	packageDir m.Path
	recursive  bool
}

func (b *graphBuilder) Build(snapshot m.Snapshot, index m.SourceIndex) m.Graph {
	nodes := collectRegions(snapshot, index)
	edges := linkRegions(nodes)
	targets := prioritize(nodes, edges)

	regions := make([]m.Region, len(nodes))
	for i, n := range nodes {
		regions[i] = n.region
	}

	graphEdges := make([]m.Edge, len(edges))
	for i, e := range edges {
		graphEdges[i] = m.Edge{From: nodes[e.from].region.ID, To: nodes[e.to].region.ID, Kind: e.kind}
	}

	return m.Graph{Regions: regions, Edges: graphEdges, Targets: targets}
}

// collectRegions walks every file in path order and merges uncovered lines
// that share a scope. Excluded lines do not split a region; covered lines
// and scope changes do.
func collectRegions(snapshot m.Snapshot, index m.SourceIndex) []regionNode {
	var nodes []regionNode

	for _, file := range snapshot.Paths() {
		fc, _ := snapshot.File(file)
		src, indexed := index[file]

		dir := src.PackageDir
		if !indexed || dir == "" {
			dir = m.Path(path.Dir(string(file)))
		}

		var (
			open    bool
			current regionNode
		)

		flush := func() {
			if open && !(current.hasScope && current.scope.Ignored) {
				r := &current.region
				r.ID = m.NewRegionID(r.File, r.StartLine, r.EndLine)
				nodes = append(nodes, current)
			}

			open = false
		}

		for _, lc := range fc.Lines {
			switch lc.Status {
			case m.LineCovered:
				flush()
			case m.LineUncovered:
				scope, hasScope := src.ScopeAt(lc.Line)
				if open && current.hasScope == hasScope && current.scope.Name == scope.Name &&
					current.scope.StartLine == scope.StartLine {
					current.region.EndLine = lc.Line
					current.region.Lines = append(current.region.Lines, lc.Line)

					continue
				}

				flush()

				current = regionNode{
					region: m.Region{
						File:      file,
						Scope:     scope.Name,
						StartLine: lc.Line,
						EndLine:   lc.Line,
						Lines:     []int{lc.Line},
					},
					scope:      scope,
					hasScope:   hasScope,
					packageDir: dir,
				}
				open = true
			case m.LineExcluded:
			}
		}

		flush()
	}

	return nodes
}

type edgeIdx struct {
	from, to int
	kind     m.EdgeKind
}

// linkRegions derives control and data edges between regions of the same
// package directory. A scope that calls itself marks its regions recursive.
func linkRegions(nodes []regionNode) []edgeIdx {
	byDir := make(map[m.Path][]int)
	dirs := make([]m.Path, 0)

	for i := range nodes {
		dir := nodes[i].packageDir
		if _, ok := byDir[dir]; !ok {
			dirs = append(dirs, dir)
		}

		byDir[dir] = append(byDir[dir], i)

		if nodes[i].hasScope && contains(nodes[i].scope.Calls, nodes[i].scope.MethodName()) {
			nodes[i].recursive = true
		}
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i] < dirs[j] })

	var edges []edgeIdx

	for _, dir := range dirs {
		members := byDir[dir]

		for _, a := range members {
			for _, b := range members {
				if a == b || !nodes[a].hasScope || !nodes[b].hasScope {
					continue
				}

				sa, sb := nodes[a].scope, nodes[b].scope

				if contains(sa.Calls, sb.MethodName()) {
					edges = append(edges, edgeIdx{from: a, to: b, kind: m.EdgeControl})
				}

				// nodes are already in (file, start) order
				if a < b && sharesAny(sa.Refs, sb.Refs) {
					edges = append(edges, edgeIdx{from: a, to: b, kind: m.EdgeData})
				}
			}
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].from != edges[j].from {
			return edges[i].from < edges[j].from
		}

		if edges[i].to != edges[j].to {
			return edges[i].to < edges[j].to
		}

		return edges[i].kind < edges[j].kind
	})

	return edges
}

// prioritize collapses strongly connected components into macro targets and
// emits them in topological order, choosing among ready targets by size
// (descending), then file, then start line.
func prioritize(nodes []regionNode, edges []edgeIdx) []m.Target {
	if len(nodes) == 0 {
		return nil
	}

	order := make([]int, len(nodes))
	adjacency := make(map[int][]int)

	for i := range nodes {
		order[i] = i
	}

	for _, e := range edges {
		adjacency[e.from] = append(adjacency[e.from], e.to)
	}

	componentOf, components := stronglyConnectedComponents(order, adjacency)

	targets := make([]m.Target, len(components))

	for c, members := range components {
		regions := make([]m.Region, len(members))
		for i, n := range members {
			regions[i] = nodes[n].region
		}

		macro := len(members) > 1 || nodes[members[0]].recursive
		targets[c] = m.NewTarget(regions, macro)
	}

	indegree := make([]int, len(components))
	successors := make([]map[int]struct{}, len(components))

	for _, e := range edges {
		from, to := componentOf[e.from], componentOf[e.to]
		if from == to {
			continue
		}

		if successors[from] == nil {
			successors[from] = make(map[int]struct{})
		}

		if _, dup := successors[from][to]; dup {
			continue
		}

		successors[from][to] = struct{}{}
		indegree[to]++
	}

	var ready []int

	for c := range components {
		if indegree[c] == 0 {
			ready = append(ready, c)
		}
	}

	less := func(a, b m.Target) bool {
		if a.Size() != b.Size() {
			return a.Size() > b.Size()
		}

		la, lb := a.Lead(), b.Lead()
		if la.File != lb.File {
			return la.File < lb.File
		}

		return la.StartLine < lb.StartLine
	}

	ordered := make([]m.Target, 0, len(components))

	for len(ready) > 0 {
		best := 0
		for i := 1; i < len(ready); i++ {
			if less(targets[ready[i]], targets[ready[best]]) {
				best = i
			}
		}

		c := ready[best]
		ready = append(ready[:best], ready[best+1:]...)
		ordered = append(ordered, targets[c])

		next := make([]int, 0, len(successors[c]))
		for s := range successors[c] {
			next = append(next, s)
		}

		sort.Ints(next)

		for _, s := range next {
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	return ordered
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}

	return false
}

func sharesAny(a, b []string) bool {
	for _, x := range a {
		if contains(b, x) {
			return true
		}
	}

	return false
}
