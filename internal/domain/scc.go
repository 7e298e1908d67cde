package domain

import "sort"

// stronglyConnectedComponents runs Tarjan's algorithm over nodes in the given
// order. Each component is returned sorted; components come out in reverse
// topological order of the condensation.
func stronglyConnectedComponents(nodes []int, adjacency map[int][]int) (map[int]int, [][]int) {
	index := 0
	stack := make([]int, 0, len(nodes))
	onStack := make(map[int]bool, len(nodes))
	indexByNode := make(map[int]int, len(nodes))
	lowLink := make(map[int]int, len(nodes))
	componentOf := make(map[int]int, len(nodes))
	components := make([][]int, 0)

	var strongConnect func(int)
	strongConnect = func(v int) {
		indexByNode[v] = index
		lowLink[v] = index
		index++

		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adjacency[v] {
			if _, seen := indexByNode[w]; !seen {
				strongConnect(w)

				if lowLink[w] < lowLink[v] {
					lowLink[v] = lowLink[w]
				}
			} else if onStack[w] && indexByNode[w] < lowLink[v] {
				lowLink[v] = indexByNode[w]
			}
		}

		if lowLink[v] != indexByNode[v] {
			return
		}

		component := make([]int, 0)

		for {
			last := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[last] = false

			component = append(component, last)
			if last == v {
				break
			}
		}

		sort.Ints(component)

		compID := len(components)
		components = append(components, component)

		for _, n := range component {
			componentOf[n] = compID
		}
	}

	for _, node := range nodes {
		if _, seen := indexByNode[node]; !seen {
			strongConnect(node)
		}
	}

	return componentOf, components
}
