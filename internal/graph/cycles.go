package graph

import (
	"sort"

	"github.com/standardbeagle/ldg/internal/types"
)

// DetectCycles finds dependency cycles in an already-gathered edge list
// using an iterative DFS with an explicit recursion stack. Each cycle is
// reported as the ordered node sequence including the repeated closing node,
// e.g. [A B C A]. No re-parsing happens here; this is a plain graph
// algorithm over data.
func DetectCycles(edges []types.Dependency) [][]string {
	adjacency := make(map[string][]string)
	nodes := make([]string, 0)
	seen := make(map[string]bool)

	addNode := func(n string) {
		if !seen[n] {
			seen[n] = true
			nodes = append(nodes, n)
		}
	}
	for _, edge := range edges {
		if edge.External || edge.Unresolved {
			continue
		}
		adjacency[edge.Source] = append(adjacency[edge.Source], edge.Target)
		addNode(edge.Source)
		addNode(edge.Target)
	}
	sort.Strings(nodes)
	for _, targets := range adjacency {
		sort.Strings(targets)
	}

	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS path
		black = 2 // fully explored
	)
	color := make(map[string]int, len(nodes))

	var cycles [][]string
	reported := make(map[string]bool)

	type frame struct {
		node string
		next int
	}

	for _, start := range nodes {
		if color[start] != white {
			continue
		}

		stack := []frame{{node: start}}
		path := []string{start}
		color[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			targets := adjacency[top.node]

			if top.next >= len(targets) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				continue
			}

			target := targets[top.next]
			top.next++

			switch color[target] {
			case gray:
				// Found a back edge; slice the cycle out of the current path.
				idx := -1
				for i := len(path) - 1; i >= 0; i-- {
					if path[i] == target {
						idx = i
						break
					}
				}
				if idx >= 0 {
					cycle := make([]string, 0, len(path)-idx+1)
					cycle = append(cycle, path[idx:]...)
					cycle = append(cycle, target)
					key := cycleKey(cycle)
					if !reported[key] {
						reported[key] = true
						cycles = append(cycles, cycle)
					}
				}
			case white:
				color[target] = gray
				stack = append(stack, frame{node: target})
				path = append(path, target)
			}
		}
	}

	return cycles
}

// cycleKey canonicalizes a cycle (rotation-invariant) for deduplication.
func cycleKey(cycle []string) string {
	// Drop the repeated closing node, rotate so the smallest element leads.
	body := cycle[:len(cycle)-1]
	minIdx := 0
	for i, n := range body {
		if n < body[minIdx] {
			minIdx = i
		}
	}
	key := ""
	for i := 0; i < len(body); i++ {
		key += body[(minIdx+i)%len(body)] + "->"
	}
	return key
}
