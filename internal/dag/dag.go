// SPDX-License-Identifier: MPL-2.0

// Package dag orders provisioning steps. Nodes are step names; an edge from A
// to B means A must complete before B starts. Sorting is deterministic: among
// the nodes that are ready at any point, the one added first wins, so a
// manifest's declaration order survives wherever dependencies allow.
package dag

import (
	"fmt"
	"slices"
	"strings"
)

type (
	// CycleError indicates that the graph contains a cycle, preventing topological ordering.
	CycleError struct {
		// Cycle lists the nodes left unordered, in insertion order. It always
		// contains every member of at least one cycle.
		Cycle []string
	}

	// Edge is a "must run before" relation.
	Edge struct {
		From string
		To   string
	}

	// Graph is a directed graph for topological sorting.
	Graph struct {
		adjacency map[string][]string
		preds     map[string][]string
		nodes     []string
		index     map[string]int
		edges     map[Edge]bool
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New creates an empty Graph.
func New() *Graph {
	return &Graph{
		adjacency: make(map[string][]string),
		preds:     make(map[string][]string),
		index:     make(map[string]int),
		edges:     make(map[Edge]bool),
	}
}

// AddNode adds a node to the graph. If the node already exists, this is a no-op.
func (g *Graph) AddNode(name string) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// AddEdge adds a directed edge from -> to, meaning "from" must run before "to".
// Both nodes are implicitly added if they don't exist. Duplicate edges are
// ignored.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	e := Edge{From: from, To: to}
	if g.edges[e] {
		return
	}
	g.edges[e] = true
	g.adjacency[from] = append(g.adjacency[from], to)
	g.preds[to] = append(g.preds[to], from)
}

// Nodes returns the nodes in insertion order.
func (g *Graph) Nodes() []string {
	return slices.Clone(g.nodes)
}

// HasEdge reports whether from -> to was added.
func (g *Graph) HasEdge(from, to string) bool {
	return g.edges[Edge{From: from, To: to}]
}

// Predecessors returns the direct predecessors of name in insertion order.
func (g *Graph) Predecessors(name string) []string {
	out := slices.Clone(g.preds[name])
	slices.SortFunc(out, func(a, b string) int { return g.index[a] - g.index[b] })
	return out
}

// Edges returns every edge, ordered by the insertion index of From then To.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		out = append(out, e)
	}
	slices.SortFunc(out, func(a, b Edge) int {
		if d := g.index[a.From] - g.index[b.From]; d != 0 {
			return d
		}
		return g.index[a.To] - g.index[b.To]
	})
	return out
}

// TopologicalSort returns a valid execution order using Kahn's algorithm,
// always taking the earliest-inserted ready node next.
// Returns CycleError if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := g.inDegrees()
	var ready []int
	for i, node := range g.nodes {
		if inDegree[node] == 0 {
			ready = append(ready, i)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		// ready stays sorted, so the head is the earliest-inserted node.
		node := g.nodes[ready[0]]
		ready = ready[1:]
		result = append(result, node)

		for _, next := range g.adjacency[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				i := g.index[next]
				pos, _ := slices.BinarySearch(ready, i)
				ready = slices.Insert(ready, pos, i)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, g.cycleError(inDegree)
	}
	return result, nil
}

// Levels groups nodes by longest-path depth: level 0 holds nodes without
// predecessors and every node sits one level after its deepest predecessor.
// Nodes in the same level are independent and keep insertion order.
func (g *Graph) Levels() ([][]string, error) {
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	depth := make(map[string]int, len(order))
	var levels [][]string
	for _, node := range order {
		d := 0
		for _, p := range g.preds[node] {
			d = max(d, depth[p]+1)
		}
		depth[node] = d
		if d == len(levels) {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], node)
	}
	for _, lvl := range levels {
		slices.SortFunc(lvl, func(a, b string) int { return g.index[a] - g.index[b] })
	}
	return levels, nil
}

// Violations returns the edges that the given order contradicts, i.e. edges
// whose To node is listed before their From node. Nodes missing from order
// are ignored.
func (g *Graph) Violations(order []string) []Edge {
	pos := make(map[string]int, len(order))
	for i, n := range order {
		pos[n] = i
	}
	var out []Edge
	for _, e := range g.Edges() {
		pf, okF := pos[e.From]
		pt, okT := pos[e.To]
		if okF && okT && pt < pf {
			out = append(out, e)
		}
	}
	return out
}

func (g *Graph) inDegrees() map[string]int {
	inDegree := make(map[string]int, len(g.nodes))
	for _, node := range g.nodes {
		inDegree[node] = len(g.preds[node])
	}
	return inDegree
}

func (g *Graph) cycleError(inDegree map[string]int) *CycleError {
	var cycleNodes []string
	for _, node := range g.nodes {
		if inDegree[node] > 0 {
			cycleNodes = append(cycleNodes, node)
		}
	}
	return &CycleError{Cycle: cycleNodes}
}
