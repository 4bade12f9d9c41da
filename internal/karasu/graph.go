package karasu

import (
	"fmt"
	"sort"
)

// Graph is a directed acyclic dependency graph over package names.
// An edge dep -> pkg means dep must be resolved/built before pkg.
// The graph is built single-threaded by the resolver and becomes read-only
// once build units are produced.
type Graph struct {
	nodes map[string]bool
	deps  map[string]map[string]bool // pkg -> set of its dependencies
	rdeps map[string]map[string]bool // dep -> set of its dependents
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		deps:  make(map[string]map[string]bool),
		rdeps: make(map[string]map[string]bool),
	}
}

// AddNode registers a package name. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodes[name] {
		return
	}
	g.nodes[name] = true
	g.deps[name] = make(map[string]bool)
	g.rdeps[name] = make(map[string]bool)
}

// AddEdge records that pkg depends on dep. Both nodes are created on demand.
// A self-edge is rejected as a one-node cycle.
func (g *Graph) AddEdge(pkg, dep string) error {
	if pkg == dep {
		return &CycleError{Path: []string{pkg, pkg}}
	}
	g.AddNode(pkg)
	g.AddNode(dep)
	g.deps[pkg][dep] = true
	g.rdeps[dep][pkg] = true
	return nil
}

// HasNode reports whether name is part of the graph.
func (g *Graph) HasNode(name string) bool { return g.nodes[name] }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Deps returns the direct dependencies of pkg, sorted.
func (g *Graph) Deps(pkg string) []string {
	return sortedKeys(g.deps[pkg])
}

// Dependents returns the direct dependents of pkg, sorted.
func (g *Graph) Dependents(pkg string) []string {
	return sortedKeys(g.rdeps[pkg])
}

// Nodes returns all package names, sorted.
func (g *Graph) Nodes() []string {
	return sortedKeys(g.nodes)
}

// Toposort returns a dependency-first ordering of all nodes (every
// dependency appears before each of its dependents). When no such order
// exists it returns a CycleError naming the full cycle path.
func (g *Graph) Toposort() ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		indegree[name] = len(g.deps[name])
	}

	// Deterministic order: ready nodes are drained alphabetically.
	var ready []string
	for name, n := range indegree {
		if n == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := g.Dependents(name)
		inserted := false
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
				inserted = true
			}
		}
		if inserted {
			sort.Strings(ready)
		}
	}

	if len(order) != len(g.nodes) {
		return nil, &CycleError{Path: g.findCycle(indegree)}
	}
	return order, nil
}

// findCycle walks the leftover nodes (nonzero indegree after Kahn's
// algorithm) to recover one concrete cycle path for the error message.
func (g *Graph) findCycle(indegree map[string]int) []string {
	stuck := make(map[string]bool)
	for name, n := range indegree {
		if n > 0 {
			stuck[name] = true
		}
	}

	var start string
	for _, name := range sortedKeys(stuck) {
		start = name
		break
	}
	if start == "" {
		return nil
	}

	// Follow dependency edges inside the stuck set until a node repeats.
	seen := make(map[string]int)
	var path []string
	cur := start
	for {
		if at, ok := seen[cur]; ok {
			cycle := append([]string{}, path[at:]...)
			return append(cycle, cur)
		}
		seen[cur] = len(path)
		path = append(path, cur)
		advanced := false
		for _, dep := range g.Deps(cur) {
			if stuck[dep] {
				cur = dep
				advanced = true
				break
			}
		}
		if !advanced {
			// Should not happen: every stuck node has a stuck dependency.
			return path
		}
	}
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Subgraph returns a copy of g restricted to the given names, keeping only
// edges whose both ends survive.
func (g *Graph) Subgraph(keep map[string]bool) *Graph {
	sub := NewGraph()
	for name := range g.nodes {
		if !keep[name] {
			continue
		}
		sub.AddNode(name)
		for dep := range g.deps[name] {
			if keep[dep] {
				if err := sub.AddEdge(name, dep); err != nil {
					// Self-edges cannot appear in a copy of a valid graph.
					panic(fmt.Sprintf("subgraph: %v", err))
				}
			}
		}
	}
	return sub
}
