// Package dag provides directed acyclic graph operations over a dbt
// project's dependency graph. Nodes are manifest unique IDs; edges point
// from a resource to the resources that depend on it.
package dag

import (
	"fmt"
	"sort"
)

// Graph represents a directed acyclic graph of resource dependencies.
type Graph struct {
	nodes   map[string]struct{}
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]struct{}),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// FromChildMap builds a graph from a manifest child map. Every key and
// every referenced child becomes a node.
func FromChildMap(childMap map[string][]string) *Graph {
	g := NewGraph()
	for parent := range childMap {
		g.AddNode(parent)
	}
	for parent, children := range childMap {
		for _, child := range children {
			g.AddNode(child)
			_ = g.AddEdge(parent, child)
		}
	}
	return g
}

// AddNode adds a node to the graph. Adding an existing node is a no-op.
func (g *Graph) AddNode(id string) {
	if _, exists := g.nodes[id]; exists {
		return
	}
	g.nodes[id] = struct{}{}
	g.edges[id] = []string{}
	g.parents[id] = []string{}
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent node %q does not exist", parentID)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child node %q does not exist", childID)
	}
	if parentID == childID {
		return fmt.Errorf("self-loop detected: %s", parentID)
	}

	// Avoid duplicate edges
	if !contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}

	return nil
}

// HasNode reports whether a node is present in the graph.
func (g *Graph) HasNode(id string) bool {
	_, exists := g.nodes[id]
	return exists
}

// Nodes returns all node IDs sorted for deterministic output.
func (g *Graph) Nodes() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// GetParents returns the direct dependencies of a node.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the direct dependents of a node.
func (g *Graph) GetChildren(id string) []string {
	return g.edges[id]
}

// HasCycle returns true if the graph contains a cycle, along with the cycle path.
func (g *Graph) HasCycle() (bool, []string) {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make(map[string]string) // Track the path for error reporting

	var cyclePath []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, childID := range g.edges[id] {
			if !visited[childID] {
				path[childID] = id
				if dfs(childID) {
					return true
				}
			} else if recStack[childID] {
				// Found cycle, reconstruct path
				cyclePath = []string{childID}
				for curr := id; curr != childID; curr = path[curr] {
					cyclePath = append([]string{curr}, cyclePath...)
				}
				cyclePath = append([]string{childID}, cyclePath...)
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for id := range g.nodes {
		if !visited[id] {
			if dfs(id) {
				return true, cyclePath
			}
		}
	}

	return false, nil
}

// TopologicalSort returns node IDs in dependency order (dependencies before
// dependents). Returns an error if the graph contains a cycle.
func (g *Graph) TopologicalSort() ([]string, error) {
	if hasCycle, cyclePath := g.HasCycle(); hasCycle {
		return nil, fmt.Errorf("cycle detected: %v", cyclePath)
	}

	visited := make(map[string]bool)
	var result []string

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		// Visit all parents first
		for _, parentID := range g.parents[id] {
			visit(parentID)
		}

		result = append(result, id)
	}

	for _, id := range g.Nodes() {
		visit(id)
	}

	return result, nil
}

// GetUpstreamNodes returns every node reachable by following parent edges
// from id, at most depth levels away. A negative depth means unlimited.
func (g *Graph) GetUpstreamNodes(id string, depth int) []string {
	return g.walk(id, depth, g.parents)
}

// GetDownstreamNodes returns every node reachable by following child edges
// from id, at most depth levels away. A negative depth means unlimited.
func (g *Graph) GetDownstreamNodes(id string, depth int) []string {
	return g.walk(id, depth, g.edges)
}

// walk performs a breadth-first traversal over the given adjacency map.
func (g *Graph) walk(id string, depth int, adjacent map[string][]string) []string {
	if _, exists := g.nodes[id]; !exists {
		return nil
	}

	seen := map[string]bool{id: true}
	frontier := []string{id}
	var reached []string

	for level := 0; len(frontier) > 0 && (depth < 0 || level < depth); level++ {
		var next []string
		for _, current := range frontier {
			for _, neighbor := range adjacent[current] {
				if seen[neighbor] {
					continue
				}
				seen[neighbor] = true
				reached = append(reached, neighbor)
				next = append(next, neighbor)
			}
		}
		frontier = next
	}

	sort.Strings(reached)
	return reached
}

// GetRoots returns nodes with no parents (no dependencies).
func (g *Graph) GetRoots() []string {
	var roots []string
	for id := range g.nodes {
		if len(g.parents[id]) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// GetLeaves returns nodes with no children (no dependents).
func (g *Graph) GetLeaves() []string {
	var leaves []string
	for id := range g.nodes {
		if len(g.edges[id]) == 0 {
			leaves = append(leaves, id)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Subgraph returns a new graph containing only the specified nodes and the
// edges between them.
func (g *Graph) Subgraph(nodeIDs []string) *Graph {
	subgraph := NewGraph()
	nodeSet := make(map[string]bool)

	for _, id := range nodeIDs {
		if _, exists := g.nodes[id]; exists {
			nodeSet[id] = true
			subgraph.AddNode(id)
		}
	}

	// Add edges between included nodes
	for _, id := range nodeIDs {
		for _, childID := range g.edges[id] {
			if nodeSet[childID] {
				_ = subgraph.AddEdge(id, childID)
			}
		}
	}

	return subgraph
}

// Filter returns a new graph holding only the nodes the keep function
// accepts, with edges between surviving nodes preserved.
func (g *Graph) Filter(keep func(id string) bool) *Graph {
	var ids []string
	for id := range g.nodes {
		if keep(id) {
			ids = append(ids, id)
		}
	}
	return g.Subgraph(ids)
}

// IdentifyInterface returns the members of the selection that form its
// public surface: nodes with at least one child outside the selection,
// plus nodes with no children at all. Selected IDs missing from the graph
// are ignored.
func (g *Graph) IdentifyInterface(selected map[string]struct{}) []string {
	var boundary []string
	for id := range selected {
		if _, exists := g.nodes[id]; !exists {
			continue
		}
		children := g.edges[id]
		if len(children) == 0 {
			boundary = append(boundary, id)
			continue
		}
		for _, childID := range children {
			if _, ok := selected[childID]; !ok {
				boundary = append(boundary, id)
				break
			}
		}
	}
	sort.Strings(boundary)
	return boundary
}

// contains checks if a slice contains a string.
func contains(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
