package dag

import (
	"fmt"
	"sort"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
	}
}

// Build creates a graph from declared specs and validates it. Every dangling
// dependency is collected before returning, so a single error names all of
// them. Cycle detection only runs on a graph with no dangling edges.
func Build(specs []Spec) (*Graph, error) {
	g := New()
	for _, s := range specs {
		g.AddNode(s.Name)
	}

	var missing []MissingDependency
	for _, s := range specs {
		for _, dep := range s.DependsOn {
			if !g.Has(dep) {
				missing = append(missing, MissingDependency{Node: s.Name, DependsOn: dep})
				continue
			}
			if err := g.AddEdge(dep, s.Name); err != nil {
				return nil, &InvalidGraphError{Cycle: []string{s.Name, s.Name}}
			}
		}
	}
	if len(missing) > 0 {
		return nil, &InvalidGraphError{Missing: missing}
	}

	if err := g.DetectCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// AddNode adds a new node with the given ID to the graph. If a node with
// the same ID already exists, the function does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.nodes[id]; ok {
		return
	}

	g.nodes[id] = &node{
		id:         id,
		deps:       make(map[string]*node),
		dependents: make(map[string]*node),
	}
	g.order = append(g.order, id)
}

// Has reports whether a node with the given ID exists.
func (g *Graph) Has(id string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.nodes[id]
	return ok
}

// AddEdge creates a directed edge from the `fromID` node to the `toID` node.
// This signifies that `toID` has a dependency on `fromID`. An error is returned
// if either node does not exist or if the edge would create a self-reference.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("self-referential edge not allowed: %s -> %s", fromID, fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	fromNode, ok := g.nodes[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}

	toNode, ok := g.nodes[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}

	toNode.deps[fromID] = fromNode
	fromNode.dependents[toID] = toNode

	return nil
}

// Nodes returns every node ID in insertion order.
func (g *Graph) Nodes() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return append([]string(nil), g.order...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the sorted IDs of the nodes the given node depends on.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedKeys(n.deps), nil
}

// Dependents returns the sorted IDs of the nodes that depend on the given node.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}
	return sortedKeys(n.dependents), nil
}

// Ancestors returns the set of every node reachable by following
// dependencies from id. The node itself is not included.
func (g *Graph) Ancestors(id string) (map[string]bool, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	start, ok := g.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node not found: %s", id)
	}

	seen := make(map[string]bool)
	stack := []*node{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for depID, dep := range n.deps {
			if !seen[depID] {
				seen[depID] = true
				stack = append(stack, dep)
			}
		}
	}
	return seen, nil
}

// TopologicalOrder returns the node IDs so that every node follows all of its
// dependencies. Ties are broken by insertion order. The graph must be acyclic.
func (g *Graph) TopologicalOrder() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	indegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		indegree[id] = len(n.deps)
	}

	var out []string
	placed := make(map[string]bool, len(g.nodes))
	for len(out) < len(g.nodes) {
		progressed := false
		for _, id := range g.order {
			if placed[id] || indegree[id] > 0 {
				continue
			}
			placed[id] = true
			out = append(out, id)
			for depID := range g.nodes[id].dependents {
				indegree[depID]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return out
}

// DetectCycles checks the graph for any cycles. It returns an
// *InvalidGraphError carrying the cycle path, first node repeated last.
func (g *Graph) DetectCycles() error {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	// Classic depth-first search with three sets of nodes:
	// permanent: fully visited and not part of a cycle.
	// temporary: on the current recursion stack.
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)
	var path []string

	var visit func(n *node) []string
	visit = func(n *node) []string {
		if permanent[n.id] {
			return nil
		}
		if temporary[n.id] {
			for i, id := range path {
				if id == n.id {
					cycle := append([]string(nil), path[i:]...)
					return append(cycle, n.id)
				}
			}
		}

		temporary[n.id] = true
		path = append(path, n.id)

		for _, id := range sortedKeys(n.dependents) {
			if cycle := visit(n.dependents[id]); cycle != nil {
				return cycle
			}
		}

		path = path[:len(path)-1]
		delete(temporary, n.id)
		permanent[n.id] = true
		return nil
	}

	for _, id := range g.order {
		if cycle := visit(g.nodes[id]); cycle != nil {
			return &InvalidGraphError{Cycle: cycle}
		}
	}
	return nil
}

func sortedKeys(m map[string]*node) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
