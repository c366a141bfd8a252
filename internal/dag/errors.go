package dag

import (
	"fmt"
	"strings"
)

// MissingDependency is a declared edge whose source node does not exist.
type MissingDependency struct {
	Node      string
	DependsOn string
}

// InvalidGraphError reports a graph that must not be executed: it either
// contains a cycle or references undeclared nodes.
type InvalidGraphError struct {
	// Cycle is the path of the detected cycle with the first node repeated
	// at the end, e.g. [a b c a].
	Cycle   []string
	Missing []MissingDependency
}

func (e *InvalidGraphError) Error() string {
	if len(e.Cycle) > 0 {
		return fmt.Sprintf("invalid graph: cycle detected: %s", strings.Join(e.Cycle, " -> "))
	}
	parts := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s depends on undeclared node %s", m.Node, m.DependsOn))
	}
	return "invalid graph: " + strings.Join(parts, "; ")
}
