// Package executor runs a validated dependency graph of node.Tasks on a
// worker pool. A node starts the instant all of its dependencies are Ready;
// a failure skips every transitive dependent while independent branches keep
// running.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/specialistvlad/remotebox/internal/dag"
	"github.com/specialistvlad/remotebox/internal/node"
)

// Observer receives node lifecycle notifications. Calls may arrive
// concurrently from several workers.
type Observer interface {
	NodeStarted(ctx context.Context, name string)
	NodeFinished(ctx context.Context, name string, result NodeResult)
}

// Executor owns one execution of a task graph. It is not reusable.
type Executor struct {
	graph      *dag.Graph
	entries    map[string]*entry
	numWorkers int
	observers  []Observer

	wg     sync.WaitGroup
	halted atomic.Bool
}

type entry struct {
	task node.Task

	depCount atomic.Int32
	state    atomic.Int32
	skipOnce sync.Once

	// Written once by the goroutine that settles the node, read after wg.Wait.
	output   any
	err      error
	start    time.Time
	end      time.Time
	attempts int
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers bounds the number of concurrently running nodes. Values below
// one fall back to one worker per node.
func WithWorkers(n int) Option {
	return func(e *Executor) { e.numWorkers = n }
}

// WithObserver registers an Observer.
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observers = append(e.observers, o) }
}

// New validates the tasks as a graph and prepares an executor. Dangling
// dependencies and cycles are rejected with a *dag.InvalidGraphError before
// any action runs.
func New(tasks []node.Task, opts ...Option) (*Executor, error) {
	specs := make([]dag.Spec, 0, len(tasks))
	entries := make(map[string]*entry, len(tasks))
	for _, t := range tasks {
		if _, dup := entries[t.Name]; dup {
			return nil, fmt.Errorf("duplicate node name: %s", t.Name)
		}
		if t.Action == nil {
			return nil, fmt.Errorf("node %s has no action", t.Name)
		}
		entries[t.Name] = &entry{task: t}
		specs = append(specs, dag.Spec{Name: t.Name, DependsOn: t.DependsOn})
	}

	g, err := dag.Build(specs)
	if err != nil {
		return nil, err
	}

	e := &Executor{graph: g, entries: entries}
	for _, opt := range opts {
		opt(e)
	}
	if e.numWorkers < 1 {
		e.numWorkers = len(tasks)
	}

	for _, id := range g.Nodes() {
		deps, _ := g.Dependencies(id)
		entries[id].depCount.Store(int32(len(deps)))
	}
	return e, nil
}

// Graph returns the validated dependency graph.
func (e *Executor) Graph() *dag.Graph {
	return e.graph
}
