// Package node defines the unit of work the executor schedules: a named task
// with explicit dependencies and an action producing an output.
package node

import (
	"context"
	"time"
)

// Action performs a node's work. Its output becomes visible to dependents
// once the node is Ready.
type Action func(ctx context.Context) (any, error)

// Task is a single vertex of the execution graph.
type Task struct {
	// Name is the node address, e.g. "resource.hcloud_server.box" or "probe.ssh".
	Name string
	// DependsOn lists the names of nodes that must be Ready before this one starts.
	DependsOn []string
	Action    Action
	Retry     RetryPolicy
}

// RetryPolicy controls re-invocation of an action that is known to be
// idempotent. The zero value means a single attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// Interval is the initial delay between attempts; it grows exponentially.
	Interval time.Duration
	// MaxInterval caps the delay between attempts. Zero means no cap beyond
	// the backoff library default.
	MaxInterval time.Duration
}

// Attempts returns the effective number of invocations.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// State represents the execution state of a node in the graph.
type State int32

const (
	// Pending indicates the node is waiting for its dependencies to complete.
	Pending State = iota
	// Running indicates the node is currently being executed by a worker.
	Running
	// Ready indicates the node has completed successfully and its output is available.
	Ready
	// Failed indicates the node's action returned an error.
	Failed
	// Skipped indicates the node never ran because an upstream node failed
	// or the run was halted.
	Skipped
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	}
	return "unknown"
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, bool) {
	for st := Pending; st <= Skipped; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return Pending, false
}
