package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/node"
)

// Status is the overall outcome of a run.
type Status string

const (
	Success Status = "success"
	Failure Status = "failure"
)

// NodeResult is the final record of one node.
type NodeResult struct {
	State    node.State
	Output   any
	Err      error
	Start    time.Time
	End      time.Time
	Attempts int
}

// Report summarises a finished run.
type Report struct {
	Status Status
	// Order lists node names in the graph's declaration order.
	Order []string
	Nodes map[string]NodeResult
}

// Failed returns the names of nodes whose own action failed.
func (r *Report) Failed() []string {
	var out []string
	for _, name := range r.Order {
		if r.Nodes[name].State == node.Failed {
			out = append(out, name)
		}
	}
	return out
}

// Skipped returns the names of nodes that never ran.
func (r *Report) Skipped() []string {
	var out []string
	for _, name := range r.Order {
		if r.Nodes[name].State == node.Skipped {
			out = append(out, name)
		}
	}
	return out
}

func (ent *entry) result() NodeResult {
	return NodeResult{
		State:    node.State(ent.state.Load()),
		Output:   ent.output,
		Err:      ent.err,
		Start:    ent.start,
		End:      ent.end,
		Attempts: ent.attempts,
	}
}

// Run executes the entire graph and blocks until every node is settled. The
// report is always returned. The error joins the root causes of all failed
// nodes as *NodeError values; skipped nodes are symptoms and are left out.
// A run that was only cancelled returns the context error.
func (e *Executor) Run(ctx context.Context) (*Report, error) {
	logger := ctxlog.FromContext(ctx)

	order := e.graph.Nodes()
	readyChan := make(chan *entry, len(order))

	logger.Debug("Initializing executor, finding root nodes...")
	rootNodeCount := 0
	for _, id := range order {
		ent := e.entries[id]
		if ent.depCount.Load() == 0 {
			logger.Debug("Found root node.", "nodeID", id)
			readyChan <- ent
			rootNodeCount++
		}
	}
	logger.Debug("Found all root nodes.", "count", rootNodeCount)

	e.wg.Add(len(order))

	logger.Debug("Starting worker pool.", "workers", e.numWorkers)
	for i := 0; i < e.numWorkers; i++ {
		go e.worker(ctx, readyChan, i)
	}

	logger.Info("Waiting for all nodes to complete...")
	e.wg.Wait()
	close(readyChan)
	logger.Info("All nodes completed.")

	report := &Report{Status: Success, Order: order, Nodes: make(map[string]NodeResult, len(order))}
	var causes []error
	var cancelled error
	for _, id := range order {
		r := e.entries[id].result()
		report.Nodes[id] = r
		switch r.State {
		case node.Ready:
		case node.Failed:
			report.Status = Failure
			causes = append(causes, r.Err)
		default:
			report.Status = Failure
			var skipped *SkippedError
			if errors.As(r.Err, &skipped) && skipped.Cause == "" && !errors.Is(r.Err, ErrHalted) {
				cancelled = skipped.Reason
			}
		}
	}

	if len(causes) > 0 {
		return report, errors.Join(causes...)
	}
	if cancelled != nil {
		return report, fmt.Errorf("run cancelled: %w", cancelled)
	}
	return report, nil
}
