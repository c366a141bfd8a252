package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/node"
)

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, readyChan chan *entry, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for ent := range readyChan {
		name := ent.task.Name
		nodeCtx, workerLogger := ctxlog.With(ctx, "workerID", workerID, "node", name)

		if err := ctx.Err(); err != nil {
			workerLogger.Warn("Context canceled, skipping node execution.")
			e.skip(nodeCtx, ent, &SkippedError{Reason: err})
			e.skipDependents(nodeCtx, ent)
			continue
		}
		if e.halted.Load() {
			workerLogger.Warn("Run halted, skipping node execution.")
			e.skip(nodeCtx, ent, &SkippedError{Reason: ErrHalted})
			e.skipDependents(nodeCtx, ent)
			continue
		}

		workerLogger.Info("▶️ Starting node")
		ent.state.Store(int32(node.Running))
		ent.start = time.Now()
		for _, o := range e.observers {
			o.NodeStarted(nodeCtx, name)
		}

		output, attempts, err := e.invoke(nodeCtx, ent.task)
		ent.end = time.Now()
		ent.attempts = attempts

		if err != nil {
			workerLogger.Error("🔥 Node failed", "error", err, "attempts", attempts)
			ent.err = &NodeError{Node: name, Err: err}
			ent.state.Store(int32(node.Failed))
			if IsFatal(err) {
				workerLogger.Error("Fatal error, no further nodes will be started.")
				e.halted.Store(true)
			}
			e.notifyFinished(nodeCtx, ent)
			e.skipDependents(nodeCtx, ent)
			e.wg.Done()
			continue
		}

		ent.output = output
		ent.state.Store(int32(node.Ready))
		workerLogger.Info("✅ Node ready", "duration", ent.end.Sub(ent.start))
		e.notifyFinished(nodeCtx, ent)

		dependents, _ := e.graph.Dependents(name)
		for _, id := range dependents {
			dependent := e.entries[id]
			if dependent.depCount.Add(-1) == 0 {
				workerLogger.Debug("Unlocking dependent node.", "dependentID", id)
				readyChan <- dependent
			}
		}

		e.wg.Done()
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

// invoke runs the task's action honouring its retry policy. Fatal errors are
// never retried.
func (e *Executor) invoke(ctx context.Context, t node.Task) (any, int, error) {
	attempts := 0
	if t.Retry.Attempts() == 1 {
		attempts++
		out, err := t.Action(ctx)
		return out, attempts, err
	}

	b := backoff.NewExponentialBackOff()
	if t.Retry.Interval > 0 {
		b.InitialInterval = t.Retry.Interval
	}
	if t.Retry.MaxInterval > 0 {
		b.MaxInterval = t.Retry.MaxInterval
	}
	b.MaxElapsedTime = 0

	var output any
	operation := func() error {
		attempts++
		out, err := t.Action(ctx)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Attempt failed.", "attempt", attempts, "error", err)
			if IsFatal(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		output = out
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.Retry.Attempts()-1)), ctx)
	err := backoff.Retry(operation, policy)
	return output, attempts, err
}

// skip marks a node as skipped exactly once and releases its WaitGroup slot.
func (e *Executor) skip(ctx context.Context, ent *entry, reason error) bool {
	skipped := false
	ent.skipOnce.Do(func() {
		ent.state.Store(int32(node.Skipped))
		ent.err = reason
		e.notifyFinished(ctx, ent)
		e.wg.Done()
		skipped = true
	})
	return skipped
}

// skipDependents recursively marks all downstream nodes as skipped.
func (e *Executor) skipDependents(ctx context.Context, ent *entry) {
	logger := ctxlog.FromContext(ctx)
	dependents, _ := e.graph.Dependents(ent.task.Name)
	// A skipped node passes its own cause down so the whole chain names the
	// node that actually failed.
	reason := &SkippedError{Cause: ent.task.Name}
	if s, ok := ent.err.(*SkippedError); ok {
		reason = &SkippedError{Cause: s.Cause, Reason: s.Reason}
	}
	for _, id := range dependents {
		dependent := e.entries[id]
		if e.skip(ctx, dependent, reason) {
			logger.Warn("Skipping dependent node.", "nodeID", id, "dependency", ent.task.Name)
			e.skipDependents(ctx, dependent)
		}
	}
}

func (e *Executor) notifyFinished(ctx context.Context, ent *entry) {
	if len(e.observers) == 0 {
		return
	}
	r := ent.result()
	for _, o := range e.observers {
		o.NodeFinished(ctx, ent.task.Name, r)
	}
}
