package statestore

import (
	"context"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/executor"
)

// Recorder writes node lifecycle events of one run to the store.
type Recorder struct {
	store *Store
	runID string
}

var _ executor.Observer = (*Recorder)(nil)

// Recorder returns an executor.Observer bound to runID.
func (s *Store) Recorder(runID string) *Recorder {
	return &Recorder{store: s, runID: runID}
}

// NodeStarted implements executor.Observer. Write failures are logged and
// never fail the node.
func (r *Recorder) NodeStarted(ctx context.Context, name string) {
	if err := r.store.nodeStarted(context.WithoutCancel(ctx), r.runID, name); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to record node start.", "node", name, "error", err)
	}
}

// NodeFinished implements executor.Observer.
func (r *Recorder) NodeFinished(ctx context.Context, name string, result executor.NodeResult) {
	if err := r.store.nodeFinished(context.WithoutCancel(ctx), r.runID, name, result); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to record node result.", "node", name, "error", err)
	}
}
