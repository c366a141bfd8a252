// Package events streams bring-up progress to a socket.io server so a
// dashboard can follow a run as it happens.
package events

import (
	"context"
	"sync"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/executor"
	"github.com/specialistvlad/remotebox/internal/node"
)

// Event names.
const (
	NodeEvent = "node"
	RunEvent  = "run"
)

// Emitter is the part of a socket.io client the publisher uses.
type Emitter interface {
	Emit(event string, args ...any) error
}

// Publisher emits a NodeEvent for every node transition of one run.
type Publisher struct {
	mu    sync.Mutex
	out   Emitter
	runID string
}

var _ executor.Observer = (*Publisher)(nil)

// NewPublisher returns a Publisher for runID.
func NewPublisher(out Emitter, runID string) *Publisher {
	return &Publisher{out: out, runID: runID}
}

// NodeStarted implements executor.Observer.
func (p *Publisher) NodeStarted(ctx context.Context, name string) {
	p.emit(ctx, NodeEvent, map[string]any{
		"run":   p.runID,
		"node":  name,
		"state": node.Running.String(),
	})
}

// NodeFinished implements executor.Observer.
func (p *Publisher) NodeFinished(ctx context.Context, name string, r executor.NodeResult) {
	payload := map[string]any{
		"run":   p.runID,
		"node":  name,
		"state": r.State.String(),
	}
	if !r.Start.IsZero() {
		payload["attempts"] = r.Attempts
		payload["duration_ms"] = r.End.Sub(r.Start).Milliseconds()
	}
	if r.Err != nil {
		payload["error"] = r.Err.Error()
	}
	p.emit(ctx, NodeEvent, payload)
}

// RunFinished emits the final status and outputs of the run.
func (p *Publisher) RunFinished(ctx context.Context, status executor.Status, outputs map[string]string) {
	p.emit(ctx, RunEvent, map[string]any{
		"run":     p.runID,
		"status":  string(status),
		"outputs": outputs,
	})
}

// emit never fails the run; a lost event is only logged.
func (p *Publisher) emit(ctx context.Context, event string, payload map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.out.Emit(event, payload); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to publish event.", "event", event, "error", err)
	}
}
