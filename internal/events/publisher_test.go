package events

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/remotebox/internal/executor"
	"github.com/specialistvlad/remotebox/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event   string
	payload map[string]any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
	err    error
}

func (e *recordingEmitter) Emit(event string, args ...any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{event: event, payload: args[0].(map[string]any)})
	return e.err
}

func TestPublisher_NodeTransitions(t *testing.T) {
	out := &recordingEmitter{}
	p := NewPublisher(out, "run-1")
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	p.NodeStarted(ctx, "probe.box")
	p.NodeFinished(ctx, "probe.box", executor.NodeResult{
		State: node.Ready, Start: start, End: start.Add(1500 * time.Millisecond), Attempts: 3,
	})
	p.NodeFinished(ctx, "command.prepare", executor.NodeResult{
		State: node.Skipped, Err: errors.New("upstream failed"),
	})
	p.RunFinished(ctx, executor.Failure, map[string]string{"serverIp": "203.0.113.5"})

	require.Len(t, out.events, 4)
	assert.Equal(t, emitted{NodeEvent, map[string]any{"run": "run-1", "node": "probe.box", "state": "running"}}, out.events[0])
	assert.Equal(t, emitted{NodeEvent, map[string]any{
		"run": "run-1", "node": "probe.box", "state": "ready", "attempts": 3, "duration_ms": int64(1500),
	}}, out.events[1])
	assert.Equal(t, emitted{NodeEvent, map[string]any{
		"run": "run-1", "node": "command.prepare", "state": "skipped", "error": "upstream failed",
	}}, out.events[2], "skipped nodes carry no timing")
	assert.Equal(t, RunEvent, out.events[3].event)
	assert.Equal(t, "failure", out.events[3].payload["status"])
}

func TestPublisher_EmitErrorIsNotFatal(t *testing.T) {
	out := &recordingEmitter{err: errors.New("socket closed")}
	p := NewPublisher(out, "run-1")

	assert.NotPanics(t, func() { p.NodeStarted(context.Background(), "a") })
	assert.Len(t, out.events, 1)
}

func TestDial_Errors(t *testing.T) {
	t.Run("relative URL", func(t *testing.T) {
		_, err := Dial(context.Background(), Options{URL: "/socket.io"})
		assert.ErrorContains(t, err, "must be absolute")
	})

	t.Run("nothing listening", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().String()
		require.NoError(t, l.Close())

		_, err = Dial(context.Background(), Options{URL: "http://" + addr, ConnectTimeout: 500 * time.Millisecond})
		assert.Error(t, err)
	})
}
