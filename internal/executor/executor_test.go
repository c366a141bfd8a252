package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/specialistvlad/remotebox/internal/dag"
	"github.com/specialistvlad/remotebox/internal/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder captures the order in which actions start and finish.
type recorder struct {
	mu     sync.Mutex
	seq    int
	starts map[string]int
	ends   map[string]int
}

func newRecorder() *recorder {
	return &recorder{starts: map[string]int{}, ends: map[string]int{}}
}

func (r *recorder) action(name string, d time.Duration, err error) node.Action {
	return func(ctx context.Context) (any, error) {
		r.mu.Lock()
		r.seq++
		r.starts[name] = r.seq
		r.mu.Unlock()

		if d > 0 {
			time.Sleep(d)
		}

		r.mu.Lock()
		r.seq++
		r.ends[name] = r.seq
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return name + "-out", nil
	}
}

func (r *recorder) ran(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.starts[name]
	return ok
}

type fatalErr struct{}

func (fatalErr) Error() string { return "host unreachable" }
func (fatalErr) Fatal() bool   { return true }

func TestNew_RejectsInvalidGraphs(t *testing.T) {
	noop := func(context.Context) (any, error) { return nil, nil }

	t.Run("cycle", func(t *testing.T) {
		var called atomic.Bool
		act := func(context.Context) (any, error) { called.Store(true); return nil, nil }
		_, err := New([]node.Task{
			{Name: "a", DependsOn: []string{"b"}, Action: act},
			{Name: "b", DependsOn: []string{"a"}, Action: act},
		})
		var invalid *dag.InvalidGraphError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, []string{"a", "b", "a"}, invalid.Cycle)
		assert.False(t, called.Load())
	})

	t.Run("dangling dependency", func(t *testing.T) {
		_, err := New([]node.Task{{Name: "a", DependsOn: []string{"ghost"}, Action: noop}})
		var invalid *dag.InvalidGraphError
		require.ErrorAs(t, err, &invalid)
		require.Len(t, invalid.Missing, 1)
		assert.Equal(t, "ghost", invalid.Missing[0].DependsOn)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := New([]node.Task{{Name: "a", Action: noop}, {Name: "a", Action: noop}})
		assert.ErrorContains(t, err, "duplicate node name")
	})
}

func TestRun_EmptyGraphSucceeds(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Success, report.Status)
}

func TestRun_IndependentNodesRunInParallel(t *testing.T) {
	var running, peak atomic.Int32
	act := func(context.Context) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}

	e, err := New([]node.Task{
		{Name: "a", Action: act},
		{Name: "b", Action: act},
		{Name: "c", Action: act},
	})
	require.NoError(t, err)

	start := time.Now()
	report, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Success, report.Status)
	assert.Equal(t, int32(3), peak.Load())
	assert.Less(t, time.Since(start), 140*time.Millisecond)
}

func TestRun_FailureSkipsDependentsOnly(t *testing.T) {
	boom := errors.New("boom")
	rec := newRecorder()

	// a -> b -> c, and an independent d that takes longer than a.
	e, err := New([]node.Task{
		{Name: "a", Action: rec.action("a", 0, boom)},
		{Name: "b", DependsOn: []string{"a"}, Action: rec.action("b", 0, nil)},
		{Name: "c", DependsOn: []string{"b"}, Action: rec.action("c", 0, nil)},
		{Name: "d", Action: rec.action("d", 30*time.Millisecond, nil)},
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "a", nodeErr.Node)

	assert.Equal(t, Failure, report.Status)
	assert.Equal(t, node.Failed, report.Nodes["a"].State)
	assert.Equal(t, node.Skipped, report.Nodes["b"].State)
	assert.Equal(t, node.Skipped, report.Nodes["c"].State)
	assert.Equal(t, node.Ready, report.Nodes["d"].State)
	assert.Equal(t, "d-out", report.Nodes["d"].Output)

	assert.False(t, rec.ran("b"))
	assert.False(t, rec.ran("c"))
	assert.True(t, rec.ran("d"))

	var skipped *SkippedError
	require.ErrorAs(t, report.Nodes["c"].Err, &skipped)
	assert.Equal(t, "a", skipped.Cause, "skip cause must name the failed root")

	assert.Equal(t, []string{"a"}, report.Failed())
	assert.Equal(t, []string{"b", "c"}, report.Skipped())
	assert.NotContains(t, err.Error(), "skipped")
}

func TestRun_FatalErrorStopsNewStarts(t *testing.T) {
	rec := newRecorder()
	release := make(chan struct{})

	// probe fails fatally while slow is still running; after-slow becomes
	// eligible only once slow finishes and must not start.
	e, err := New([]node.Task{
		{Name: "probe", Action: func(ctx context.Context) (any, error) {
			defer close(release)
			return nil, fatalErr{}
		}},
		{Name: "slow", Action: func(ctx context.Context) (any, error) {
			<-release
			time.Sleep(10 * time.Millisecond)
			return "slow-out", nil
		}},
		{Name: "after-slow", DependsOn: []string{"slow"}, Action: rec.action("after-slow", 0, nil)},
		{Name: "after-probe", DependsOn: []string{"probe"}, Action: rec.action("after-probe", 0, nil)},
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsFatal(err))

	assert.Equal(t, node.Ready, report.Nodes["slow"].State, "running nodes finish")
	assert.Equal(t, node.Skipped, report.Nodes["after-slow"].State)
	assert.Equal(t, node.Skipped, report.Nodes["after-probe"].State)
	assert.ErrorIs(t, report.Nodes["after-slow"].Err, ErrHalted)
	assert.False(t, rec.ran("after-slow"))
}

func TestRun_RetryPolicy(t *testing.T) {
	t.Run("idempotent action is retried until success", func(t *testing.T) {
		var calls atomic.Int32
		e, err := New([]node.Task{{
			Name:  "flaky",
			Retry: node.RetryPolicy{MaxAttempts: 4, Interval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
			Action: func(context.Context) (any, error) {
				if calls.Add(1) < 3 {
					return nil, errors.New("transient")
				}
				return "ok", nil
			},
		}})
		require.NoError(t, err)

		report, err := e.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, report.Nodes["flaky"].Attempts)
		assert.Equal(t, "ok", report.Nodes["flaky"].Output)
	})

	t.Run("default policy is a single attempt", func(t *testing.T) {
		var calls atomic.Int32
		e, err := New([]node.Task{{
			Name: "once",
			Action: func(context.Context) (any, error) {
				calls.Add(1)
				return nil, errors.New("nope")
			},
		}})
		require.NoError(t, err)

		report, err := e.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, 1, report.Nodes["once"].Attempts)
	})

	t.Run("fatal errors are not retried", func(t *testing.T) {
		var calls atomic.Int32
		e, err := New([]node.Task{{
			Name:  "probe",
			Retry: node.RetryPolicy{MaxAttempts: 5, Interval: time.Millisecond},
			Action: func(context.Context) (any, error) {
				calls.Add(1)
				return nil, fatalErr{}
			},
		}})
		require.NoError(t, err)

		_, err = e.Run(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestRun_CancelledContextSkipsEverything(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := newRecorder()
	e, err := New([]node.Task{
		{Name: "a", Action: rec.action("a", 0, nil)},
		{Name: "b", DependsOn: []string{"a"}, Action: rec.action("b", 0, nil)},
	})
	require.NoError(t, err)

	report, err := e.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a", "b"}, report.Skipped())
	assert.False(t, rec.ran("a"))
}

type countingObserver struct {
	mu       sync.Mutex
	started  []string
	finished map[string]node.State
}

func (o *countingObserver) NodeStarted(_ context.Context, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = append(o.started, name)
}

func (o *countingObserver) NodeFinished(_ context.Context, name string, r NodeResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished[name] = r.State
}

func TestRun_NotifiesObservers(t *testing.T) {
	obs := &countingObserver{finished: map[string]node.State{}}
	e, err := New([]node.Task{
		{Name: "a", Action: func(context.Context) (any, error) { return nil, fmt.Errorf("bad") }},
		{Name: "b", DependsOn: []string{"a"}, Action: func(context.Context) (any, error) { return nil, nil }},
	}, WithObserver(obs), WithWorkers(1))
	require.NoError(t, err)

	_, _ = e.Run(context.Background())
	assert.Equal(t, []string{"a"}, obs.started)
	assert.Equal(t, map[string]node.State{"a": node.Failed, "b": node.Skipped}, obs.finished)
}
