package testutil

import (
	"context"
	"io"
	"sync"

	"github.com/specialistvlad/remotebox/internal/localexecutor"
)

// FakeRunner is a scripted localexecutor.Runner. Respond picks the result for
// each command; a nil Respond succeeds with empty output.
type FakeRunner struct {
	Respond func(cmd localexecutor.Command) (localexecutor.Result, error)

	mu    sync.Mutex
	calls []localexecutor.Command
}

func (r *FakeRunner) Run(_ context.Context, cmd localexecutor.Command) (localexecutor.Result, error) {
	if cmd.Stdin != nil {
		_, _ = io.Copy(io.Discard, cmd.Stdin)
		cmd.Stdin = nil
	}
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	r.mu.Unlock()

	if r.Respond == nil {
		return localexecutor.Result{}, nil
	}
	return r.Respond(cmd)
}

// Calls returns every command run so far.
func (r *FakeRunner) Calls() []localexecutor.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]localexecutor.Command(nil), r.calls...)
}
