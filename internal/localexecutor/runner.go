// Package localexecutor runs processes on the operator's machine: the
// container runtime CLI and the development-container launcher.
package localexecutor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
)

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string
	// Env entries (KEY=VALUE) are appended to the current environment.
	Env   []string
	Dir   string
	Stdin io.Reader
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner runs local processes. A non-zero exit is reported through
// Result.ExitCode; the error is reserved for processes that could not run.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// OSRunner runs real processes.
type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, c Command) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	startTime := time.Now()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("Running local command.", "command", c.String())
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return Result{}, fmt.Errorf("failed to execute %s: %w", c.Name, err)
		}
		exitCode = exitErr.ExitCode()
	}

	return Result{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}, nil
}

// LookPath reports whether a binary is available, like the runtime and
// launcher availability checks done before a run.
func LookPath(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%s is not available: %w", name, err)
	}
	return nil
}
