// Package remote runs commands and copies files over SSH once a host has
// been probed as reachable.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/sshconn"
	"golang.org/x/crypto/ssh"
)

// Connector opens authenticated clients. *sshconn.Dialer implements it.
type Connector interface {
	Connect(ctx context.Context, c sshconn.Connection) (*sshconn.Client, error)
}

// Batch is an ordered list of shell statements executed as one unit.
type Batch struct {
	Statements []string
}

// Script renders the batch as a POSIX shell script that stops at the first
// failing statement.
func (b Batch) Script() string {
	var sb strings.Builder
	sb.WriteString("set -e\n")
	for _, s := range b.Statements {
		sb.WriteString(s)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Result holds the captured output of a successful batch.
type Result struct {
	Stdout string
	Stderr string
}

// CommandError reports a remote command that exited non-zero. Side effects
// of earlier statements are not rolled back.
type CommandError struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no stderr output"
	}
	return fmt.Sprintf("remote command exited with status %d: %s", e.ExitCode, msg)
}

// Executor runs batches in a single remote shell session per call. It never
// retries; retrying an idempotent batch is the scheduler's decision.
type Executor struct {
	Connector Connector
}

// Run executes the batch through `sh -s`, feeding the script on stdin.
func (e *Executor) Run(ctx context.Context, conn sshconn.Connection, batch Batch) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Running remote batch.", "host", conn.Address(), "statements", len(batch.Statements))
	return e.exec(ctx, conn, "sh -s", strings.NewReader(batch.Script()))
}

// exec runs one command with the given stdin and maps a non-zero exit to a
// *CommandError.
func (e *Executor) exec(ctx context.Context, conn sshconn.Connection, cmd string, stdin io.Reader) (Result, error) {
	client, err := e.Connector.Connect(ctx, conn)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("opening session on %s: %w", conn.Address(), err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdin = stdin
	session.Stdout = &stdout
	session.Stderr = &stderr

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	defer stop()

	err = session.Run(cmd)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return res, &CommandError{ExitCode: exitErr.ExitStatus(), Stdout: res.Stdout, Stderr: res.Stderr}
	}
	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return res, &CommandError{ExitCode: -1, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	return res, fmt.Errorf("running command on %s: %w", conn.Address(), err)
}

// Quote returns s as a single-quoted shell word.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
