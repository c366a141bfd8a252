package localexecutor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSRunner_CapturesOutputAndExitCode(t *testing.T) {
	res, err := OSRunner{}.Run(context.Background(), Command{
		Name:  "/bin/sh",
		Args:  []string{"-c", `read line; echo "got $line from $REMOTE_HOST"; echo oops >&2; exit 3`},
		Env:   []string{"REMOTE_HOST=203.0.113.5"},
		Stdin: strings.NewReader("hello\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "got hello from 203.0.113.5\n", res.Stdout)
	assert.Equal(t, "oops\n", res.Stderr)
}

func TestOSRunner_MissingBinary(t *testing.T) {
	_, err := OSRunner{}.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	assert.ErrorContains(t, err, "failed to execute")
}

func TestOSRunner_Cancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := OSRunner{}.Run(ctx, Command{Name: "/bin/sh", Args: []string{"-c", "sleep 5"}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommand_String(t *testing.T) {
	c := Command{Name: "docker", Args: []string{"stop", "abc"}}
	assert.Equal(t, "docker stop abc", c.String())
}
