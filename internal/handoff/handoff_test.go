package handoff

import (
	"context"
	"errors"
	"testing"

	"github.com/specialistvlad/remotebox/internal/localexecutor"
	"github.com/specialistvlad/remotebox/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(stdout string, code int) *testutil.FakeRunner {
	return &testutil.FakeRunner{Respond: func(localexecutor.Command) (localexecutor.Result, error) {
		return localexecutor.Result{Stdout: stdout, ExitCode: code, Stderr: "launcher stderr"}, nil
	}}
}

func request() Request {
	return Request{
		ConfigPath:      ".devcontainer/devcontainer.json",
		IDLabel:         "remotebox=demo",
		WorkspaceFolder: "/tmp/",
		DockerHost:      "ssh://root@203.0.113.5",
		MountPath:       "/workspace",
	}
}

func TestUp_ParsesLauncherResult(t *testing.T) {
	stdout := "[2 ms] @devcontainers/cli 0.58.0\n" +
		"[5 ms] Start: Run: docker buildx version\n" +
		`{"outcome":"success","containerId":"abc123","remoteUser":"root","remoteWorkspaceFolder":"/workspaces/tmp"}` + "\n"
	runner := respond(stdout, 0)
	inv := &Invoker{Runner: runner}

	res, err := inv.Up(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "abc123", res.RemoteContainerID)
	assert.Equal(t, "/workspaces/tmp", res.RemoteWorkspacePath)
	assert.Equal(t, "vscode-remote://attached-container+616263313233/workspace", res.ConnectionURI)
	assert.Equal(t, stdout, res.Stdout)

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "devcontainer", calls[0].Name)
	assert.Equal(t, []string{
		"up", "--config", ".devcontainer/devcontainer.json",
		"--id-label", "remotebox=demo", "--workspace-folder", "/tmp/",
	}, calls[0].Args)
	assert.Contains(t, calls[0].Env, "DOCKER_HOST=ssh://root@203.0.113.5")
}

func TestUp_Errors(t *testing.T) {
	t.Run("non-zero exit is an execution error", func(t *testing.T) {
		inv := &Invoker{Runner: respond(`{"outcome":"error","message":"Command failed: docker run"}`, 1)}
		_, err := inv.Up(context.Background(), request())
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, 1, execErr.ExitCode)
		assert.Equal(t, "Command failed: docker run", execErr.Message)
	})

	t.Run("error outcome with zero exit is an execution error", func(t *testing.T) {
		inv := &Invoker{Runner: respond(`{"outcome":"error","message":"daemon unreachable"}`, 0)}
		_, err := inv.Up(context.Background(), request())
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.ErrorContains(t, err, "daemon unreachable")
	})

	t.Run("malformed output is a parse error", func(t *testing.T) {
		inv := &Invoker{Runner: respond(`{"outcome":"success","containerId":`, 0)}
		_, err := inv.Up(context.Background(), request())
		var parseErr *ParseError
		assert.ErrorAs(t, err, &parseErr)
	})

	t.Run("no JSON at all is a parse error", func(t *testing.T) {
		inv := &Invoker{Runner: respond("just logs\n", 0)}
		_, err := inv.Up(context.Background(), request())
		var parseErr *ParseError
		assert.ErrorAs(t, err, &parseErr)
	})

	t.Run("missing container id is a parse error", func(t *testing.T) {
		inv := &Invoker{Runner: respond(`{"outcome":"success"}`, 0)}
		_, err := inv.Up(context.Background(), request())
		var parseErr *ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.ErrorContains(t, err, "containerId missing")
	})

	t.Run("launcher not installed is an execution error", func(t *testing.T) {
		runner := &testutil.FakeRunner{Respond: func(localexecutor.Command) (localexecutor.Result, error) {
			return localexecutor.Result{}, errors.New("executable file not found in $PATH")
		}}
		_, err := (&Invoker{Runner: runner}).Up(context.Background(), request())
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Equal(t, -1, execErr.ExitCode)
	})
}

func TestConnectionURI_IsDeterministic(t *testing.T) {
	a := ConnectionURI("e3b0c44298fc", "/workspace")
	b := ConnectionURI("e3b0c44298fc", "workspace/")
	assert.Equal(t, a, b)
	assert.Equal(t, "vscode-remote://attached-container+653362306334343239386663/workspace", a)
}

func TestOpen(t *testing.T) {
	runner := respond("", 0)
	inv := &Invoker{Runner: runner}
	require.NoError(t, inv.Open(context.Background(), "vscode-remote://attached-container+61/workspace"))
	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "code", calls[0].Name)
	assert.Equal(t, []string{"--folder-uri", "vscode-remote://attached-container+61/workspace"}, calls[0].Args)
}
