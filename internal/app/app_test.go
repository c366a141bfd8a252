package app

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/remotebox/internal/localexecutor"
	"github.com/specialistvlad/remotebox/internal/sshconn"
	"github.com/specialistvlad/remotebox/internal/statestore"
	"github.com/specialistvlad/remotebox/internal/testutil"
	"github.com/specialistvlad/remotebox/internal/testutil/sshtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

const staticPipeline = `
settings {
  name    = "staging"
  workers = 2
}

resource "static_host" "box" {
  ipv4_address = "203.0.113.5"
}

connection "box" {
  host             = resource.static_host.box.ipv4_address
  private_key_path = "id"
  depends_on       = ["resource.static_host.box"]
}

probe "box" {
  connection    = connection.box
  initial_delay = "0s"
  interval      = "10ms"
  max_wait      = "2s"
  depends_on    = ["connection.box"]
}

command "docker" {
  connection = connection.box
  statements = ["echo installed > docker.txt"]
  depends_on = ["probe.box"]
}

tunnel "ssh" {
  image       = "remotebox/sidecar"
  docker_host = connection.box.docker_host
  depends_on  = ["command.docker"]
}

tunnel "metrics" {
  image       = "remotebox/exporter"
  docker_host = connection.box.docker_host
  teardown    = "keep"
  depends_on  = ["tunnel.ssh"]
}

output "serverIp" {
  value = resource.static_host.box.ipv4_address
}

output "sidecar" {
  value = tunnel.ssh.container_id
}
`

func writeKey(t *testing.T, dir string) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id"), pem.EncodeToMemory(block), 0o600))
}

func dockerRunner() *testutil.FakeRunner {
	return &testutil.FakeRunner{Respond: func(c localexecutor.Command) (localexecutor.Result, error) {
		switch c.Args[0] {
		case "inspect", "rm":
			return localexecutor.Result{ExitCode: 1, Stderr: "Error: No such object"}, nil
		case "run":
			return localexecutor.Result{Stdout: "container-" + c.Args[len(c.Args)-1] + "\n"}, nil
		}
		return localexecutor.Result{}, nil
	}}
}

// setupStaticApp returns an app whose SSH traffic reaches an in-process
// server and whose docker calls are recorded.
func setupStaticApp(t *testing.T) (*App, *testutil.FakeRunner, string) {
	t.Helper()
	sandbox := t.TempDir()
	srv := sshtest.Start(t, sshtest.ShellHandler(sandbox))

	dir := testutil.WritePipeline(t, map[string]string{"main.hcl": staticPipeline})
	writeKey(t, dir)

	runner := dockerRunner()
	dialer := &sshconn.Dialer{
		Trust: sshconn.NewTrustStore(filepath.Join(t.TempDir(), "known_hosts")),
		Dial:  sshtest.RedirectDialer(srv.Addr),
	}
	cfg, err := NewConfig(Config{PipelinePath: dir})
	require.NoError(t, err)
	a, _ := SetupAppTest(t, cfg, WithRunner(runner), WithDialer(dialer))
	return a, runner, sandbox
}

func TestNewConfig(t *testing.T) {
	_, err := NewConfig(Config{})
	assert.ErrorContains(t, err, "PipelinePath")

	dir := t.TempDir()
	file := filepath.Join(dir, "main.hcl")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	cfg, err := NewConfig(Config{PipelinePath: file})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, DefaultStateDir, "state.db"), cfg.StatePath)

	cfg, err = NewConfig(Config{PipelinePath: dir, StatePath: "/tmp/x.db"})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.StatePath)
}

func TestValidate(t *testing.T) {
	t.Run("valid pipeline", func(t *testing.T) {
		dir := testutil.WritePipeline(t, map[string]string{"main.hcl": staticPipeline})
		a, logs := SetupAppTest(t, &Config{PipelinePath: dir})
		require.NoError(t, a.Validate(context.Background()))
		assert.Contains(t, logs.String(), "Pipeline is valid")
	})

	t.Run("unknown kind is a config error", func(t *testing.T) {
		dir := testutil.WritePipeline(t, map[string]string{"main.hcl": `resource "aws_instance" "vm" {}`})
		a, _ := SetupAppTest(t, &Config{PipelinePath: dir})
		err := a.Validate(context.Background())
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.ErrorContains(t, err, `unknown resource kind "aws_instance"`)
	})

	t.Run("syntax error is a config error", func(t *testing.T) {
		dir := testutil.WritePipeline(t, map[string]string{"main.hcl": `command "x" {`})
		a, _ := SetupAppTest(t, &Config{PipelinePath: dir})
		var cfgErr *ConfigError
		assert.ErrorAs(t, a.Validate(context.Background()), &cfgErr)
	})
}

func TestLifecycle_UpOutputsDown(t *testing.T) {
	a, runner, sandbox := setupStaticApp(t)
	ctx := context.Background()

	_, err := a.Outputs(ctx)
	assert.ErrorContains(t, err, "no successful run")

	res, err := a.Up(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, map[string]string{
		"serverIp": "203.0.113.5",
		"sidecar":  "container-remotebox/sidecar",
	}, res.Outputs)

	data, err := os.ReadFile(filepath.Join(sandbox, "docker.txt"))
	require.NoError(t, err)
	assert.Equal(t, "installed\n", string(data))

	outputs, err := a.Outputs(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.Outputs, outputs)

	down, err := a.Down(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tunnel.metrics"}, down.Kept)
	assert.Equal(t, []string{"tunnel.ssh"}, down.Stopped)
	assert.Equal(t, []string{"resource.static_host.box"}, down.Destroyed)

	var stopped []string
	for _, c := range runner.Calls() {
		if c.Args[0] == "stop" {
			stopped = append(stopped, c.Args[1])
			assert.Equal(t, []string{"DOCKER_HOST=ssh://root@203.0.113.5"}, c.Env)
		}
	}
	assert.Equal(t, []string{"container-remotebox/sidecar"}, stopped)

	down, err = a.Down(ctx)
	require.NoError(t, err)
	assert.Empty(t, down.Destroyed, "state is empty after teardown")
}

func TestUp_FailureIsRecorded(t *testing.T) {
	a, runner, _ := setupStaticApp(t)
	base := runner.Respond
	runner.Respond = func(c localexecutor.Command) (localexecutor.Result, error) {
		if c.Args[0] == "run" {
			return localexecutor.Result{ExitCode: 125, Stderr: "Unable to find image"}, nil
		}
		return base(c)
	}

	res, err := a.Up(context.Background())
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.False(t, errors.As(err, &cfgErr), "a failed run is not a config error")
	require.NotNil(t, res)
	assert.Equal(t, []string{"tunnel.ssh"}, res.Report.Failed())
	assert.Equal(t, []string{"tunnel.metrics"}, res.Report.Skipped())
	assert.Equal(t, "203.0.113.5", res.Outputs["serverIp"])

	_, err = a.Outputs(context.Background())
	assert.ErrorContains(t, err, "no successful run")
}

func TestUp_HealthServerBindFailureLeavesNoRun(t *testing.T) {
	// --- Arrange ---
	a, runner, _ := setupStaticApp(t)
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()
	a.config.HealthcheckPort = ln.Addr().(*net.TCPAddr).Port

	// --- Act ---
	res, err := a.Up(context.Background())

	// --- Assert ---
	require.Error(t, err)
	assert.ErrorContains(t, err, "health check server")
	assert.Nil(t, res)
	assert.Empty(t, runner.Calls(), "nothing runs when the server cannot bind")

	store, err := statestore.Open(a.config.StatePath)
	require.NoError(t, err)
	defer store.Close()
	runs, err := store.Runs(context.Background(), "staging")
	require.NoError(t, err)
	assert.Empty(t, runs, "no run may be left in the running state")
}

func TestOutputs_NamesLastFailedRun(t *testing.T) {
	a, runner, _ := setupStaticApp(t)
	base := runner.Respond
	runner.Respond = func(c localexecutor.Command) (localexecutor.Result, error) {
		if c.Args[0] == "run" {
			return localexecutor.Result{ExitCode: 125, Stderr: "Unable to find image"}, nil
		}
		return base(c)
	}
	res, err := a.Up(context.Background())
	require.Error(t, err)

	_, err = a.Outputs(context.Background())

	assert.ErrorContains(t, err, "last run "+res.RunID+": failure")
}

func TestHealthMux(t *testing.T) {
	a, _ := SetupAppTest(t, &Config{PipelinePath: t.TempDir()})
	srv := httptest.NewServer(a.healthMux())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK\n", string(body))

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")
}
