package cli

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/remotebox/internal/app"
	"github.com/specialistvlad/remotebox/internal/sshconn"
	"github.com/specialistvlad/remotebox/internal/testutil"
	"github.com/specialistvlad/remotebox/internal/testutil/sshtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"
)

const hostPipeline = `
resource "static_host" "box" {
  ipv4_address = "198.51.100.7"
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

command "marker" {
  connection = connection.box
  statements = ["echo up > marker.txt"]
  depends_on = ["probe.box"]
}

output "serverIp" {
  value = resource.static_host.box.ipv4_address
}

output "user" {
  value = connection.box.user
}
`

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	return exitErr.Code
}

func TestExecute_Usage(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		args     []string
		wantCode int
		wantMsg  string
	}{
		{
			name:     "unknown flag",
			args:     []string{"up", "--this-is-not-a-valid-flag", "x"},
			wantCode: ExitUsage,
			wantMsg:  "unknown flag",
		},
		{
			name:     "invalid log format",
			args:     []string{"validate", "--log-format", "xml", "x"},
			wantCode: ExitUsage,
			wantMsg:  "invalid log-format",
		},
		{
			name:     "invalid log level",
			args:     []string{"validate", "--log-level", "chatty", "x"},
			wantCode: ExitUsage,
			wantMsg:  "invalid log-level",
		},
		{
			name:     "negative workers",
			args:     []string{"up", "--workers", "-1", "x"},
			wantCode: ExitUsage,
			wantMsg:  "invalid workers",
		},
		{
			name:     "missing pipeline argument",
			args:     []string{"down"},
			wantCode: ExitUsage,
			wantMsg:  "usage: remotebox down PIPELINE",
		},
		{
			name:     "too many arguments",
			args:     []string{"outputs", "a", "b", "c"},
			wantCode: ExitUsage,
			wantMsg:  "usage:",
		},
		{
			name:     "unknown command",
			args:     []string{"launch"},
			wantCode: ExitUsage,
			wantMsg:  `unknown command "launch"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var out, errOut bytes.Buffer

			err := Execute(context.Background(), tc.args, &out, &errOut)

			assert.Equal(t, tc.wantCode, exitCode(t, err))
			assert.Contains(t, err.Error(), tc.wantMsg)
		})
	}
}

func TestExecute_Help(t *testing.T) {
	t.Parallel()
	var out, errOut bytes.Buffer

	err := Execute(context.Background(), []string{"--help"}, &out, &errOut)

	require.NoError(t, err)
	for _, cmd := range []string{"up", "validate", "outputs", "down"} {
		assert.Contains(t, out.String(), cmd)
	}
	assert.Contains(t, out.String(), "--healthcheck-port")
}

func TestExecute_Validate(t *testing.T) {
	t.Parallel()

	t.Run("valid pipeline", func(t *testing.T) {
		t.Parallel()
		dir := testutil.WritePipeline(t, map[string]string{"main.hcl": hostPipeline})
		var out, errOut bytes.Buffer

		err := Execute(context.Background(), []string{"validate", dir}, &out, &errOut)

		require.NoError(t, err)
		assert.Contains(t, out.String(), "pipeline is valid")
	})

	t.Run("invalid pipeline exits with usage code", func(t *testing.T) {
		t.Parallel()
		dir := testutil.WritePipeline(t, map[string]string{"main.hcl": `probe "box" { max_wait = }`})
		var out, errOut bytes.Buffer

		err := Execute(context.Background(), []string{"validate", dir}, &out, &errOut)

		assert.Equal(t, ExitUsage, exitCode(t, err))
		assert.Empty(t, out.String())
	})
}

func TestExecute_UpOutputsDown(t *testing.T) {
	// --- Arrange ---
	sandbox := t.TempDir()
	srv := sshtest.Start(t, sshtest.ShellHandler(sandbox))

	dir := testutil.WritePipeline(t, map[string]string{"main.hcl": hostPipeline})
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "id"), pem.EncodeToMemory(block), 0o600))

	opts := []app.Option{
		app.WithRunner(&testutil.FakeRunner{}),
		app.WithDialer(&sshconn.Dialer{
			Trust: sshconn.NewTrustStore(filepath.Join(t.TempDir(), "known_hosts")),
			Dial:  sshtest.RedirectDialer(srv.Addr),
		}),
	}
	state := filepath.Join(t.TempDir(), "state.db")
	run := func(args ...string) (string, error) {
		var out, errOut bytes.Buffer
		args = append([]string{args[0], "--state", state, "--log-level", "debug"}, args[1:]...)
		err := Execute(context.Background(), args, &out, &errOut, opts...)
		t.Logf("remotebox %v logs:\n%s", args, errOut.String())
		return out.String(), err
	}

	// --- Act & Assert ---
	_, err = run("outputs", dir)
	assert.Equal(t, ExitRunFailure, exitCode(t, err), "no run recorded yet")

	out, err := run("up", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "probe.box")
	assert.Contains(t, out, "serverIp = 198.51.100.7")
	assert.Contains(t, out, "environment is up")

	data, err := os.ReadFile(filepath.Join(sandbox, "marker.txt"))
	require.NoError(t, err)
	assert.Equal(t, "up\n", string(data))

	out, err = run("outputs", dir)
	require.NoError(t, err)
	var outputs map[string]string
	require.NoError(t, yaml.Unmarshal([]byte(out), &outputs))
	assert.Equal(t, map[string]string{"serverIp": "198.51.100.7", "user": "root"}, outputs)

	out, err = run("outputs", dir, "serverIp")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7\n", out)

	_, err = run("outputs", dir, "uri")
	assert.Equal(t, ExitRunFailure, exitCode(t, err))
	assert.ErrorContains(t, err, `output "uri" not found`)

	out, err = run("down", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "resource.static_host.box")

	out, err = run("down", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to tear down")
}

func TestToExitError(t *testing.T) {
	t.Parallel()

	assert.NoError(t, toExitError(nil))
	assert.Equal(t, ExitUsage, exitCode(t, toExitError(&app.ConfigError{Err: assert.AnError})))
	assert.Equal(t, ExitRunFailure, exitCode(t, toExitError(assert.AnError)))

	orig := &ExitError{Code: 7, Message: "custom"}
	assert.Same(t, orig, toExitError(orig))
}
