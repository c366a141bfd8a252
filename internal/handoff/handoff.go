// Package handoff launches the development container on the remote host and
// derives the editor URI that attaches to it.
package handoff

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/localexecutor"
)

// Request configures one launcher invocation.
type Request struct {
	// ConfigPath is the devcontainer.json to use.
	ConfigPath string
	// IDLabel tags the container so repeated runs find the same one.
	IDLabel string
	// WorkspaceFolder is passed to the launcher as the local workspace.
	WorkspaceFolder string
	// DockerHost points the launcher at the remote daemon, e.g.
	// ssh://root@203.0.113.5.
	DockerHost string
	// MountPath is the workspace path inside the container used for the URI.
	// When empty, the launcher's remoteWorkspaceFolder is used.
	MountPath string
	Env       []string
}

// Result is the parsed launcher outcome.
type Result struct {
	RemoteContainerID   string
	RemoteWorkspacePath string
	ConnectionURI       string
	// Stdout is the raw launcher output.
	Stdout string
}

// ExecutionError reports a launcher that failed to run or reported failure.
type ExecutionError struct {
	ExitCode int
	Message  string
	Stderr   string
}

func (e *ExecutionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(e.Stderr)
	}
	return fmt.Sprintf("devcontainer launcher failed (exit %d): %s", e.ExitCode, msg)
}

// ParseError reports launcher output without a usable container id.
type ParseError struct {
	Output string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing devcontainer launcher output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Invoker runs the launcher CLI.
type Invoker struct {
	Runner localexecutor.Runner
	// Launcher defaults to "devcontainer".
	Launcher string
	// Editor defaults to "code".
	Editor string
}

// Up runs `devcontainer up` against the remote daemon and parses its result.
func (i *Invoker) Up(ctx context.Context, req Request) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	bin := i.Launcher
	if bin == "" {
		bin = "devcontainer"
	}

	args := []string{"up"}
	if req.ConfigPath != "" {
		args = append(args, "--config", req.ConfigPath)
	}
	if req.IDLabel != "" {
		args = append(args, "--id-label", req.IDLabel)
	}
	folder := req.WorkspaceFolder
	if folder == "" {
		folder = "/tmp/"
	}
	args = append(args, "--workspace-folder", folder)

	env := append([]string(nil), req.Env...)
	if req.DockerHost != "" {
		env = append(env, "DOCKER_HOST="+req.DockerHost)
	}

	logger.Info("▶️ Launching development container", "docker_host", req.DockerHost)
	res, err := i.Runner.Run(ctx, localexecutor.Command{Name: bin, Args: args, Env: env})
	if err != nil {
		return Result{}, &ExecutionError{ExitCode: -1, Message: err.Error()}
	}

	out, perr := parseOutput(res.Stdout)
	if res.ExitCode != 0 {
		e := &ExecutionError{ExitCode: res.ExitCode, Stderr: res.Stderr}
		if perr == nil && out.Message != "" {
			e.Message = out.Message
		}
		return Result{Stdout: res.Stdout}, e
	}
	if perr != nil {
		return Result{Stdout: res.Stdout}, perr
	}
	if out.Outcome == "error" {
		return Result{Stdout: res.Stdout}, &ExecutionError{Message: out.Message, Stderr: res.Stderr}
	}
	if out.ContainerID == "" {
		return Result{Stdout: res.Stdout}, &ParseError{Output: res.Stdout, Err: errors.New("containerId missing")}
	}

	mount := req.MountPath
	if mount == "" {
		mount = out.RemoteWorkspaceFolder
	}
	if mount == "" {
		mount = "/workspace"
	}

	result := Result{
		RemoteContainerID:   out.ContainerID,
		RemoteWorkspacePath: out.RemoteWorkspaceFolder,
		ConnectionURI:       ConnectionURI(out.ContainerID, mount),
		Stdout:              res.Stdout,
	}
	logger.Info("✅ Development container ready", "container", out.ContainerID, "uri", result.ConnectionURI)
	return result, nil
}

// Open asks the editor to attach to uri.
func (i *Invoker) Open(ctx context.Context, uri string) error {
	bin := i.Editor
	if bin == "" {
		bin = "code"
	}
	res, err := i.Runner.Run(ctx, localexecutor.Command{Name: bin, Args: []string{"--folder-uri", uri}})
	if err != nil {
		return &ExecutionError{ExitCode: -1, Message: err.Error()}
	}
	if res.ExitCode != 0 {
		return &ExecutionError{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

// ConnectionURI derives the editor URI for an attached container. The
// container id is hex-encoded as the editor expects.
func ConnectionURI(containerID, mountPath string) string {
	if !strings.HasPrefix(mountPath, "/") {
		mountPath = "/" + mountPath
	}
	return "vscode-remote://attached-container+" + hex.EncodeToString([]byte(containerID)) + path.Clean(mountPath)
}

type launcherOutput struct {
	Outcome               string `json:"outcome"`
	ContainerID           string `json:"containerId"`
	RemoteUser            string `json:"remoteUser"`
	RemoteWorkspaceFolder string `json:"remoteWorkspaceFolder"`
	Message               string `json:"message"`
}

// parseOutput decodes the last JSON object printed by the launcher. Log
// lines printed before it are ignored.
func parseOutput(stdout string) (launcherOutput, error) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for idx := len(lines) - 1; idx >= 0; idx-- {
		line := strings.TrimSpace(lines[idx])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var out launcherOutput
		if err := json.Unmarshal([]byte(line), &out); err != nil {
			return launcherOutput{}, &ParseError{Output: stdout, Err: err}
		}
		return out, nil
	}
	return launcherOutput{}, &ParseError{Output: stdout, Err: errors.New("no JSON result in launcher output")}
}
