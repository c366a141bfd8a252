package tunnel

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/specialistvlad/remotebox/internal/localexecutor"
)

// Runtime is the container runtime the sidecar lives in.
type Runtime interface {
	Run(ctx context.Context, spec Spec) (containerID string, err error)
	Stop(ctx context.Context, dockerHost, id string) error
	Remove(ctx context.Context, dockerHost, id string) error
	Running(ctx context.Context, dockerHost, id string) (bool, error)
	Build(ctx context.Context, b BuildSpec) error
	ImageLabel(ctx context.Context, dockerHost, image, label string) (string, bool, error)
}

// RuntimeError reports a failed runtime CLI invocation.
type RuntimeError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// DockerCLI drives the docker binary.
type DockerCLI struct {
	Runner localexecutor.Runner
	// Binary defaults to "docker".
	Binary string
}

func (d *DockerCLI) run(ctx context.Context, dockerHost string, args ...string) (localexecutor.Result, error) {
	bin := d.Binary
	if bin == "" {
		bin = "docker"
	}
	cmd := localexecutor.Command{Name: bin, Args: args}
	if dockerHost != "" {
		cmd.Env = []string{"DOCKER_HOST=" + dockerHost}
	}
	res, err := d.Runner.Run(ctx, cmd)
	if err != nil {
		return res, err
	}
	if res.ExitCode != 0 {
		return res, &RuntimeError{Command: cmd.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

// Run starts the sidecar detached and returns its container ID.
func (d *DockerCLI) Run(ctx context.Context, spec Spec) (string, error) {
	res, err := d.run(ctx, spec.DockerHost, buildRunArgs(spec)...)
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(res.Stdout)
	if id == "" {
		return "", fmt.Errorf("docker run printed no container id")
	}
	return id, nil
}

// SidecarWorkspace is where the exported local directory is bound inside
// the sidecar container.
const SidecarWorkspace = "/workspace"

// buildRunArgs constructs the docker run arguments for a sidecar.
func buildRunArgs(spec Spec) []string {
	restart := spec.Restart
	if restart == "" {
		restart = DefaultRestartPolicy
	}
	args := []string{"run", "-d", "--restart", string(restart)}
	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}

	// The sidecar needs FUSE for the reverse mount.
	args = append(args, "--cap-add", "SYS_ADMIN", "--device", "/dev/fuse")

	// The exported directory appears at SidecarWorkspace inside the
	// container; the sidecar mounts it on the remote host at REMOTE_PATH.
	if spec.Mount.LocalPath != "" {
		args = append(args, "-v", spec.Mount.LocalPath+":"+SidecarWorkspace)
	}
	for _, v := range spec.Volumes {
		args = append(args, "-v", v)
	}

	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+spec.Env[k])
	}
	if spec.Mount.RemotePath != "" {
		args = append(args, "-e", "REMOTE_PATH="+spec.Mount.RemotePath)
	}

	return append(args, spec.Image)
}

func (d *DockerCLI) Stop(ctx context.Context, dockerHost, id string) error {
	_, err := d.run(ctx, dockerHost, "stop", id)
	return err
}

func (d *DockerCLI) Remove(ctx context.Context, dockerHost, id string) error {
	_, err := d.run(ctx, dockerHost, "rm", "-f", id)
	return err
}

// Running reports whether the container exists and is running. A missing
// container is not an error.
func (d *DockerCLI) Running(ctx context.Context, dockerHost, id string) (bool, error) {
	res, err := d.run(ctx, dockerHost, "inspect", "--format", "{{.State.Running}}", id)
	if err != nil {
		if isNoSuchObject(err) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(res.Stdout) == "true", nil
}

// Build builds an image from a context directory.
func (d *DockerCLI) Build(ctx context.Context, b BuildSpec) error {
	args := []string{"build", "-t", b.Tag}
	if b.Dockerfile != "" {
		args = append(args, "-f", b.Dockerfile)
	}
	for _, k := range sortedKeys(b.Args) {
		args = append(args, "--build-arg", k+"="+b.Args[k])
	}
	for _, k := range sortedKeys(b.Labels) {
		args = append(args, "--label", k+"="+b.Labels[k])
	}
	args = append(args, b.Context)
	_, err := d.run(ctx, b.DockerHost, args...)
	return err
}

// ImageLabel reads one label of a local image. found is false when the
// image does not exist or lacks the label.
func (d *DockerCLI) ImageLabel(ctx context.Context, dockerHost, image, label string) (string, bool, error) {
	format := fmt.Sprintf("{{index .Config.Labels %q}}", label)
	res, err := d.run(ctx, dockerHost, "image", "inspect", "--format", format, image)
	if err != nil {
		if isNoSuchObject(err) {
			return "", false, nil
		}
		return "", false, err
	}
	v := strings.TrimSpace(res.Stdout)
	if v == "" || v == "<no value>" {
		return "", false, nil
	}
	return v, true, nil
}

func isNoSuchObject(err error) bool {
	rerr, ok := err.(*RuntimeError)
	return ok && strings.Contains(rerr.Stderr, "No such")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
