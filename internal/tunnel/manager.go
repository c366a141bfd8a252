package tunnel

import (
	"context"
	"fmt"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
)

// Manager starts and stops sidecar sessions.
type Manager struct {
	Runtime Runtime
}

// Start launches the sidecar. An existing container with the same name is
// removed first so that re-running a pipeline converges on one sidecar.
// The returned session is Active once the runtime reports the container
// started; the mount is not verified.
func (m *Manager) Start(ctx context.Context, spec Spec) (*Session, error) {
	logger := ctxlog.FromContext(ctx).With("sidecar", spec.Name)
	if spec.Image == "" {
		return nil, fmt.Errorf("sidecar %s: image is required", spec.Name)
	}
	if spec.Restart == "" {
		spec.Restart = DefaultRestartPolicy
	}

	s := &Session{
		Name:       spec.Name,
		Mount:      spec.Mount,
		Status:     Starting,
		Restart:    spec.Restart,
		DockerHost: spec.DockerHost,
	}

	if spec.Name != "" {
		running, err := m.Runtime.Running(ctx, spec.DockerHost, spec.Name)
		if err != nil {
			return nil, fmt.Errorf("inspecting existing sidecar: %w", err)
		}
		if running {
			logger.Info("Replacing running sidecar.")
		}
		if err := m.Runtime.Remove(ctx, spec.DockerHost, spec.Name); err != nil && !isNoSuchObject(err) {
			return nil, fmt.Errorf("removing previous sidecar: %w", err)
		}
	}

	logger.Info("▶️ Starting sidecar", "image", spec.Image, "restart", spec.Restart)
	id, err := m.Runtime.Run(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("starting sidecar %s: %w", spec.Name, err)
	}
	s.ContainerID = id
	s.Status = Active
	logger.Info("✅ Sidecar started", "container", id)
	return s, nil
}

// Stop deliberately stops the sidecar. With UnlessStopped and Never the
// runtime will not bring it back.
func (m *Manager) Stop(ctx context.Context, s *Session) error {
	logger := ctxlog.FromContext(ctx).With("sidecar", s.Name, "container", s.ContainerID)
	if s.Status == Stopped {
		return nil
	}
	logger.Info("🔥 Stopping sidecar")
	if err := m.Runtime.Stop(ctx, s.DockerHost, s.ContainerID); err != nil && !isNoSuchObject(err) {
		return fmt.Errorf("stopping sidecar %s: %w", s.ContainerID, err)
	}
	s.Status = Stopped
	return nil
}

// Refresh updates the session status from the runtime.
func (m *Manager) Refresh(ctx context.Context, s *Session) error {
	running, err := m.Runtime.Running(ctx, s.DockerHost, s.ContainerID)
	if err != nil {
		return err
	}
	if running {
		s.Status = Active
	} else {
		s.Status = Stopped
	}
	return nil
}
