// Package tunnel supervises the sidecar container that keeps a local
// directory mounted on the remote host. The container runtime restarts the
// sidecar according to its restart policy; this package only starts, stops
// and inspects it.
//
// A session is reported Active as soon as the runtime says the container
// started. The mount itself may become usable later; consumers that need the
// mount must tolerate a short window where it is not there yet.
package tunnel

import (
	"fmt"
	"strings"
)

// RestartPolicy is the runtime's supervision rule for the sidecar.
type RestartPolicy string

const (
	Always        RestartPolicy = "always"
	UnlessStopped RestartPolicy = "unless-stopped"
	Never         RestartPolicy = "no"
)

// DefaultRestartPolicy restarts the sidecar after crashes and host reboots
// but honours a deliberate stop.
const DefaultRestartPolicy = UnlessStopped

// ParseRestartPolicy accepts the runtime spellings plus "never". An empty
// string yields the default.
func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultRestartPolicy, nil
	case "always":
		return Always, nil
	case "unless-stopped", "unless_stopped":
		return UnlessStopped, nil
	case "no", "never":
		return Never, nil
	}
	return "", fmt.Errorf("unknown restart policy %q (want always, unless-stopped or never)", s)
}

// Status is the lifecycle state of a session.
type Status string

const (
	Starting Status = "starting"
	Active   Status = "active"
	Stopped  Status = "stopped"
)

// Mount pairs the operator's directory with its location on the remote host.
type Mount struct {
	LocalPath  string
	RemotePath string
}

// Spec describes the sidecar to start.
type Spec struct {
	// Name is the container name; starting a spec whose container already
	// runs replaces it.
	Name  string
	Image string
	Mount Mount
	// Volumes are additional host:container bind mounts, typically the key
	// pair the sidecar authenticates with.
	Volumes []string
	Env     map[string]string
	Restart RestartPolicy
	// DockerHost selects the daemon, e.g. ssh://root@203.0.113.5. Empty
	// means the local daemon.
	DockerHost string
}

// Session is a running (or stopped) sidecar.
type Session struct {
	ContainerID string
	Name        string
	Mount       Mount
	Status      Status
	Restart     RestartPolicy
	DockerHost  string
}
