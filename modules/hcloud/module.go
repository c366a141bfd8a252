// Package hcloud provides Hetzner Cloud servers and SSH keys as pipeline
// resources.
package hcloud

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	hc "github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/specialistvlad/remotebox/internal/registry"
	"github.com/specialistvlad/remotebox/internal/resource"
)

const (
	KindServer = "hcloud_server"
	KindSSHKey = "hcloud_ssh_key"
)

// Module implements the registry.Module interface for this package.
type Module struct {
	// Version is reported to the API as the application version.
	Version string
}

// Register registers the provider with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterProvider("hcloud", &registry.RegisteredProvider{
		Kinds: []string{KindServer, KindSSHKey},
		New: func(ctx context.Context, args map[string]string) (resource.Provider, error) {
			return NewProvider(args, m.Version)
		},
	})
}

// NewProvider builds a provider from its block arguments: token (falls back
// to HCLOUD_TOKEN), endpoint and poll_interval.
func NewProvider(args map[string]string, version string) (*Provider, error) {
	token := args["token"]
	if token == "" {
		token = os.Getenv("HCLOUD_TOKEN")
	}
	if token == "" {
		return nil, errors.New("hcloud: token is required (set the token argument or HCLOUD_TOKEN)")
	}

	opts := []hc.ClientOption{
		hc.WithToken(token),
		hc.WithApplication("remotebox", version),
	}
	if ep := args["endpoint"]; ep != "" {
		opts = append(opts, hc.WithEndpoint(ep))
	}
	if s := args["poll_interval"]; s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("hcloud: invalid poll_interval: %w", err)
		}
		opts = append(opts, hc.WithPollBackoffFunc(hc.ConstantBackoff(d)))
	}

	client := hc.NewClient(opts...)
	return &Provider{
		Servers: &client.Server,
		SSHKeys: &client.SSHKey,
		Actions: &client.Action,
	}, nil
}
