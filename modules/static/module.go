// Package static provides the static_host resource: a machine that already
// exists and is only described, never created or destroyed.
package static

import (
	"context"
	"fmt"

	"github.com/specialistvlad/remotebox/internal/registry"
	"github.com/specialistvlad/remotebox/internal/resource"
)

const KindHost = "static_host"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Register registers the provider with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterProvider("static", &registry.RegisteredProvider{
		Kinds: []string{KindHost},
		New: func(context.Context, map[string]string) (resource.Provider, error) {
			return Provider{}, nil
		},
	})
}

// Provider echoes a host's attributes back as its outputs.
type Provider struct{}

func (Provider) Create(_ context.Context, spec resource.Spec) (resource.Record, error) {
	host := spec.Attributes["ipv4_address"]
	if host == "" {
		return resource.Record{}, fmt.Errorf("static_host %s: ipv4_address is required", spec.Name)
	}
	outputs := make(map[string]string, len(spec.Attributes)+1)
	for k, v := range spec.Attributes {
		outputs[k] = v
	}
	outputs["id"] = host
	return resource.Record{Address: spec.Address(), Kind: spec.Kind, ID: host, Outputs: outputs}, nil
}

func (Provider) Refresh(_ context.Context, rec resource.Record) (resource.Record, error) {
	return rec, nil
}

// Delete forgets the host; the machine itself is left alone.
func (Provider) Delete(context.Context, resource.Record) error {
	return nil
}
