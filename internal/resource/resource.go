// Package resource manages externally provisioned entities such as cloud
// servers and registered keys. A Resource is returned immediately in the
// Pending state; its output attributes become available asynchronously once
// the provider finishes.
package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/specialistvlad/remotebox/internal/future"
)

// State is the lifecycle state of a Resource.
type State int32

const (
	Pending State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// ErrNotFound is returned by Provider.Refresh when the remote entity no
// longer exists.
var ErrNotFound = errors.New("resource not found")

// Spec is the caller's request for a resource. Attributes are opaque to the
// manager and interpreted by the provider.
type Spec struct {
	Kind       string
	Name       string
	Attributes map[string]string
}

// Address is the node address of the resource, e.g. "resource.hcloud_server.box".
func (s Spec) Address() string {
	return Address(s.Kind, s.Name)
}

// Address formats a resource node address.
func Address(kind, name string) string {
	return fmt.Sprintf("resource.%s.%s", kind, name)
}

// Record is the provider's description of a live entity. It is what gets
// persisted between runs and handed back for refresh and deletion.
type Record struct {
	Address string
	Kind    string
	ID      string
	Outputs map[string]string
}

// Provider talks to the system that owns a kind of resource.
type Provider interface {
	Create(ctx context.Context, spec Spec) (Record, error)
	// Refresh re-reads a previously created entity. It returns ErrNotFound
	// when the entity is gone.
	Refresh(ctx context.Context, rec Record) (Record, error)
	Delete(ctx context.Context, rec Record) error
}

// Resource is a handle on an entity being provisioned.
type Resource struct {
	Address string
	Kind    string

	record *future.Value[Record]
}

func newResource(address, kind string) *Resource {
	return &Resource{Address: address, Kind: kind, record: future.New[Record]()}
}

// State returns the current lifecycle state. It is read from the settled
// record, so a caller released by Wait never observes Pending.
func (r *Resource) State() State {
	_, err, ok := r.record.Peek()
	switch {
	case !ok:
		return Pending
	case err != nil:
		return Failed
	}
	return Ready
}

// ID returns the provider identifier once the resource is Ready.
func (r *Resource) ID() (string, bool) {
	rec, err, ok := r.record.Peek()
	if !ok || err != nil {
		return "", false
	}
	return rec.ID, true
}

// Wait blocks until the resource leaves Pending. It returns the provisioning
// error for a failed resource.
func (r *Resource) Wait(ctx context.Context) error {
	_, err := r.record.Wait(ctx)
	return err
}

// Record blocks like Wait and returns the settled record.
func (r *Resource) Record(ctx context.Context) (Record, error) {
	return r.record.Wait(ctx)
}

// Resolve suspends until attr is available. Every waiter of a failed resource
// receives the same *ProvisioningError. Resolving an attribute of a Ready
// resource returns the cached value.
func (r *Resource) Resolve(ctx context.Context, attr string) (string, error) {
	rec, err := r.record.Wait(ctx)
	if err != nil {
		return "", err
	}
	if attr == "id" {
		return rec.ID, nil
	}
	v, ok := rec.Outputs[attr]
	if !ok {
		return "", &ProvisioningError{
			Address: r.Address,
			Attr:    attr,
			Err:     fmt.Errorf("unknown attribute %q (have %v)", attr, outputNames(rec)),
		}
	}
	return v, nil
}

func (r *Resource) succeed(rec Record) {
	r.record.Resolve(rec)
}

func (r *Resource) fail(err error) {
	r.record.Fail(&ProvisioningError{Address: r.Address, Err: err})
}

func outputNames(rec Record) []string {
	names := make([]string, 0, len(rec.Outputs)+1)
	names = append(names, "id")
	for k := range rec.Outputs {
		names = append(names, k)
	}
	sort.Strings(names[1:])
	return names
}

// ProvisioningError is delivered to every waiter of a resource whose
// provider failed, or to a caller asking for an attribute the resource does
// not expose.
type ProvisioningError struct {
	Address string
	// Attr is set when the failure concerns a single attribute.
	Attr string
	Err  error
}

func (e *ProvisioningError) Error() string {
	if e.Attr != "" {
		return fmt.Sprintf("resource %s: attribute %s: %v", e.Address, e.Attr, e.Err)
	}
	return fmt.Sprintf("resource %s: provisioning failed: %v", e.Address, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }
