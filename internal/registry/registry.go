package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/specialistvlad/remotebox/internal/ctxlog"
	"github.com/specialistvlad/remotebox/internal/resource"
)

// Module is the interface that all provider modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Factory builds a configured provider from its evaluated block arguments.
type Factory func(ctx context.Context, args map[string]string) (resource.Provider, error)

// RegisteredProvider holds the compiled Go parts of a provider.
type RegisteredProvider struct {
	// Kinds lists the resource kinds the provider serves.
	Kinds []string
	New   Factory
}

// Registry holds the registered provider factories and, once configured,
// the provider instances for a single application instance.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]*RegisteredProvider
	kinds      map[string]string
	configured map[string]resource.Provider
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		providers:  make(map[string]*RegisteredProvider),
		kinds:      make(map[string]string),
		configured: make(map[string]resource.Provider),
	}
}

// RegisterProvider registers a provider factory under name.
func (r *Registry) RegisterProvider(name string, p *RegisteredProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.providers[name]; exists {
		panic(fmt.Sprintf("provider with name '%s' already registered", name))
	}
	for _, kind := range p.Kinds {
		if owner, exists := r.kinds[kind]; exists {
			panic(fmt.Sprintf("resource kind '%s' already registered by provider '%s'", kind, owner))
		}
		r.kinds[kind] = name
	}
	slog.Debug("Registering provider.", "name", name, "kinds", p.Kinds)
	r.providers[name] = p
}

// Configure instantiates the provider named name with args.
func (r *Registry) Configure(ctx context.Context, name string, args map[string]string) error {
	r.mu.RLock()
	reg, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown provider %q", name)
	}

	ctxlog.FromContext(ctx).Debug("Configuring provider.", "name", name)
	p, err := reg.New(ctx, args)
	if err != nil {
		return fmt.Errorf("configuring provider %q: %w", name, err)
	}

	r.mu.Lock()
	r.configured[name] = p
	r.mu.Unlock()
	return nil
}

// Provider returns the configured provider for a resource kind. A provider
// that was registered but never configured is configured with no arguments.
func (r *Registry) Provider(kind string) (resource.Provider, error) {
	r.mu.RLock()
	name, ok := r.kinds[kind]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("unknown resource kind %q", kind)
	}
	p, configured := r.configured[name]
	r.mu.RUnlock()
	if configured {
		return p, nil
	}
	if err := r.Configure(context.Background(), name, nil); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.configured[name], nil
}

// HasKind reports whether some registered provider serves kind.
func (r *Registry) HasKind(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.kinds[kind]
	return ok
}

// HasProvider reports whether a provider named name is registered.
func (r *Registry) HasProvider(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[name]
	return ok
}

// Kinds returns every registered resource kind, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
