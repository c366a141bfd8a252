package resource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/specialistvlad/remotebox/internal/ctxlog"
)

// saveAttempts bounds how often a freshly created record is written before
// the entity is rolled back.
const saveAttempts = 4

// Providers resolves the provider responsible for a resource kind.
type Providers interface {
	Provider(kind string) (Provider, error)
}

// Store persists records between runs so that a later run can reuse live
// entities instead of provisioning duplicates.
type Store interface {
	LookupResource(ctx context.Context, address string) (Record, bool, error)
	SaveResource(ctx context.Context, rec Record) error
	DeleteResource(ctx context.Context, address string) error
}

// Manager owns every Resource of a run.
type Manager struct {
	providers Providers
	store     Store
	// SaveInterval is the first pause between attempts to record a newly
	// created entity.
	SaveInterval time.Duration

	mu        sync.Mutex
	resources map[string]*Resource
	wg        sync.WaitGroup
}

// NewManager creates a manager. store may be nil, in which case nothing is
// reused or persisted.
func NewManager(providers Providers, store Store) *Manager {
	return &Manager{
		providers:    providers,
		store:        store,
		SaveInterval: 200 * time.Millisecond,
		resources:    make(map[string]*Resource),
	}
}

// Create starts provisioning and returns a Pending handle immediately. A
// second Create for the same address returns the existing handle unless that
// one Failed, in which case provisioning starts over.
func (m *Manager) Create(ctx context.Context, spec Spec) *Resource {
	address := spec.Address()

	m.mu.Lock()
	if r, ok := m.resources[address]; ok && r.State() != Failed {
		m.mu.Unlock()
		return r
	}
	r := newResource(address, spec.Kind)
	m.resources[address] = r
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		rec, err := m.provision(ctx, spec)
		if err != nil {
			r.fail(err)
			return
		}
		r.succeed(rec)
	}()
	return r
}

// Get returns the handle for an address created during this run.
func (m *Manager) Get(address string) (*Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resources[address]
	return r, ok
}

// Close waits for in-flight provisioning goroutines to settle.
func (m *Manager) Close() {
	m.wg.Wait()
}

func (m *Manager) provision(ctx context.Context, spec Spec) (Record, error) {
	ctx, logger := ctxlog.With(ctx, "resource", spec.Address())

	provider, err := m.providers.Provider(spec.Kind)
	if err != nil {
		return Record{}, err
	}

	if m.store != nil {
		prev, found, err := m.store.LookupResource(ctx, spec.Address())
		if err != nil {
			return Record{}, fmt.Errorf("looking up previous state: %w", err)
		}
		if found {
			logger.Debug("Refreshing previously created resource.", "id", prev.ID)
			rec, err := provider.Refresh(ctx, prev)
			switch {
			case err == nil:
				rec.Address, rec.Kind = spec.Address(), spec.Kind
				logger.Info("♻️ Reusing existing resource", "id", rec.ID)
				return rec, m.store.SaveResource(ctx, rec)
			case errors.Is(err, ErrNotFound):
				logger.Warn("Recorded resource vanished, re-creating.", "id", prev.ID)
				if err := m.store.DeleteResource(ctx, spec.Address()); err != nil {
					return Record{}, err
				}
			default:
				return Record{}, fmt.Errorf("refreshing %s: %w", prev.ID, err)
			}
		}
	}

	logger.Info("▶️ Creating resource")
	rec, err := provider.Create(ctx, spec)
	if err != nil {
		return Record{}, err
	}
	rec.Address, rec.Kind = spec.Address(), spec.Kind
	logger.Info("✅ Resource created", "id", rec.ID)

	if m.store != nil {
		if err := m.record(ctx, rec); err != nil {
			return Record{}, m.rollback(ctx, provider, rec, err)
		}
	}
	return rec, nil
}

// record saves a freshly created entity, retrying transient store errors.
func (m *Manager) record(ctx context.Context, rec Record) error {
	ctx = context.WithoutCancel(ctx)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.SaveInterval
	b.MaxElapsedTime = 0
	attempts := 0
	operation := func() error {
		attempts++
		err := m.store.SaveResource(ctx, rec)
		if err != nil {
			ctxlog.FromContext(ctx).Warn("Saving resource record failed.", "id", rec.ID, "attempt", attempts, "error", err)
		}
		return err
	}
	policy := backoff.WithMaxRetries(b, saveAttempts-1)
	return backoff.Retry(operation, policy)
}

// rollback deletes an entity whose record could not be saved so that no
// unrecorded entity outlives the run. When the delete fails too the record
// is logged in full and its ID is named in the returned error.
func (m *Manager) rollback(ctx context.Context, provider Provider, rec Record, saveErr error) error {
	logger := ctxlog.FromContext(ctx)
	logger.Warn("Rolling back unrecorded resource.", "id", rec.ID)
	ctx = context.WithoutCancel(ctx)
	if err := provider.Delete(ctx, rec); err != nil && !errors.Is(err, ErrNotFound) {
		logger.Error("🔥 Resource exists but is not recorded; delete it by hand",
			"id", rec.ID, "kind", rec.Kind, "outputs", rec.Outputs, "error", err)
		return fmt.Errorf("saving state of %s (id %s, left running): %w", rec.Address, rec.ID, errors.Join(saveErr, err))
	}
	return fmt.Errorf("saving state of %s (id %s, rolled back): %w", rec.Address, rec.ID, saveErr)
}

// Destroy deletes a recorded entity through its provider and forgets it.
func (m *Manager) Destroy(ctx context.Context, rec Record) error {
	logger := ctxlog.FromContext(ctx).With("resource", rec.Address)
	provider, err := m.providers.Provider(rec.Kind)
	if err != nil {
		return err
	}

	logger.Info("🔥 Destroying resource", "id", rec.ID)
	if err := provider.Delete(ctx, rec); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("destroying %s: %w", rec.Address, err)
	}
	if m.store != nil {
		return m.store.DeleteResource(ctx, rec.Address)
	}
	return nil
}
