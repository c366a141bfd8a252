package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/remotebox/internal/resource"
)

// FakeProvider is an in-memory resource.Provider. Outputs for a created
// resource are computed by OutputsFn; Delay is slept before Create returns.
type FakeProvider struct {
	Delay     time.Duration
	OutputsFn func(spec resource.Spec) map[string]string
	// CreateErr, when set, is returned by every Create call.
	CreateErr error
	// DeleteErr, when set, is returned by every Delete call.
	DeleteErr error

	mu      sync.Mutex
	nextID  int
	live    map[string]resource.Record
	Created []resource.Spec
	Deleted []string
}

// NewFakeProvider returns a provider whose resources expose their
// attributes as outputs.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{live: make(map[string]resource.Record)}
}

func (p *FakeProvider) Create(ctx context.Context, spec resource.Spec) (resource.Record, error) {
	if p.Delay > 0 {
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return resource.Record{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.Created = append(p.Created, spec)
	if p.CreateErr != nil {
		return resource.Record{}, p.CreateErr
	}

	p.nextID++
	outputs := make(map[string]string)
	for k, v := range spec.Attributes {
		outputs[k] = v
	}
	if p.OutputsFn != nil {
		for k, v := range p.OutputsFn(spec) {
			outputs[k] = v
		}
	}
	rec := resource.Record{
		Address: spec.Address(),
		Kind:    spec.Kind,
		ID:      fmt.Sprintf("%s-%d", spec.Kind, p.nextID),
		Outputs: outputs,
	}
	p.live[rec.ID] = rec
	return rec, nil
}

func (p *FakeProvider) Refresh(_ context.Context, rec resource.Record) (resource.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	live, ok := p.live[rec.ID]
	if !ok {
		return resource.Record{}, resource.ErrNotFound
	}
	return live, nil
}

func (p *FakeProvider) Delete(_ context.Context, rec resource.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	if _, ok := p.live[rec.ID]; !ok {
		return resource.ErrNotFound
	}
	delete(p.live, rec.ID)
	p.Deleted = append(p.Deleted, rec.ID)
	return nil
}

// Forget drops a live record, simulating an entity removed out of band.
func (p *FakeProvider) Forget(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, id)
}

// CreateCount returns how many Create calls were made.
func (p *FakeProvider) CreateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Created)
}

// SingleProvider serves one provider for every kind.
type SingleProvider struct{ P resource.Provider }

func (s SingleProvider) Provider(string) (resource.Provider, error) { return s.P, nil }

// MemoryResourceStore is an in-memory resource.Store.
type MemoryResourceStore struct {
	mu      sync.Mutex
	Records map[string]resource.Record
	// The next FailSaves calls to SaveResource return SaveErr.
	FailSaves int
	SaveErr   error
	Saves     int
}

func NewMemoryResourceStore() *MemoryResourceStore {
	return &MemoryResourceStore{Records: make(map[string]resource.Record)}
}

func (s *MemoryResourceStore) LookupResource(_ context.Context, address string) (resource.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.Records[address]
	return rec, ok, nil
}

func (s *MemoryResourceStore) SaveResource(_ context.Context, rec resource.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Saves++
	if s.FailSaves > 0 {
		s.FailSaves--
		return s.SaveErr
	}
	s.Records[rec.Address] = rec
	return nil
}

func (s *MemoryResourceStore) DeleteResource(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Records, address)
	return nil
}
