package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/specialistvlad/remotebox/internal/registry"
	"github.com/specialistvlad/remotebox/internal/resource"
	"github.com/specialistvlad/remotebox/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	calls *[]map[string]string
}

func (m fakeModule) Register(r *registry.Registry) {
	r.RegisterProvider("fake", &registry.RegisteredProvider{
		Kinds: []string{"fake_server", "fake_key"},
		New: func(_ context.Context, args map[string]string) (resource.Provider, error) {
			*m.calls = append(*m.calls, args)
			if args["token"] == "bad" {
				return nil, errors.New("token rejected")
			}
			return testutil.NewFakeProvider(), nil
		},
	})
}

func TestRegistry(t *testing.T) {
	var calls []map[string]string
	r := registry.New()
	fakeModule{calls: &calls}.Register(r)

	assert.True(t, r.HasProvider("fake"))
	assert.True(t, r.HasKind("fake_key"))
	assert.False(t, r.HasKind("hcloud_server"))
	assert.Equal(t, []string{"fake_key", "fake_server"}, r.Kinds())

	t.Run("configured provider is shared by its kinds", func(t *testing.T) {
		require.NoError(t, r.Configure(context.Background(), "fake", map[string]string{"token": "t0k"}))
		a, err := r.Provider("fake_server")
		require.NoError(t, err)
		b, err := r.Provider("fake_key")
		require.NoError(t, err)
		assert.Same(t, a, b)
		assert.Equal(t, []map[string]string{{"token": "t0k"}}, calls)
	})

	t.Run("configure errors are wrapped", func(t *testing.T) {
		err := r.Configure(context.Background(), "fake", map[string]string{"token": "bad"})
		assert.ErrorContains(t, err, `configuring provider "fake": token rejected`)
	})

	t.Run("unknown names", func(t *testing.T) {
		_, err := r.Provider("nope_server")
		assert.ErrorContains(t, err, `unknown resource kind "nope_server"`)
		assert.ErrorContains(t, r.Configure(context.Background(), "nope", nil), `unknown provider "nope"`)
	})
}

func TestRegistry_ConfiguresLazily(t *testing.T) {
	var calls []map[string]string
	r := registry.New()
	fakeModule{calls: &calls}.Register(r)

	p, err := r.Provider("fake_server")
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Len(t, calls, 1)
}

func TestRegistry_DuplicateRegistrationPanics(t *testing.T) {
	var calls []map[string]string
	r := registry.New()
	fakeModule{calls: &calls}.Register(r)
	assert.Panics(t, func() { fakeModule{calls: &calls}.Register(r) })
}
