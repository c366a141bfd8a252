package static

import (
	"context"
	"testing"

	"github.com/specialistvlad/remotebox/internal/registry"
	"github.com/specialistvlad/remotebox/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticHost(t *testing.T) {
	r := registry.New()
	(&Module{}).Register(r)

	p, err := r.Provider(KindHost)
	require.NoError(t, err)

	rec, err := p.Create(context.Background(), resource.Spec{
		Kind:       KindHost,
		Name:       "lab",
		Attributes: map[string]string{"ipv4_address": "198.51.100.7", "user": "ops"},
	})
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.7", rec.ID)
	assert.Equal(t, map[string]string{"ipv4_address": "198.51.100.7", "user": "ops", "id": "198.51.100.7"}, rec.Outputs)

	same, err := p.Refresh(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, rec, same)
	assert.NoError(t, p.Delete(context.Background(), rec))

	_, err = p.Create(context.Background(), resource.Spec{Kind: KindHost, Name: "lab"})
	assert.ErrorContains(t, err, "ipv4_address is required")
}
