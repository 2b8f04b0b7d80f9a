package apikeys

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tibridge/internal/store"
	"tibridge/internal/store/storetest"
)

func TestRegistryLifecycle(t *testing.T) {
	s, _ := storetest.New(t)
	r := NewRegistry(s)
	ctx := context.Background()

	_, err := s.SetAdd(ctx, store.KeyAPIKeys, "legacy-key")
	require.NoError(t, err)

	generated, err := r.Generate(ctx, "  soc-team ")
	require.NoError(t, err)
	assert.Equal(t, "soc-team", generated.Name)
	assert.Len(t, generated.Key, 36)

	for _, key := range []string{"legacy-key", generated.Key} {
		ok, err := r.Valid(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "key %s should be valid", key)
	}
	ok, err := r.Valid(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := r.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, Key{Key: "legacy-key", Name: legacyName, Legacy: true}, keys[0])
	assert.Equal(t, generated, keys[1])

	removed, err := r.Delete(ctx, "legacy-key")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = r.Delete(ctx, "legacy-key")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGenerateRequiresName(t *testing.T) {
	s, _ := storetest.New(t)
	_, err := NewRegistry(s).Generate(context.Background(), " ")
	assert.True(t, errors.Is(err, ErrEmptyName))
}

func TestValidEmptyKey(t *testing.T) {
	s, _ := storetest.New(t)
	ok, err := NewRegistry(s).Valid(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
}
