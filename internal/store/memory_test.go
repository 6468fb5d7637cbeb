package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetRemove(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "trip:record:t1", `{"id":"t1"}`))

	value, ok, err := s.Get(ctx, "trip:record:t1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"id":"t1"}`, value)

	require.NoError(t, s.Remove(ctx, "trip:record:t1"))
	_, ok, err = s.Get(ctx, "trip:record:t1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_KeysByPrefix(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "trip:record:t1", "a"))
	require.NoError(t, s.Set(ctx, "trip:record:t2", "b"))
	require.NoError(t, s.Set(ctx, "vehicle:v1", "c"))

	keys, err := s.Keys(ctx, "trip:record:")
	require.NoError(t, err)
	assert.Equal(t, []string{"trip:record:t1", "trip:record:t2"}, keys)

	keys, err = s.Keys(ctx, "nothing:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}
