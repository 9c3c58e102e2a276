package keys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain/chat"
)

func TestMemoryStoreEnsureIsStable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Ensure(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.NotEmpty(t, first.PublicKey)

	again, err := s.Ensure(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.PublicKey, again.PublicKey)
}

func TestMemoryStoreMissingKey(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.ActivePublicKey(ctx, "nobody")
	assert.ErrorIs(t, err, chat.ErrKeyUnavailable)
	_, err = s.PrivateKey(ctx, "nobody", 1)
	assert.ErrorIs(t, err, chat.ErrKeyUnavailable)
}

func TestMemoryStoreRotateKeepsOldVersions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	v1, err := s.Ensure(ctx, "bob")
	require.NoError(t, err)
	v2, err := s.Rotate(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)
	assert.NotEqual(t, v1.PublicKey, v2.PublicKey)

	// Active key is the rotated one.
	active, err := s.ActivePublicKey(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	// The version that wrapped older messages is still reachable.
	old, err := s.PrivateKey(ctx, "bob", 1)
	require.NoError(t, err)
	assert.Equal(t, v1.PrivateKey, old)
}
