package hub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcore/internal/domain/chat"
)

func seedAt(last uint64) func(context.Context) (uint64, error) {
	return func(context.Context) (uint64, error) { return last, nil }
}

func TestAuthoritySeedsFromStore(t *testing.T) {
	a := newAuthority()
	seq, err := a.reserve(context.Background(), seedAt(41))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)

	// Seeding happens once; the counter keeps going without re-reading.
	seq, err = a.reserve(context.Background(), seedAt(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(43), seq)
}

func TestAuthorityPublishesInTicketOrder(t *testing.T) {
	a := newAuthority()
	ctx := context.Background()
	s1, err := a.reserve(ctx, seedAt(0))
	require.NoError(t, err)
	s2, err := a.reserve(ctx, seedAt(0))
	require.NoError(t, err)
	s3, err := a.reserve(ctx, seedAt(0))
	require.NoError(t, err)

	var published []uint64
	record := func(seq uint64) func() {
		return func() { published = append(published, seq) }
	}

	// Later tickets finish first and must wait in the pending buffer.
	require.NoError(t, a.complete(s3, record(s3)))
	require.NoError(t, a.complete(s2, record(s2)))
	assert.Empty(t, published)

	require.NoError(t, a.complete(s1, record(s1)))
	assert.Equal(t, []uint64{s1, s2, s3}, published)
}

func TestAuthorityAbortSkipsGap(t *testing.T) {
	a := newAuthority()
	ctx := context.Background()
	s1, _ := a.reserve(ctx, seedAt(0))
	s2, _ := a.reserve(ctx, seedAt(0))

	var published []uint64
	require.NoError(t, a.complete(s2, func() { published = append(published, s2) }))
	require.NoError(t, a.abort(s1))
	assert.Equal(t, []uint64{s2}, published)
}

func TestAuthorityRejectsDuplicateAndOutOfWindowTickets(t *testing.T) {
	a := newAuthority()
	ctx := context.Background()
	s1, _ := a.reserve(ctx, seedAt(0))

	require.NoError(t, a.complete(s1, func() {}))
	assert.ErrorIs(t, a.complete(s1, func() {}), chat.ErrOrderingViolation)
	assert.ErrorIs(t, a.complete(99, func() {}), chat.ErrOrderingViolation)
}

func TestAuthorityCountsUnfinishedTickets(t *testing.T) {
	a := newAuthority()
	ctx := context.Background()
	s1, _ := a.reserve(ctx, seedAt(0))
	s2, _ := a.reserve(ctx, seedAt(0))
	assert.Equal(t, 2, a.outstanding)

	// Completed-but-buffered counts as finished: the pending entry drains
	// as soon as the lower ticket resolves, so only reserved tickets keep
	// the authority pinned.
	require.NoError(t, a.complete(s2, func() {}))
	assert.Equal(t, 1, a.outstanding)
	require.NoError(t, a.abort(s1))
	assert.Zero(t, a.outstanding)
}

func TestAuthorityResetReseeds(t *testing.T) {
	a := newAuthority()
	ctx := context.Background()
	_, err := a.reserve(ctx, seedAt(0))
	require.NoError(t, err)

	a.reset()
	seq, err := a.reserve(ctx, seedAt(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(11), seq)
}

func TestReserveHonorsContextCancellation(t *testing.T) {
	a := newAuthority()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Hold the lock so reserve has to wait, then observe the cancellation.
	<-a.reserveCh
	_, err := a.reserve(ctx, seedAt(0))
	assert.ErrorIs(t, err, context.Canceled)
	a.reserveCh <- struct{}{}
}
