package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-ledger/internal/domain"
)

func archiveEvent(pool domain.Pubkey, seq uint64, kind domain.EventKind, payload domain.EventPayload) *domain.Event {
	return &domain.Event{
		ID:        "ev-" + kind.String(),
		Pool:      pool,
		Seq:       seq,
		Kind:      kind,
		Timestamp: 1700000000 + int64(seq),
		Payload:   payload,
	}
}

func TestEventArchive_InsertAndGetByPool(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	archive := NewEventArchive(conn)
	ctx := context.Background()

	var pool, other, user domain.Pubkey
	pool[0], other[0], user[0] = 1, 2, 3

	events := []*domain.Event{
		archiveEvent(pool, 1, domain.EventInitialize, domain.InitializeEvent{Admin: user, Treasury: user, Mint: user}),
		archiveEvent(pool, 2, domain.EventStake, domain.StakeEvent{User: user, Amount: 50}),
		archiveEvent(pool, 3, domain.EventStake, domain.StakeEvent{User: user, Amount: 5}),
		archiveEvent(other, 1, domain.EventInitialize, domain.InitializeEvent{Admin: user}),
	}
	require.NoError(t, archive.InsertBulk(ctx, events))

	// Redelivery of the same (pool, seq) is collapsed.
	require.NoError(t, archive.InsertBulk(ctx, events[1:2]))

	got, err := archive.GetByPool(ctx, pool)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, domain.StakeEvent{User: user, Amount: 50}, got[1].Payload)
	assert.Equal(t, pool, got[2].Pool)

	counts, err := archive.CountByKind(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), counts[domain.EventInitialize])
	assert.Equal(t, uint64(2), counts[domain.EventStake])
}

func TestEventArchive_InsertEmpty(t *testing.T) {
	archive := NewEventArchive(nil)
	assert.NoError(t, archive.InsertBulk(context.Background(), nil))
}
