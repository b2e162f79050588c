package memory

import (
	"context"
	"sync"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// Store is an in-memory implementation of storage.Substrate.
// Atomic calls are serialized by a store-wide mutex; writes are staged in an
// overlay and only become visible when the call returns nil.
type Store struct {
	mu       sync.Mutex
	pools    map[domain.Pubkey]*domain.PoolState
	balances map[domain.Pubkey]uint64
	mints    map[domain.Pubkey]*domain.Mint
	accounts map[accountKey]uint64
	metadata map[domain.Pubkey]*domain.TokenMetadata
	events   map[domain.Pubkey][]*domain.Event
}

// accountKey identifies a token account.
type accountKey struct {
	mint  domain.Pubkey
	owner domain.Pubkey
}

// NewStore creates a new empty in-memory substrate.
func NewStore() *Store {
	return &Store{
		pools:    make(map[domain.Pubkey]*domain.PoolState),
		balances: make(map[domain.Pubkey]uint64),
		mints:    make(map[domain.Pubkey]*domain.Mint),
		accounts: make(map[accountKey]uint64),
		metadata: make(map[domain.Pubkey]*domain.TokenMetadata),
		events:   make(map[domain.Pubkey][]*domain.Event),
	}
}

// Atomic runs fn against a staged view of the store and commits on success.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

var _ storage.Substrate = (*Store)(nil)
