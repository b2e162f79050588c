package storage

import (
	"context"

	"staking-ledger/internal/domain"
)

// Signer authorizes a ledger mutation on behalf of Address.
// Verified callers and derived-authority proofs both satisfy it; Authorizes
// decides which one an address accepts.
type Signer interface {
	Address() domain.Pubkey
}

// PoolStore provides access to pool state records.
type PoolStore interface {
	// InsertPool adds a pool. Returns ErrDuplicateKey if the address exists.
	InsertPool(ctx context.Context, p *domain.PoolState) error

	// GetPool retrieves a pool and locks it for the rest of the transaction.
	// Returns ErrNotFound if not exists.
	GetPool(ctx context.Context, address domain.Pubkey) (*domain.PoolState, error)

	// UpdatePool overwrites the mutable fields of an existing pool.
	// Returns ErrNotFound if not exists.
	UpdatePool(ctx context.Context, p *domain.PoolState) error

	// ListPools retrieves all pools ordered by address.
	ListPools(ctx context.Context) ([]*domain.PoolState, error)
}

// NativeLedger holds native value balances.
type NativeLedger interface {
	// NativeBalance returns the balance of an account. Unknown accounts hold 0.
	NativeBalance(ctx context.Context, address domain.Pubkey) (uint64, error)

	// Credit adds value to an account out of thin air (faucet and test setup).
	// Returns ErrOverflow if the balance would overflow.
	Credit(ctx context.Context, address domain.Pubkey, amount uint64) error

	// Transfer moves value between accounts. The signer must be the source account.
	// Returns ErrSignerMismatch or ErrInsufficientFunds.
	Transfer(ctx context.Context, from, to domain.Pubkey, amount uint64, signer Signer) error
}

// TokenLedger holds receipt-token mints and accounts.
type TokenLedger interface {
	// CreateMint adds a mint with zero supply. Returns ErrDuplicateKey if exists.
	CreateMint(ctx context.Context, m *domain.Mint) error

	// GetMint retrieves a mint. Returns ErrNotFound if not exists.
	GetMint(ctx context.Context, address domain.Pubkey) (*domain.Mint, error)

	// OpenTokenAccount creates an empty account for (mint, owner).
	// Returns ErrNotFound if the mint does not exist, ErrDuplicateKey if the account exists.
	OpenTokenAccount(ctx context.Context, mint, owner domain.Pubkey) error

	// TokenBalance returns the balance of (mint, owner). Returns ErrNotFound if no account.
	TokenBalance(ctx context.Context, mint, owner domain.Pubkey) (uint64, error)

	// MintTo increases supply and the owner's balance. The signer must be the mint authority.
	// Returns ErrNotFound (mint or account missing), ErrSignerMismatch or ErrOverflow.
	MintTo(ctx context.Context, mint, owner domain.Pubkey, amount uint64, signer Signer) error

	// Burn decreases supply and the owner's balance. The signer must be the owner.
	// Returns ErrNotFound, ErrSignerMismatch or ErrInsufficientFunds.
	Burn(ctx context.Context, mint, owner domain.Pubkey, amount uint64, signer Signer) error
}

// MetadataStore provides access to token_metadata storage.
type MetadataStore interface {
	// InsertMetadata adds metadata. The signer must be the mint authority.
	// Returns ErrDuplicateKey if the mint already has metadata.
	InsertMetadata(ctx context.Context, m *domain.TokenMetadata, signer Signer) error

	// GetMetadata retrieves metadata by mint. Returns ErrNotFound if not exists.
	GetMetadata(ctx context.Context, mint domain.Pubkey) (*domain.TokenMetadata, error)
}

// EventLog is the append-only per-pool event log.
type EventLog interface {
	// AppendEvent assigns the next sequence number of e.Pool and stores e.
	AppendEvent(ctx context.Context, e *domain.Event) error

	// ListEvents retrieves events of a pool with Seq > afterSeq, ordered by Seq ASC.
	// A non-positive limit returns all remaining events.
	ListEvents(ctx context.Context, pool domain.Pubkey, afterSeq uint64, limit int) ([]*domain.Event, error)
}

// Tx is the view of the substrate inside one atomic call.
type Tx interface {
	PoolStore
	NativeLedger
	TokenLedger
	MetadataStore
	EventLog
}

// Substrate executes calls atomically: every mutation made through the Tx
// is committed if fn returns nil and discarded otherwise. Calls touching the
// same pool are serialized.
type Substrate interface {
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// EventArchive is an analytics copy of emitted events (off the critical path).
type EventArchive interface {
	// InsertBulk appends events. Events already archived (same pool and seq) are skipped.
	InsertBulk(ctx context.Context, events []*domain.Event) error

	// GetByPool retrieves archived events of a pool ordered by Seq ASC.
	GetByPool(ctx context.Context, pool domain.Pubkey) ([]*domain.Event, error)

	// CountByKind returns the number of archived events per kind for a pool.
	CountByKind(ctx context.Context, pool domain.Pubkey) (map[domain.EventKind]uint64, error)
}
