package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/storage"
)

// Substrate implements storage.Substrate using PostgreSQL transactions.
// Calls on the same pool serialize on the pool row (SELECT ... FOR UPDATE).
type Substrate struct {
	pool *Pool
}

// NewSubstrate creates a new Substrate.
func NewSubstrate(pool *Pool) *Substrate {
	return &Substrate{pool: pool}
}

// Compile-time interface check.
var _ storage.Substrate = (*Substrate)(nil)

// Atomic runs fn in one transaction, committed only if fn returns nil.
func (s *Substrate) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "atomic", time.Since(start).Seconds(), err)
	}()

	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx)

	if err := fn(ctx, &ledgerTx{tx: pgTx}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// toBigint converts a lamport amount to the BIGINT column range.
func toBigint(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, storage.ErrOverflow
	}
	return int64(amount), nil
}

// debitAmount converts an amount to be taken from a balance. No stored
// balance exceeds the BIGINT range, so a larger amount can never be covered.
func debitAmount(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, storage.ErrInsufficientFunds
	}
	return int64(amount), nil
}

// decodeKeys parses base58 columns into their destinations.
func decodeKeys(pairs map[*domain.Pubkey]string) error {
	for dst, s := range pairs {
		pk, err := domain.ParsePubkey(s)
		if err != nil {
			return err
		}
		*dst = pk
	}
	return nil
}

// wrapWriteError maps constraint errors to storage sentinels.
func wrapWriteError(op string, err error) error {
	switch {
	case isDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	case isForeignKeyError(err):
		return storage.ErrNotFound
	case isOverflowError(err):
		return storage.ErrOverflow
	}
	return fmt.Errorf("%s: %w", op, err)
}
