package staking

import (
	"context"
	"errors"
	"fmt"

	"staking-ledger/internal/authority"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// Derivations are the derived authorities of a pool.
type Derivations struct {
	ProgramID     domain.Pubkey        `json:"program_id"`
	Pool          domain.Pubkey        `json:"pool"`
	Treasury      authority.Derivation `json:"treasury"`
	MintAuthority authority.Derivation `json:"mint_authority"`
}

// Derive computes the treasury and mint-authority derivations a client needs
// to call Initialize. The pool does not have to exist.
func (e *Engine) Derive(pool domain.Pubkey) (*Derivations, error) {
	treasury, err := e.deriver.Treasury(pool)
	if err != nil {
		return nil, fmt.Errorf("derive treasury: %w", err)
	}
	mintAuthority, err := e.deriver.MintAuthority(pool)
	if err != nil {
		return nil, fmt.Errorf("derive mint authority: %w", err)
	}
	return &Derivations{
		ProgramID:     e.deriver.ProgramID(),
		Pool:          pool,
		Treasury:      treasury,
		MintAuthority: mintAuthority,
	}, nil
}

// Pool returns the state of a pool.
func (e *Engine) Pool(ctx context.Context, pool domain.Pubkey) (*domain.PoolState, error) {
	var p *domain.PoolState
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		p, err = loadPool(ctx, tx, pool)
		return err
	})
	return p, err
}

// Pools returns every pool ordered by address.
func (e *Engine) Pools(ctx context.Context) ([]*domain.PoolState, error) {
	var pools []*domain.PoolState
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		pools, err = tx.ListPools(ctx)
		return err
	})
	return pools, err
}

// Backing compares the treasury balance of a pool with its receipt-token supply.
func (e *Engine) Backing(ctx context.Context, pool domain.Pubkey) (domain.Backing, error) {
	var b domain.Backing
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}
		treasury, err := tx.NativeBalance(ctx, p.Treasury)
		if err != nil {
			return fmt.Errorf("read treasury balance: %w", err)
		}
		mint, err := tx.GetMint(ctx, p.Mint)
		if err != nil {
			return fmt.Errorf("read mint: %w", err)
		}
		b = domain.NewBacking(p.Address, treasury, mint.Supply)
		return nil
	})
	return b, err
}

// ReceiptBalance returns the receipt-token balance of owner in a pool.
// An owner without an account holds 0.
func (e *Engine) ReceiptBalance(ctx context.Context, pool, owner domain.Pubkey) (uint64, error) {
	var amount uint64
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}
		amount, err = tx.TokenBalance(ctx, p.Mint, owner)
		if errors.Is(err, storage.ErrNotFound) {
			amount = 0
			return nil
		}
		return err
	})
	return amount, err
}

// NativeBalance returns the native balance of an account.
func (e *Engine) NativeBalance(ctx context.Context, address domain.Pubkey) (uint64, error) {
	var amount uint64
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		amount, err = tx.NativeBalance(ctx, address)
		return err
	})
	return amount, err
}

// Metadata returns the token metadata of a pool's receipt-token, or nil when
// none has been registered.
func (e *Engine) Metadata(ctx context.Context, pool domain.Pubkey) (*domain.TokenMetadata, error) {
	var md *domain.TokenMetadata
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}
		md, err = tx.GetMetadata(ctx, p.Mint)
		if errors.Is(err, storage.ErrNotFound) {
			md = nil
			return nil
		}
		return err
	})
	return md, err
}

// Events returns the events of a pool with Seq > afterSeq.
func (e *Engine) Events(ctx context.Context, pool domain.Pubkey, afterSeq uint64, limit int) ([]*domain.Event, error) {
	var events []*domain.Event
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := loadPool(ctx, tx, pool); err != nil {
			return err
		}
		var err error
		events, err = tx.ListEvents(ctx, pool, afterSeq, limit)
		return err
	})
	return events, err
}
