package staking

import (
	"context"
	"errors"
	"fmt"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// OpenReceiptAccount opens the caller's receipt-token account of a pool.
// Opening an account that already exists is a no-op.
func (e *Engine) OpenReceiptAccount(ctx context.Context, caller, pool domain.Pubkey) (*domain.TokenAccount, error) {
	if caller.IsZero() {
		return nil, ErrInvalidAccount
	}

	var acct *domain.TokenAccount
	_, err := e.execute(ctx, "open_receipt_account", pool, func(ctx context.Context, tx storage.Tx, c *call) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}

		err = tx.OpenTokenAccount(ctx, p.Mint, caller)
		if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("open token account: %w", err)
		}

		amount, err := tx.TokenBalance(ctx, p.Mint, caller)
		if err != nil {
			return fmt.Errorf("read receipt balance: %w", err)
		}
		acct = &domain.TokenAccount{Mint: p.Mint, Owner: caller, Amount: amount}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acct, nil
}

// Airdrop credits native value to an account. Only development deployments
// expose it.
func (e *Engine) Airdrop(ctx context.Context, to domain.Pubkey, amount uint64) (uint64, error) {
	if to.IsZero() {
		return 0, ErrInvalidAccount
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}

	var balance uint64
	_, err := e.execute(ctx, "airdrop", domain.Pubkey{}, func(ctx context.Context, tx storage.Tx, c *call) error {
		if err := tx.Credit(ctx, to, amount); err != nil {
			return fmt.Errorf("credit %s: %w", to, err)
		}
		var err error
		balance, err = tx.NativeBalance(ctx, to)
		return err
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}
