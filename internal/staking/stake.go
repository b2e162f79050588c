package staking

import (
	"context"
	"errors"
	"fmt"

	"staking-ledger/internal/authority"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/storage"
)

// Stake moves amount of native value from caller to the treasury and mints the
// same amount of receipt-token to the caller. Both legs commit or neither does.
func (e *Engine) Stake(ctx context.Context, caller, pool domain.Pubkey, amount uint64) (*domain.Event, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	signer, err := signerFor(caller)
	if err != nil {
		return nil, err
	}

	ev, err := firstEvent(e.execute(ctx, "stake", pool, func(ctx context.Context, tx storage.Tx, c *call) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}

		err = tx.Transfer(ctx, caller, p.Treasury, amount, signer)
		if errors.Is(err, storage.ErrInsufficientFunds) {
			return ErrInsufficientFunds
		}
		if err != nil {
			return fmt.Errorf("transfer to treasury: %w", err)
		}

		mintAuthority, err := e.deriver.Prove(authority.LabelMintAuthority, p.Address, p.MintAuthorityBump)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMintFailed, err)
		}
		if err := tx.MintTo(ctx, p.Mint, caller, amount, mintAuthority); err != nil {
			return fmt.Errorf("%w: %v", ErrMintFailed, err)
		}

		c.emit(p.Address, domain.StakeEvent{User: caller, Amount: amount})
		return nil
	}))
	if err == nil {
		observability.RecordFlow("stake", amount)
	}
	return ev, err
}

// Unstake burns amount of the caller's receipt-token and pays the same amount
// of native value out of the treasury. Both balances are checked before either
// leg mutates anything.
func (e *Engine) Unstake(ctx context.Context, caller, pool domain.Pubkey, amount uint64) (*domain.Event, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	signer, err := signerFor(caller)
	if err != nil {
		return nil, err
	}

	ev, err := firstEvent(e.execute(ctx, "unstake", pool, func(ctx context.Context, tx storage.Tx, c *call) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}

		held, err := tx.TokenBalance(ctx, p.Mint, caller)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("read receipt balance: %w", err)
		}
		if held < amount {
			return ErrInsufficientMsolBalance
		}

		treasuryBalance, err := tx.NativeBalance(ctx, p.Treasury)
		if err != nil {
			return fmt.Errorf("read treasury balance: %w", err)
		}
		if treasuryBalance < amount {
			return ErrInsufficientTreasuryBalance
		}

		treasury, err := e.deriver.Prove(authority.LabelTreasury, p.Address, p.TreasuryBump)
		if err != nil {
			return fmt.Errorf("prove treasury authority: %w", err)
		}

		// The caller, not the pool, authorizes the burn.
		if err := tx.Burn(ctx, p.Mint, caller, amount, signer); err != nil {
			return fmt.Errorf("burn receipt-token: %w", err)
		}
		if err := tx.Transfer(ctx, p.Treasury, caller, amount, treasury); err != nil {
			return fmt.Errorf("transfer from treasury: %w", err)
		}

		c.emit(p.Address, domain.UnstakeEvent{User: caller, Amount: amount})
		return nil
	}))
	if err == nil {
		observability.RecordFlow("unstake", amount)
	}
	return ev, err
}
