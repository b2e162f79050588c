package staking

import (
	"context"
	"errors"
	"fmt"

	"staking-ledger/internal/authority"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// InitializeParams are the inputs of Initialize.
type InitializeParams struct {
	Pool              domain.Pubkey // fresh pool identity
	Mint              domain.Pubkey // fresh receipt-token mint identity
	Treasury          domain.Pubkey // must equal the derived treasury of Pool
	MintAuthorityBump uint8         // must be the canonical mint-authority bump of Pool
	WithdrawalLimit   uint64
	TimeLock          int64 // seconds
}

// Initialize creates a pool and its receipt-token mint. The caller becomes
// both admin and upgrade authority. A pool can be initialized exactly once.
func (e *Engine) Initialize(ctx context.Context, caller domain.Pubkey, p InitializeParams) (*domain.PoolState, error) {
	if caller.IsZero() || p.Pool.IsZero() || p.Mint.IsZero() {
		return nil, ErrInvalidAccount
	}
	if p.TimeLock < 0 {
		return nil, ErrInvalidTimeLock
	}
	// No account can hold more than MaxBalance, so a larger limit is meaningless.
	if p.WithdrawalLimit > domain.MaxBalance {
		return nil, ErrInvalidWithdrawalLimit
	}

	treasury, err := e.deriver.Treasury(p.Pool)
	if err != nil {
		return nil, fmt.Errorf("derive treasury: %w", err)
	}
	if p.Treasury != treasury.Address {
		return nil, ErrInvalidTreasury
	}

	mintAuthority, err := e.deriver.Prove(authority.LabelMintAuthority, p.Pool, p.MintAuthorityBump)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMintAuthority, err)
	}

	var state *domain.PoolState
	_, err = e.execute(ctx, "initialize", p.Pool, func(ctx context.Context, tx storage.Tx, c *call) error {
		if _, err := tx.GetPool(ctx, p.Pool); err == nil {
			return ErrAlreadyInitialized
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("check pool: %w", err)
		}

		err := tx.CreateMint(ctx, &domain.Mint{
			Address:   p.Mint,
			Authority: mintAuthority.Address(),
			Decimals:  domain.ReceiptDecimals,
		})
		if errors.Is(err, storage.ErrDuplicateKey) {
			return ErrMintExists
		}
		if err != nil {
			return fmt.Errorf("create mint: %w", err)
		}

		state = &domain.PoolState{
			Address:           p.Pool,
			Admin:             caller,
			UpgradeAuthority:  caller,
			Treasury:          treasury.Address,
			TreasuryBump:      treasury.Bump,
			Mint:              p.Mint,
			MintAuthorityBump: mintAuthority.Bump(),
			WithdrawalLimit:   p.WithdrawalLimit,
			TimeLock:          p.TimeLock,
			LastWithdrawal:    0,
			CreatedAt:         c.now,
		}
		err = tx.InsertPool(ctx, state)
		if errors.Is(err, storage.ErrDuplicateKey) {
			return ErrAlreadyInitialized
		}
		if err != nil {
			return fmt.Errorf("insert pool: %w", err)
		}

		c.emit(p.Pool, domain.InitializeEvent{
			Admin:    caller,
			Treasury: treasury.Address,
			Mint:     p.Mint,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Printf("pool %s initialized by %s (limit=%d, time_lock=%ds)", p.Pool, caller, p.WithdrawalLimit, p.TimeLock)
	return state, nil
}
