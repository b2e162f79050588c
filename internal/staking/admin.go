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

// Withdraw pays amount from the treasury to the admin. It is limited per call
// by the pool's withdrawal limit and spaced by its time lock. It does not burn
// receipt-tokens, so it can leave the treasury below the outstanding supply
// unless the engine enforces backing.
func (e *Engine) Withdraw(ctx context.Context, caller, pool domain.Pubkey, amount uint64) (*domain.Event, error) {
	ev, err := firstEvent(e.execute(ctx, "withdraw", pool, func(ctx context.Context, tx storage.Tx, c *call) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}

		if caller != p.Admin {
			return ErrUnauthorized
		}
		if amount == 0 {
			return ErrInvalidAmount
		}
		if p.HasWithdrawn() && c.now-p.LastWithdrawal < p.TimeLock {
			return ErrWithdrawalTooSoon
		}
		if amount > p.WithdrawalLimit {
			return ErrWithdrawalLimitExceeded
		}

		treasuryBalance, err := tx.NativeBalance(ctx, p.Treasury)
		if err != nil {
			return fmt.Errorf("read treasury balance: %w", err)
		}
		if treasuryBalance < amount {
			return ErrInsufficientTreasuryBalance
		}

		if e.enforceBacking {
			mint, err := tx.GetMint(ctx, p.Mint)
			if err != nil {
				return fmt.Errorf("read mint: %w", err)
			}
			if treasuryBalance-amount < mint.Supply {
				return ErrWithdrawalUndercollateralized
			}
		}

		treasury, err := e.deriver.Prove(authority.LabelTreasury, p.Address, p.TreasuryBump)
		if err != nil {
			return fmt.Errorf("prove treasury authority: %w", err)
		}
		if err := tx.Transfer(ctx, p.Treasury, p.Admin, amount, treasury); err != nil {
			return fmt.Errorf("transfer to admin: %w", err)
		}

		p.LastWithdrawal = c.now
		if err := tx.UpdatePool(ctx, p); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}

		c.emit(p.Address, domain.WithdrawEvent{Admin: p.Admin, Amount: amount})
		return nil
	}))
	if err == nil {
		observability.RecordFlow("withdraw", amount)
		e.logger.Printf("admin %s withdrew %d from pool %s", caller, amount, pool)
	}
	return ev, err
}

// ChangeAdmin reassigns the admin. Only the current admin may call it.
func (e *Engine) ChangeAdmin(ctx context.Context, caller, pool, newAdmin domain.Pubkey) (*domain.Event, error) {
	return firstEvent(e.execute(ctx, "change_admin", pool, func(ctx context.Context, tx storage.Tx, c *call) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}
		if caller != p.Admin {
			return ErrUnauthorized
		}
		if newAdmin.IsZero() {
			return ErrInvalidAdminAddress
		}

		old := p.Admin
		p.Admin = newAdmin
		if err := tx.UpdatePool(ctx, p); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}

		c.emit(p.Address, domain.ChangeAdminEvent{OldAdmin: old, NewAdmin: newAdmin})
		return nil
	}))
}

// SetUpgradeAuthority reassigns the upgrade authority. Only the current upgrade
// authority may call it.
func (e *Engine) SetUpgradeAuthority(ctx context.Context, caller, pool, newAuthority domain.Pubkey) (*domain.Event, error) {
	return firstEvent(e.execute(ctx, "set_upgrade_authority", pool, func(ctx context.Context, tx storage.Tx, c *call) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}
		if caller != p.UpgradeAuthority {
			return ErrUnauthorized
		}
		if newAuthority.IsZero() {
			return ErrInvalidUpgradeAuthority
		}

		old := p.UpgradeAuthority
		p.UpgradeAuthority = newAuthority
		if err := tx.UpdatePool(ctx, p); err != nil {
			return fmt.Errorf("update pool: %w", err)
		}

		c.emit(p.Address, domain.SetUpgradeAuthorityEvent{OldAuthority: old, NewAuthority: newAuthority})
		return nil
	}))
}

// MetadataParams are the inputs of RegisterMetadata.
type MetadataParams struct {
	Name   string
	Symbol string
	URI    string
}

func (m MetadataParams) validate() error {
	switch {
	case m.Name == "" || len(m.Name) > domain.MaxMetadataNameLength:
		return fmt.Errorf("%w: name must be 1-%d bytes", ErrInvalidMetadata, domain.MaxMetadataNameLength)
	case m.Symbol == "" || len(m.Symbol) > domain.MaxMetadataSymbolLength:
		return fmt.Errorf("%w: symbol must be 1-%d bytes", ErrInvalidMetadata, domain.MaxMetadataSymbolLength)
	case len(m.URI) > domain.MaxMetadataURILength:
		return fmt.Errorf("%w: uri must be at most %d bytes", ErrInvalidMetadata, domain.MaxMetadataURILength)
	}
	return nil
}

// RegisterMetadata attaches a name, symbol and URI to the pool's receipt-token.
// Only the admin may call it, once per mint; the mint authority signs.
func (e *Engine) RegisterMetadata(ctx context.Context, caller, pool domain.Pubkey, m MetadataParams) (*domain.TokenMetadata, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	var md *domain.TokenMetadata
	_, err := e.execute(ctx, "register_metadata", pool, func(ctx context.Context, tx storage.Tx, c *call) error {
		p, err := loadPool(ctx, tx, pool)
		if err != nil {
			return err
		}
		if caller != p.Admin {
			return ErrUnauthorized
		}

		addr, err := e.deriver.Metadata(p.Mint)
		if err != nil {
			return fmt.Errorf("derive metadata address: %w", err)
		}
		mintAuthority, err := e.deriver.Prove(authority.LabelMintAuthority, p.Address, p.MintAuthorityBump)
		if err != nil {
			return fmt.Errorf("prove mint authority: %w", err)
		}

		md = &domain.TokenMetadata{
			Mint:            p.Mint,
			Address:         addr.Address,
			Name:            m.Name,
			Symbol:          m.Symbol,
			URI:             m.URI,
			UpdateAuthority: p.Admin,
			CreatedAt:       c.now,
		}
		err = tx.InsertMetadata(ctx, md, mintAuthority)
		if errors.Is(err, storage.ErrDuplicateKey) {
			return ErrMetadataExists
		}
		if err != nil {
			return fmt.Errorf("insert metadata: %w", err)
		}

		c.emit(p.Address, domain.CreateMetadataEvent{Mint: p.Mint, Metadata: addr.Address})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return md, nil
}
