package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// ledgerTx implements storage.Tx on one pgx transaction.
type ledgerTx struct {
	tx pgx.Tx
}

// Compile-time interface check.
var _ storage.Tx = (*ledgerTx)(nil)

// Pools

// InsertPool adds a pool. Returns ErrDuplicateKey if the address exists.
func (t *ledgerTx) InsertPool(ctx context.Context, p *domain.PoolState) error {
	if p == nil || p.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	limit, err := toBigint(p.WithdrawalLimit)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO pools (
			address, admin, upgrade_authority, treasury, treasury_bump,
			mint, mint_authority_bump, withdrawal_limit, time_lock, last_withdrawal, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = t.tx.Exec(ctx, query,
		p.Address.String(),
		p.Admin.String(),
		p.UpgradeAuthority.String(),
		p.Treasury.String(),
		int16(p.TreasuryBump),
		p.Mint.String(),
		int16(p.MintAuthorityBump),
		limit,
		p.TimeLock,
		p.LastWithdrawal,
		p.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("insert pool", err)
	}
	return nil
}

// GetPool retrieves a pool and locks its row until the transaction ends.
func (t *ledgerTx) GetPool(ctx context.Context, address domain.Pubkey) (*domain.PoolState, error) {
	query := `
		SELECT address, admin, upgrade_authority, treasury, treasury_bump,
			mint, mint_authority_bump, withdrawal_limit, time_lock, last_withdrawal, created_at
		FROM pools
		WHERE address = $1
		FOR UPDATE
	`

	p, err := scanPool(t.tx.QueryRow(ctx, query, address.String()))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return p, nil
}

// UpdatePool overwrites the mutable fields of an existing pool.
func (t *ledgerTx) UpdatePool(ctx context.Context, p *domain.PoolState) error {
	query := `
		UPDATE pools
		SET admin = $2, upgrade_authority = $3, last_withdrawal = $4
		WHERE address = $1
	`

	tag, err := t.tx.Exec(ctx, query,
		p.Address.String(),
		p.Admin.String(),
		p.UpgradeAuthority.String(),
		p.LastWithdrawal,
	)
	if err != nil {
		return fmt.Errorf("update pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPools retrieves all pools ordered by address.
func (t *ledgerTx) ListPools(ctx context.Context) ([]*domain.PoolState, error) {
	query := `
		SELECT address, admin, upgrade_authority, treasury, treasury_bump,
			mint, mint_authority_bump, withdrawal_limit, time_lock, last_withdrawal, created_at
		FROM pools
		ORDER BY address ASC
	`

	rows, err := t.tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	defer rows.Close()

	var result []*domain.PoolState
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pools: %w", err)
	}
	return result, nil
}

func scanPool(row pgx.Row) (*domain.PoolState, error) {
	var (
		p                                          domain.PoolState
		address, admin, upgradeAuthority, treasury string
		mint                                       string
		treasuryBump, mintAuthorityBump            int16
		withdrawalLimit                            int64
	)

	err := row.Scan(
		&address, &admin, &upgradeAuthority, &treasury, &treasuryBump,
		&mint, &mintAuthorityBump, &withdrawalLimit, &p.TimeLock, &p.LastWithdrawal, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = decodeKeys(map[*domain.Pubkey]string{
		&p.Address:          address,
		&p.Admin:            admin,
		&p.UpgradeAuthority: upgradeAuthority,
		&p.Treasury:         treasury,
		&p.Mint:             mint,
	})
	if err != nil {
		return nil, err
	}
	p.TreasuryBump = uint8(treasuryBump)
	p.MintAuthorityBump = uint8(mintAuthorityBump)
	p.WithdrawalLimit = uint64(withdrawalLimit)
	return &p, nil
}

// Native ledger

// NativeBalance returns the balance of an account. Unknown accounts hold 0.
func (t *ledgerTx) NativeBalance(ctx context.Context, address domain.Pubkey) (uint64, error) {
	var lamports int64
	err := t.tx.QueryRow(ctx, `SELECT lamports FROM native_accounts WHERE address = $1`, address.String()).Scan(&lamports)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get native balance: %w", err)
	}
	return uint64(lamports), nil
}

// Credit adds value to an account.
func (t *ledgerTx) Credit(ctx context.Context, address domain.Pubkey, amount uint64) error {
	n, err := toBigint(amount)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO native_accounts (address, lamports) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET lamports = native_accounts.lamports + EXCLUDED.lamports
	`
	if _, err := t.tx.Exec(ctx, query, address.String(), n); err != nil {
		return wrapWriteError("credit", err)
	}
	return nil
}

// Transfer moves value between accounts. The signer must be the source account.
// The debit is conditional so a concurrent transfer can never overdraw.
func (t *ledgerTx) Transfer(ctx context.Context, from, to domain.Pubkey, amount uint64, signer storage.Signer) error {
	if !storage.Authorizes(signer, from) {
		return storage.ErrSignerMismatch
	}
	n, err := debitAmount(amount)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE native_accounts SET lamports = lamports - $2 WHERE address = $1 AND lamports >= $2`,
		from.String(), n,
	)
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if n == 0 {
			return nil
		}
		return storage.ErrInsufficientFunds
	}

	return t.Credit(ctx, to, amount)
}

// Token ledger

// CreateMint adds a mint with zero supply. Returns ErrDuplicateKey if exists.
func (t *ledgerTx) CreateMint(ctx context.Context, m *domain.Mint) error {
	if m == nil || m.Address.IsZero() || m.Authority.IsZero() {
		return storage.ErrInvalidInput
	}

	query := `INSERT INTO token_mints (address, authority, decimals, supply) VALUES ($1, $2, $3, 0)`
	if _, err := t.tx.Exec(ctx, query, m.Address.String(), m.Authority.String(), int16(m.Decimals)); err != nil {
		return wrapWriteError("create mint", err)
	}
	return nil
}

// GetMint retrieves a mint. Returns ErrNotFound if not exists.
func (t *ledgerTx) GetMint(ctx context.Context, address domain.Pubkey) (*domain.Mint, error) {
	var (
		m               domain.Mint
		addr, authority string
		decimals        int16
		supply          int64
	)

	err := t.tx.QueryRow(ctx,
		`SELECT address, authority, decimals, supply FROM token_mints WHERE address = $1`,
		address.String(),
	).Scan(&addr, &authority, &decimals, &supply)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get mint: %w", err)
	}

	if err := decodeKeys(map[*domain.Pubkey]string{&m.Address: addr, &m.Authority: authority}); err != nil {
		return nil, fmt.Errorf("get mint: %w", err)
	}
	m.Decimals = uint8(decimals)
	m.Supply = uint64(supply)
	return &m, nil
}

// OpenTokenAccount creates an empty account for (mint, owner).
func (t *ledgerTx) OpenTokenAccount(ctx context.Context, mint, owner domain.Pubkey) error {
	query := `INSERT INTO token_accounts (mint, owner, amount) VALUES ($1, $2, 0)`
	if _, err := t.tx.Exec(ctx, query, mint.String(), owner.String()); err != nil {
		return wrapWriteError("open token account", err)
	}
	return nil
}

// TokenBalance returns the balance of (mint, owner). Returns ErrNotFound if no account.
func (t *ledgerTx) TokenBalance(ctx context.Context, mint, owner domain.Pubkey) (uint64, error) {
	var amount int64
	err := t.tx.QueryRow(ctx,
		`SELECT amount FROM token_accounts WHERE mint = $1 AND owner = $2`,
		mint.String(), owner.String(),
	).Scan(&amount)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get token balance: %w", err)
	}
	return uint64(amount), nil
}

// MintTo increases supply and the owner's balance. The signer must be the mint authority.
func (t *ledgerTx) MintTo(ctx context.Context, mint, owner domain.Pubkey, amount uint64, signer storage.Signer) error {
	m, err := t.lockMint(ctx, mint)
	if err != nil {
		return err
	}
	if !storage.Authorizes(signer, m.Authority) {
		return storage.ErrSignerMismatch
	}
	n, err := toBigint(amount)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE token_accounts SET amount = amount + $3 WHERE mint = $1 AND owner = $2`,
		mint.String(), owner.String(), n,
	)
	if err != nil {
		return wrapWriteError("mint to account", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}

	if _, err := t.tx.Exec(ctx, `UPDATE token_mints SET supply = supply + $2 WHERE address = $1`, mint.String(), n); err != nil {
		return wrapWriteError("increase supply", err)
	}
	return nil
}

// Burn decreases supply and the owner's balance. The signer must be the owner.
func (t *ledgerTx) Burn(ctx context.Context, mint, owner domain.Pubkey, amount uint64, signer storage.Signer) error {
	if _, err := t.lockMint(ctx, mint); err != nil {
		return err
	}
	if !storage.Authorizes(signer, owner) {
		return storage.ErrSignerMismatch
	}
	n, err := debitAmount(amount)
	if err != nil {
		return err
	}

	var balance int64
	err = t.tx.QueryRow(ctx,
		`SELECT amount FROM token_accounts WHERE mint = $1 AND owner = $2 FOR UPDATE`,
		mint.String(), owner.String(),
	).Scan(&balance)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock token account: %w", err)
	}
	if balance < n {
		return storage.ErrInsufficientFunds
	}

	if _, err := t.tx.Exec(ctx,
		`UPDATE token_accounts SET amount = amount - $3 WHERE mint = $1 AND owner = $2`,
		mint.String(), owner.String(), n,
	); err != nil {
		return fmt.Errorf("burn from account: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `UPDATE token_mints SET supply = supply - $2 WHERE address = $1`, mint.String(), n); err != nil {
		if isCheckViolation(err) {
			return storage.ErrInsufficientFunds
		}
		return fmt.Errorf("decrease supply: %w", err)
	}
	return nil
}

// lockMint reads a mint row FOR UPDATE so supply changes serialize.
func (t *ledgerTx) lockMint(ctx context.Context, address domain.Pubkey) (*domain.Mint, error) {
	var authority string
	err := t.tx.QueryRow(ctx,
		`SELECT authority FROM token_mints WHERE address = $1 FOR UPDATE`,
		address.String(),
	).Scan(&authority)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("lock mint: %w", err)
	}

	m := &domain.Mint{Address: address}
	if err := decodeKeys(map[*domain.Pubkey]string{&m.Authority: authority}); err != nil {
		return nil, fmt.Errorf("lock mint: %w", err)
	}
	return m, nil
}

// Metadata

// InsertMetadata adds metadata. The signer must be the mint authority.
func (t *ledgerTx) InsertMetadata(ctx context.Context, md *domain.TokenMetadata, signer storage.Signer) error {
	if md == nil {
		return storage.ErrInvalidInput
	}
	m, err := t.GetMint(ctx, md.Mint)
	if err != nil {
		return err
	}
	if !storage.Authorizes(signer, m.Authority) {
		return storage.ErrSignerMismatch
	}

	query := `
		INSERT INTO token_metadata (
			mint, address, name, symbol, uri, update_authority, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = t.tx.Exec(ctx, query,
		md.Mint.String(),
		md.Address.String(),
		md.Name,
		md.Symbol,
		md.URI,
		md.UpdateAuthority.String(),
		md.CreatedAt,
	)
	if err != nil {
		return wrapWriteError("insert token metadata", err)
	}
	return nil
}

// GetMetadata retrieves metadata by mint. Returns ErrNotFound if not exists.
func (t *ledgerTx) GetMetadata(ctx context.Context, mint domain.Pubkey) (*domain.TokenMetadata, error) {
	query := `
		SELECT mint, address, name, symbol, uri, update_authority, created_at
		FROM token_metadata
		WHERE mint = $1
	`

	var (
		md                              domain.TokenMetadata
		mintAddr, addr, updateAuthority string
	)
	err := t.tx.QueryRow(ctx, query, mint.String()).Scan(
		&mintAddr, &addr, &md.Name, &md.Symbol, &md.URI, &updateAuthority, &md.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token metadata: %w", err)
	}

	err = decodeKeys(map[*domain.Pubkey]string{
		&md.Mint:            mintAddr,
		&md.Address:         addr,
		&md.UpdateAuthority: updateAuthority,
	})
	if err != nil {
		return nil, fmt.Errorf("get token metadata: %w", err)
	}
	return &md, nil
}
