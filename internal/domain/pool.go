package domain

// PoolState is the persistent record of one staking pool, keyed by Address.
// Treasury balance and receipt-token supply live in the native ledger and the
// token ledger; the pool only references them.
type PoolState struct {
	Address           Pubkey `json:"address"`           // pool identity (record key)
	Admin             Pubkey `json:"admin"`             // may withdraw and reassign admin
	UpgradeAuthority  Pubkey `json:"upgrade_authority"` // may reassign itself
	Treasury          Pubkey `json:"treasury"`          // derived from (LabelTreasury, Address)
	TreasuryBump      uint8  `json:"treasury_bump"`
	Mint              Pubkey `json:"mint"`                // receipt-token mint
	MintAuthorityBump uint8  `json:"mint_authority_bump"` // bump of (LabelMintAuthority, Address)
	WithdrawalLimit   uint64 `json:"withdrawal_limit"`    // max lamports per admin withdrawal
	TimeLock          int64  `json:"time_lock"`           // seconds between admin withdrawals
	LastWithdrawal    int64  `json:"last_withdrawal"`     // unix seconds, 0 = never
	CreatedAt         int64  `json:"created_at"`          // unix seconds
}

// HasWithdrawn reports whether the admin has ever withdrawn.
func (p *PoolState) HasWithdrawn() bool {
	return p.LastWithdrawal != 0
}

// Backing compares the treasury against outstanding receipt-token claims.
type Backing struct {
	Pool      Pubkey `json:"pool"`
	Treasury  uint64 `json:"treasury"`
	Supply    uint64 `json:"supply"`
	Shortfall uint64 `json:"shortfall"` // Supply - Treasury when under-collateralized
}

// NewBacking builds a Backing report from the two balances.
func NewBacking(pool Pubkey, treasury, supply uint64) Backing {
	b := Backing{Pool: pool, Treasury: treasury, Supply: supply}
	if supply > treasury {
		b.Shortfall = supply - treasury
	}
	return b
}

// FullyBacked reports whether every receipt-token is redeemable.
func (b Backing) FullyBacked() bool {
	return b.Shortfall == 0
}
