package authority

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"staking-ledger/internal/domain"
)

// DefaultProgramID is the program identity derivations are scoped to when none is configured.
var DefaultProgramID = domain.MustParsePubkey("2bkxhcxzEQcMzyL3V5BJV9iGVKMG9ozQCSqWsdAC3h6o")

const defaultCacheSize = 4096

// Deriver computes and proves the derived authorities of pools under one program.
// It is safe for concurrent use.
type Deriver struct {
	programID domain.Pubkey
	cache     *lru.Cache // cacheKey -> Derivation
}

type cacheKey struct {
	label string
	base  domain.Pubkey
}

// NewDeriver creates a Deriver scoped to programID.
func NewDeriver(programID domain.Pubkey) *Deriver {
	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		// Only fails for a non-positive size.
		panic(err)
	}
	return &Deriver{programID: programID, cache: cache}
}

// ProgramID returns the program identity derivations are scoped to.
func (d *Deriver) ProgramID() domain.Pubkey {
	return d.programID
}

// Derive returns the canonical derivation of (label, base).
func (d *Deriver) Derive(label string, base domain.Pubkey) (Derivation, error) {
	key := cacheKey{label: label, base: base}
	if v, ok := d.cache.Get(key); ok {
		return v.(Derivation), nil
	}

	der, err := derive(d.programID, label, base)
	if err != nil {
		return Derivation{}, err
	}
	d.cache.Add(key, der)
	return der, nil
}

// Treasury returns the treasury authority of a pool.
func (d *Deriver) Treasury(pool domain.Pubkey) (Derivation, error) {
	return d.Derive(LabelTreasury, pool)
}

// MintAuthority returns the receipt-token mint authority of a pool.
func (d *Deriver) MintAuthority(pool domain.Pubkey) (Derivation, error) {
	return d.Derive(LabelMintAuthority, pool)
}

// Metadata returns the metadata address of a mint.
func (d *Deriver) Metadata(mint domain.Pubkey) (Derivation, error) {
	return d.Derive(LabelMetadata, mint)
}

// Prove re-derives (label, base, bump) and returns a Proof of control over the
// resulting address. The bump must be the canonical one.
func (d *Deriver) Prove(label string, base domain.Pubkey, bump uint8) (Proof, error) {
	addr, err := CreateProgramAddress(append(Seeds(label, base), []byte{bump}), d.programID)
	if err != nil {
		return Proof{}, fmt.Errorf("prove %s for %s: %w", label, base, err)
	}

	canonical, err := d.Derive(label, base)
	if err != nil {
		return Proof{}, err
	}
	if canonical.Bump != bump || canonical.Address != addr {
		return Proof{}, fmt.Errorf("prove %s for %s: %w", label, base, ErrInvalidBump)
	}

	return Proof{bump: bump, address: addr}, nil
}

// Proof is evidence that the caller reproduced a derivation. Its zero value
// proves nothing; only Deriver.Prove constructs a valid one.
type Proof struct {
	bump    uint8
	address domain.Pubkey
}

// Address returns the derived address the proof signs for.
func (p Proof) Address() domain.Pubkey {
	return p.address
}

// Bump returns the bump used.
func (p Proof) Bump() uint8 {
	return p.bump
}
