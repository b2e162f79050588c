// Package authority derives the keyless custody identities of a staking pool.
//
// A derived address is sha256(seeds || programID || "ProgramDerivedAddress")
// that does not decode as an ed25519 point, so no private key can exist for it.
// Only code that can reproduce the seeds and bump may act as that address.
package authority

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"staking-ledger/internal/domain"
)

// Seed labels.
const (
	LabelTreasury      = "treasury"
	LabelMintAuthority = "mint_authority"
	LabelMetadata      = "metadata"
)

const (
	MaxSeeds      = 16
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	// ErrOnCurve is returned when the candidate address is a valid ed25519 point.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")

	// ErrMaxSeedLength is returned when a seed exceeds MaxSeedLength.
	ErrMaxSeedLength = errors.New("seed exceeds maximum length")

	// ErrMaxSeeds is returned when more than MaxSeeds seeds are supplied.
	ErrMaxSeeds = errors.New("too many seeds")

	// ErrNoViableBump is returned when no bump in [1, 255] yields an off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable bump")

	// ErrInvalidBump is returned by Prove when the bump is not the canonical one.
	ErrInvalidBump = errors.New("bump does not reproduce the canonical derivation")
)

// CreateProgramAddress hashes seeds under programID and rejects on-curve results.
func CreateProgramAddress(seeds [][]byte, programID domain.Pubkey) (domain.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return domain.Pubkey{}, ErrMaxSeeds
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return domain.Pubkey{}, ErrMaxSeedLength
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr domain.Pubkey
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr) {
		return domain.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first
// off-curve address together with its bump (the canonical bump).
func FindProgramAddress(seeds [][]byte, programID domain.Pubkey) (domain.Pubkey, uint8, error) {
	// One slot is reserved for the bump.
	if len(seeds) > MaxSeeds-1 {
		return domain.Pubkey{}, 0, ErrMaxSeeds
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump > 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return domain.Pubkey{}, 0, err
		}
	}
	return domain.Pubkey{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether the 32 bytes decode as an ed25519 point.
func IsOnCurve(key domain.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(key[:])
	return err == nil
}

// Derivation is a derived address plus the bump that produced it.
type Derivation struct {
	Address domain.Pubkey `json:"address"`
	Bump    uint8         `json:"bump"`
}

// Seeds returns the derivation seeds for a label and base identity.
func Seeds(label string, base domain.Pubkey) [][]byte {
	return [][]byte{[]byte(label), base[:]}
}

// derive runs FindProgramAddress for (label, base).
func derive(programID domain.Pubkey, label string, base domain.Pubkey) (Derivation, error) {
	addr, bump, err := FindProgramAddress(Seeds(label, base), programID)
	if err != nil {
		return Derivation{}, fmt.Errorf("derive %s for %s: %w", label, base, err)
	}
	return Derivation{Address: addr, Bump: bump}, nil
}
