package storage

import (
	"staking-ledger/internal/authority"
	"staking-ledger/internal/domain"
)

// Authorizes reports whether signer may act for address. An off-curve address
// has no private key, so only an authority.Proof can sign for it.
func Authorizes(signer Signer, address domain.Pubkey) bool {
	if signer == nil || signer.Address() != address {
		return false
	}
	if authority.IsOnCurve(address) {
		return true
	}
	_, ok := signer.(authority.Proof)
	return ok
}
