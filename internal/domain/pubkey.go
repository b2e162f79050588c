package domain

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLength is the size of an account identity in bytes.
const PubkeyLength = 32

// Pubkey is a 32-byte account identity, rendered in base58.
// The zero value is the null identity.
type Pubkey [PubkeyLength]byte

// ParsePubkey decodes a base58 account identity.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	decoded, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	if len(decoded) != PubkeyLength {
		return pk, fmt.Errorf("pubkey %q: got %d bytes, want %d", s, len(decoded), PubkeyLength)
	}
	copy(pk[:], decoded)
	return pk, nil
}

// MustParsePubkey is ParsePubkey for constants. Panics on malformed input.
func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromEd25519 converts an ed25519 public key into an identity.
func PubkeyFromEd25519(key ed25519.PublicKey) (Pubkey, error) {
	var pk Pubkey
	if len(key) != ed25519.PublicKeySize {
		return pk, fmt.Errorf("ed25519 key: got %d bytes, want %d", len(key), ed25519.PublicKeySize)
	}
	copy(pk[:], key)
	return pk, nil
}

// String returns the base58 form.
func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// IsZero reports whether p is the null identity.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// Bytes returns a copy of the raw key bytes.
func (p Pubkey) Bytes() []byte {
	b := make([]byte, PubkeyLength)
	copy(b, p[:])
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	pk, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}
