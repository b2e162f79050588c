package signing

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"staking-ledger/internal/domain"
)

// Keypair is an ed25519 signing key and the identity it controls.
type Keypair struct {
	key    ed25519.PrivateKey
	pubkey domain.Pubkey
}

// NewKeypair wraps an ed25519 private key.
func NewKeypair(key ed25519.PrivateKey) (*Keypair, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key: got %d bytes, want %d", len(key), ed25519.PrivateKeySize)
	}
	if !bytes.Equal(ed25519.NewKeyFromSeed(key.Seed()), key) {
		return nil, errors.New("private key: public half does not match the seed")
	}
	pk, err := domain.PubkeyFromEd25519(key.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Keypair{key: key, pubkey: pk}, nil
}

// GenerateKeypair creates a random keypair.
func GenerateKeypair() (*Keypair, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewKeypair(key)
}

// Pubkey returns the identity of the keypair.
func (k *Keypair) Pubkey() domain.Pubkey {
	return k.pubkey
}

// PrivateKey returns the signing key.
func (k *Keypair) PrivateKey() ed25519.PrivateKey {
	return k.key
}

// LoadKeypair reads a keypair file: a JSON array of the 64 private key bytes,
// the format written by the Solana CLI.
func LoadKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair: %w", err)
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return nil, fmt.Errorf("parse keypair %s: %w", path, err)
	}
	raw := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("parse keypair %s: byte %d out of range", path, i)
		}
		raw[i] = byte(v)
	}
	return NewKeypair(ed25519.PrivateKey(raw))
}

// SaveKeypair writes k in the format read by LoadKeypair.
func SaveKeypair(path string, k *Keypair) error {
	ints := make([]int, len(k.key))
	for i, b := range k.key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create keypair dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keypair: %w", err)
	}
	return nil
}
