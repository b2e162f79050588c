package authority

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"testing"

	"staking-ledger/internal/domain"
)

func testPool(b byte) domain.Pubkey {
	var pk domain.Pubkey
	for i := range pk {
		pk[i] = b + byte(i)
	}
	return pk
}

func TestFindProgramAddress_Deterministic(t *testing.T) {
	pool := testPool(7)
	seeds := Seeds(LabelTreasury, pool)

	a1, b1, err := FindProgramAddress(seeds, DefaultProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}
	a2, b2, err := FindProgramAddress(seeds, DefaultProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}

	if a1 != a2 || b1 != b2 {
		t.Errorf("derivation not deterministic: (%s,%d) vs (%s,%d)", a1, b1, a2, b2)
	}
}

func TestFindProgramAddress_OffCurve(t *testing.T) {
	for i := byte(0); i < 32; i++ {
		addr, _, err := FindProgramAddress(Seeds(LabelMintAuthority, testPool(i)), DefaultProgramID)
		if err != nil {
			t.Fatalf("FindProgramAddress failed: %v", err)
		}
		if IsOnCurve(addr) {
			t.Errorf("derived address %s is on curve", addr)
		}
	}
}

func TestFindProgramAddress_MatchesCreateWithBump(t *testing.T) {
	pool := testPool(42)
	addr, bump, err := FindProgramAddress(Seeds(LabelTreasury, pool), DefaultProgramID)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}

	created, err := CreateProgramAddress(append(Seeds(LabelTreasury, pool), []byte{bump}), DefaultProgramID)
	if err != nil {
		t.Fatalf("CreateProgramAddress failed: %v", err)
	}
	if created != addr {
		t.Errorf("address mismatch: got %s, want %s", created, addr)
	}
}

func TestFindProgramAddress_LabelsAndProgramsDiffer(t *testing.T) {
	pool := testPool(1)

	treasury, _, err := FindProgramAddress(Seeds(LabelTreasury, pool), DefaultProgramID)
	if err != nil {
		t.Fatalf("treasury: %v", err)
	}
	mintAuth, _, err := FindProgramAddress(Seeds(LabelMintAuthority, pool), DefaultProgramID)
	if err != nil {
		t.Fatalf("mint authority: %v", err)
	}
	if treasury == mintAuth {
		t.Error("treasury and mint authority must be distinct")
	}

	other := testPool(99)
	otherTreasury, _, err := FindProgramAddress(Seeds(LabelTreasury, pool), other)
	if err != nil {
		t.Fatalf("other program: %v", err)
	}
	if otherTreasury == treasury {
		t.Error("derivations under different programs must differ")
	}
}

func TestCreateProgramAddress_SeedLimits(t *testing.T) {
	long := bytes.Repeat([]byte{1}, MaxSeedLength+1)
	if _, err := CreateProgramAddress([][]byte{long}, DefaultProgramID); !errors.Is(err, ErrMaxSeedLength) {
		t.Errorf("expected ErrMaxSeedLength, got %v", err)
	}

	many := make([][]byte, MaxSeeds+1)
	for i := range many {
		many[i] = []byte{byte(i)}
	}
	if _, err := CreateProgramAddress(many, DefaultProgramID); !errors.Is(err, ErrMaxSeeds) {
		t.Errorf("expected ErrMaxSeeds, got %v", err)
	}
	if _, _, err := FindProgramAddress(many[:MaxSeeds], DefaultProgramID); !errors.Is(err, ErrMaxSeeds) {
		t.Errorf("expected ErrMaxSeeds from Find with no room for bump, got %v", err)
	}
}

func TestIsOnCurve_RealKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pk, err := domain.PubkeyFromEd25519(pub)
	if err != nil {
		t.Fatalf("PubkeyFromEd25519: %v", err)
	}
	if !IsOnCurve(pk) {
		t.Error("a real ed25519 public key must be on curve")
	}
}

func TestDeriver_Prove(t *testing.T) {
	d := NewDeriver(DefaultProgramID)
	pool := testPool(3)

	der, err := d.Treasury(pool)
	if err != nil {
		t.Fatalf("Treasury failed: %v", err)
	}

	proof, err := d.Prove(LabelTreasury, pool, der.Bump)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}
	if proof.Address() != der.Address {
		t.Errorf("proof address mismatch: got %s, want %s", proof.Address(), der.Address)
	}
	if proof.Bump() != der.Bump {
		t.Errorf("unexpected proof %+v", proof)
	}
}

func TestDeriver_ProveRejectsNonCanonicalBump(t *testing.T) {
	d := NewDeriver(DefaultProgramID)
	pool := testPool(5)

	der, err := d.MintAuthority(pool)
	if err != nil {
		t.Fatalf("MintAuthority failed: %v", err)
	}

	_, err = d.Prove(LabelMintAuthority, pool, der.Bump-1)
	if err == nil {
		t.Fatal("expected error for non-canonical bump")
	}
	if !errors.Is(err, ErrInvalidBump) && !errors.Is(err, ErrOnCurve) {
		t.Errorf("expected ErrInvalidBump or ErrOnCurve, got %v", err)
	}
}

func TestDeriver_CachedMatchesUncached(t *testing.T) {
	d := NewDeriver(DefaultProgramID)
	pool := testPool(11)

	first, err := d.MintAuthority(pool)
	if err != nil {
		t.Fatalf("MintAuthority failed: %v", err)
	}
	second, err := d.MintAuthority(pool)
	if err != nil {
		t.Fatalf("MintAuthority (cached) failed: %v", err)
	}
	direct, err := derive(DefaultProgramID, LabelMintAuthority, pool)
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}

	if first != second || first != direct {
		t.Errorf("cache returned different derivation: %+v %+v %+v", first, second, direct)
	}
}

func TestProof_ZeroValue(t *testing.T) {
	var p Proof
	if !p.Address().IsZero() {
		t.Errorf("zero Proof signs for %s", p.Address())
	}
}
