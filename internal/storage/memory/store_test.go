package memory

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"math"
	"testing"

	"staking-ledger/internal/authority"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

type keySigner domain.Pubkey

func (k keySigner) Address() domain.Pubkey { return domain.Pubkey(k) }

// key returns the public key of a deterministic ed25519 keypair.
func key(b byte) domain.Pubkey {
	priv := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
	pk, err := domain.PubkeyFromEd25519(priv.Public().(ed25519.PublicKey))
	if err != nil {
		panic(err)
	}
	return pk
}

func TestStore_AtomicCommitsOnSuccess(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice := key(1)

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Credit(ctx, alice, 100)
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}

	var bal uint64
	_ = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		bal, err = tx.NativeBalance(ctx, alice)
		return err
	})
	if bal != 100 {
		t.Errorf("balance mismatch: got %d, want 100", bal)
	}
}

func TestStore_AtomicDiscardsOnError(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice, bob := key(1), key(2)
	boom := errors.New("boom")

	if err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.Credit(ctx, alice, 100)
	}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Transfer(ctx, alice, bob, 60, keySigner(alice)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		a, _ := tx.NativeBalance(ctx, alice)
		b, _ := tx.NativeBalance(ctx, bob)
		if a != 100 || b != 0 {
			t.Errorf("rolled-back transfer visible: alice=%d bob=%d", a, b)
		}
		return nil
	})
}

func TestStore_TransferRequiresSourceSigner(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice, bob := key(1), key(2)

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Credit(ctx, alice, 10); err != nil {
			return err
		}
		return tx.Transfer(ctx, alice, bob, 5, keySigner(bob))
	})
	if !errors.Is(err, storage.ErrSignerMismatch) {
		t.Errorf("expected ErrSignerMismatch, got %v", err)
	}
}

func TestStore_DerivedAddressRequiresProof(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	d := authority.NewDeriver(authority.DefaultProgramID)
	pool, bob := key(20), key(2)

	treasury, err := d.Treasury(pool)
	if err != nil {
		t.Fatalf("Treasury failed: %v", err)
	}
	proof, err := d.Prove(authority.LabelTreasury, pool, treasury.Bump)
	if err != nil {
		t.Fatalf("Prove failed: %v", err)
	}

	err = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Credit(ctx, treasury.Address, 100); err != nil {
			return err
		}
		return tx.Transfer(ctx, treasury.Address, bob, 10, keySigner(treasury.Address))
	})
	if !errors.Is(err, storage.ErrSignerMismatch) {
		t.Fatalf("plain signer for derived address: expected ErrSignerMismatch, got %v", err)
	}

	err = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Credit(ctx, treasury.Address, 100); err != nil {
			return err
		}
		return tx.Transfer(ctx, treasury.Address, bob, 10, proof)
	})
	if err != nil {
		t.Fatalf("Transfer with proof failed: %v", err)
	}

	_ = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if b, _ := tx.NativeBalance(ctx, bob); b != 10 {
			t.Errorf("bob balance = %d, want 10", b)
		}
		return nil
	})
}

func TestStore_TransferInsufficientFunds(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice, bob := key(1), key(2)

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Credit(ctx, alice, 10); err != nil {
			return err
		}
		return tx.Transfer(ctx, alice, bob, 11, keySigner(alice))
	})
	if !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestStore_BalancesCappedAtMaxBalance(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	alice, bob := key(1), key(2)

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Credit(ctx, alice, domain.MaxBalance); err != nil {
			return err
		}
		return tx.Credit(ctx, alice, 1)
	})
	if !errors.Is(err, storage.ErrOverflow) {
		t.Errorf("credit past MaxBalance: expected ErrOverflow, got %v", err)
	}

	err = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Credit(ctx, alice, 10); err != nil {
			return err
		}
		return tx.Transfer(ctx, alice, bob, math.MaxUint64, keySigner(alice))
	})
	if !errors.Is(err, storage.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestStore_MintAndBurn(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	mint, mintAuth, owner := key(10), key(11), key(12)

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateMint(ctx, &domain.Mint{Address: mint, Authority: mintAuth, Decimals: 9}); err != nil {
			return err
		}
		if err := tx.OpenTokenAccount(ctx, mint, owner); err != nil {
			return err
		}
		if err := tx.MintTo(ctx, mint, owner, 50, keySigner(mintAuth)); err != nil {
			return err
		}
		return tx.Burn(ctx, mint, owner, 20, keySigner(owner))
	})
	if err != nil {
		t.Fatalf("Atomic failed: %v", err)
	}

	_ = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		m, err := tx.GetMint(ctx, mint)
		if err != nil {
			t.Fatalf("GetMint failed: %v", err)
		}
		bal, err := tx.TokenBalance(ctx, mint, owner)
		if err != nil {
			t.Fatalf("TokenBalance failed: %v", err)
		}
		if m.Supply != 30 || bal != 30 {
			t.Errorf("supply=%d balance=%d, want 30/30", m.Supply, bal)
		}
		return nil
	})
}

func TestStore_MintToMissingAccount(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	mint, mintAuth, owner := key(10), key(11), key(12)

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateMint(ctx, &domain.Mint{Address: mint, Authority: mintAuth}); err != nil {
			return err
		}
		return tx.MintTo(ctx, mint, owner, 1, keySigner(mintAuth))
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_MintToWrongAuthority(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	mint, mintAuth, owner := key(10), key(11), key(12)

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.CreateMint(ctx, &domain.Mint{Address: mint, Authority: mintAuth}); err != nil {
			return err
		}
		if err := tx.OpenTokenAccount(ctx, mint, owner); err != nil {
			return err
		}
		return tx.MintTo(ctx, mint, owner, 1, keySigner(owner))
	})
	if !errors.Is(err, storage.ErrSignerMismatch) {
		t.Errorf("expected ErrSignerMismatch, got %v", err)
	}
}

func TestStore_DuplicatePool(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	pool := &domain.PoolState{Address: key(20), Admin: key(1), UpgradeAuthority: key(1)}

	if err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertPool(ctx, pool)
	}); err != nil {
		t.Fatalf("InsertPool failed: %v", err)
	}

	err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertPool(ctx, pool)
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestStore_EventSequence(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	pool := key(20)

	for i := 0; i < 3; i++ {
		err := s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
			return tx.AppendEvent(ctx, &domain.Event{
				Pool:    pool,
				Kind:    domain.EventStake,
				Payload: domain.StakeEvent{User: key(1), Amount: uint64(i + 1)},
			})
		})
		if err != nil {
			t.Fatalf("AppendEvent failed: %v", err)
		}
	}

	_ = s.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		events, err := tx.ListEvents(ctx, pool, 1, 0)
		if err != nil {
			t.Fatalf("ListEvents failed: %v", err)
		}
		if len(events) != 2 {
			t.Fatalf("expected 2 events after seq 1, got %d", len(events))
		}
		if events[0].Seq != 2 || events[1].Seq != 3 {
			t.Errorf("unexpected seqs %d, %d", events[0].Seq, events[1].Seq)
		}

		limited, _ := tx.ListEvents(ctx, pool, 0, 1)
		if len(limited) != 1 || limited[0].Seq != 1 {
			t.Errorf("limit not honored: %+v", limited)
		}
		return nil
	})
}

func TestStore_CancelledContext(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.Atomic(ctx, func(context.Context, storage.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn must not run on a cancelled context")
	}
}
