package client

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"staking-ledger/internal/api"
	"staking-ledger/internal/authority"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/events"
	"staking-ledger/internal/signing"
	"staking-ledger/internal/staking"
	"staking-ledger/internal/storage/memory"
)

func fill(b byte) domain.Pubkey {
	var k domain.Pubkey
	for i := range k {
		k[i] = b
	}
	return k
}

var (
	poolKey = fill(0xA0)
	mintKey = fill(0xB0)
)

type hubEmitter struct{ hub *events.Hub }

func (e hubEmitter) Emit(ctx context.Context, evs []*domain.Event) {
	e.hub.Publish(ctx, evs)
}

// counterClock hands out strictly increasing timestamps so repeated
// identical requests carry distinct signatures.
type counterClock struct {
	base time.Time
	n    atomic.Int64
}

func (c *counterClock) Now() time.Time {
	return c.base.Add(time.Duration(c.n.Add(1)) * time.Second)
}

type testServer struct {
	url string
	hub *events.Hub
}

func startServer(t *testing.T) *testServer {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	hub := events.NewHub(nil, logger)
	engine, err := staking.NewEngine(staking.Options{
		Substrate: memory.NewStore(),
		Deriver:   authority.NewDeriver(authority.DefaultProgramID),
		Emitter:   hubEmitter{hub: hub},
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	srv, err := api.New(api.Options{Ledger: engine, Hub: hub, Faucet: true, Logger: logger})
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return &testServer{url: ts.URL, hub: hub}
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	kp, err := signing.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	clock := &counterClock{base: time.Now()}
	return New(url, WithKeypair(kp), WithClock(clock.Now), WithRetryDelay(time.Millisecond))
}

func TestClient_EndToEnd(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	admin := newClient(t, srv.url)
	user := newClient(t, srv.url)

	if _, err := user.Airdrop(ctx, user.Signer(), 1000); err != nil {
		t.Fatalf("Airdrop: %v", err)
	}

	pool, err := admin.InitializePool(ctx, poolKey, mintKey, 500, 0)
	if err != nil {
		t.Fatalf("InitializePool: %v", err)
	}
	if pool.Admin != admin.Signer() {
		t.Errorf("admin = %s, want %s", pool.Admin, admin.Signer())
	}

	if _, err := user.OpenReceiptAccount(ctx, poolKey); err != nil {
		t.Fatalf("OpenReceiptAccount: %v", err)
	}
	if _, err := user.Stake(ctx, poolKey, 300); err != nil {
		t.Fatalf("Stake: %v", err)
	}
	if _, err := user.Stake(ctx, poolKey, 300); err != nil {
		t.Fatalf("second Stake: %v", err)
	}
	if _, err := user.Unstake(ctx, poolKey, 100); err != nil {
		t.Fatalf("Unstake: %v", err)
	}

	bal, err := user.ReceiptBalance(ctx, poolKey, user.Signer())
	if err != nil {
		t.Fatalf("ReceiptBalance: %v", err)
	}
	if bal != 500 {
		t.Errorf("receipt balance = %d, want 500", bal)
	}

	native, err := user.NativeBalance(ctx, user.Signer())
	if err != nil {
		t.Fatalf("NativeBalance: %v", err)
	}
	if native != 500 {
		t.Errorf("native balance = %d, want 500", native)
	}

	backing, err := admin.Backing(ctx, poolKey)
	if err != nil {
		t.Fatalf("Backing: %v", err)
	}
	if backing.Treasury != 500 || backing.Supply != 500 || !backing.FullyBacked() {
		t.Errorf("backing = %+v, want 500/500 fully backed", backing)
	}

	page, err := admin.Events(ctx, poolKey, 0, 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	want := []domain.EventKind{domain.EventInitialize, domain.EventStake, domain.EventStake, domain.EventUnstake}
	if len(page.Events) != len(want) {
		t.Fatalf("got %d events, want %d", len(page.Events), len(want))
	}
	for i, k := range want {
		if page.Events[i].Kind != k {
			t.Errorf("event %d kind = %s, want %s", i, page.Events[i].Kind, k)
		}
	}

	pools, err := admin.Pools(ctx)
	if err != nil {
		t.Fatalf("Pools: %v", err)
	}
	if len(pools) != 1 {
		t.Errorf("got %d pools, want 1", len(pools))
	}
}

func TestClient_AdminOperations(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	admin := newClient(t, srv.url)
	next := newClient(t, srv.url)

	if _, err := admin.InitializePool(ctx, poolKey, mintKey, 500, 0); err != nil {
		t.Fatalf("InitializePool: %v", err)
	}

	md, err := admin.RegisterMetadata(ctx, poolKey, api.MetadataRequest{Name: "Staked SOL", Symbol: "mSOL", URI: "https://example.com/m.json"})
	if err != nil {
		t.Fatalf("RegisterMetadata: %v", err)
	}
	got, err := admin.Metadata(ctx, poolKey)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if got.Address != md.Address || got.Symbol != "mSOL" {
		t.Errorf("metadata = %+v, want %+v", got, md)
	}

	if _, err := next.ChangeAdmin(ctx, poolKey, next.Signer()); !errors.Is(err, staking.ErrUnauthorized) {
		t.Fatalf("ChangeAdmin by non-admin: got %v, want ErrUnauthorized", err)
	}
	if _, err := admin.ChangeAdmin(ctx, poolKey, next.Signer()); err != nil {
		t.Fatalf("ChangeAdmin: %v", err)
	}
	if _, err := admin.SetUpgradeAuthority(ctx, poolKey, next.Signer()); err != nil {
		t.Fatalf("SetUpgradeAuthority: %v", err)
	}

	pool, err := admin.Pool(ctx, poolKey)
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if pool.Admin != next.Signer() || pool.UpgradeAuthority != next.Signer() {
		t.Errorf("pool = %+v, want admin and upgrade authority %s", pool, next.Signer())
	}
}

func TestClient_ErrorsMatchEngineSentinels(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	admin := newClient(t, srv.url)

	if _, err := admin.InitializePool(ctx, poolKey, mintKey, 500, 0); err != nil {
		t.Fatalf("InitializePool: %v", err)
	}
	if _, err := admin.OpenReceiptAccount(ctx, poolKey); err != nil {
		t.Fatalf("OpenReceiptAccount: %v", err)
	}

	_, err := admin.Stake(ctx, poolKey, 1)
	if !errors.Is(err, staking.ErrInsufficientFunds) {
		t.Fatalf("Stake without funds: got %v, want ErrInsufficientFunds", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || apiErr.Code != "InsufficientFunds" {
		t.Errorf("APIError = %+v", apiErr)
	}

	if _, err := admin.InitializePool(ctx, poolKey, mintKey, 500, 0); !errors.Is(err, staking.ErrAlreadyInitialized) {
		t.Errorf("second InitializePool: got %v, want ErrAlreadyInitialized", err)
	}
	if _, err := admin.Pool(ctx, fill(0xEE)); !errors.Is(err, staking.ErrPoolNotFound) {
		t.Errorf("Pool of unknown pool: got %v, want ErrPoolNotFound", err)
	}
}

func TestClient_SignedCallRequiresKeypair(t *testing.T) {
	c := New("http://127.0.0.1:1")
	if _, err := c.Stake(context.Background(), poolKey, 1); err == nil {
		t.Fatal("expected error without keypair")
	}
	if !c.Signer().IsZero() {
		t.Error("signer of a client without keypair should be zero")
	}
}

func TestClient_RetriesReadsOnly(t *testing.T) {
	var gets, posts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if gets.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"address":"11111111111111111111111111111111","amount":7}`))
	}))
	defer server.Close()

	c := New(server.URL, WithRetryDelay(time.Millisecond), WithMaxDelay(5*time.Millisecond))
	ctx := context.Background()

	amount, err := c.NativeBalance(ctx, fill(0x01))
	if err != nil {
		t.Fatalf("NativeBalance: %v", err)
	}
	if amount != 7 {
		t.Errorf("amount = %d, want 7", amount)
	}
	if gets.Load() != 3 {
		t.Errorf("expected 3 GET attempts, got %d", gets.Load())
	}

	if _, err := c.Airdrop(ctx, fill(0x01), 1); err == nil {
		t.Fatal("expected error from failing POST")
	}
	if posts.Load() != 1 {
		t.Errorf("expected 1 POST attempt, got %d", posts.Load())
	}
}

func TestClient_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := New(server.URL, WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	if _, err := c.Pools(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClient_ContextCancelledDuringRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := New(server.URL, WithRetryDelay(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Pools(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}
