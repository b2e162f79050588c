// Package api exposes the staking engine over HTTP.
//
// Mutating routes require an ed25519 request signature (see package signing);
// the verified signer is the caller of the engine operation.
package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/events"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/staking"
)

// Ledger is the engine surface served by the API.
type Ledger interface {
	Initialize(ctx context.Context, caller domain.Pubkey, p staking.InitializeParams) (*domain.PoolState, error)
	Stake(ctx context.Context, caller, pool domain.Pubkey, amount uint64) (*domain.Event, error)
	Unstake(ctx context.Context, caller, pool domain.Pubkey, amount uint64) (*domain.Event, error)
	Withdraw(ctx context.Context, caller, pool domain.Pubkey, amount uint64) (*domain.Event, error)
	ChangeAdmin(ctx context.Context, caller, pool, newAdmin domain.Pubkey) (*domain.Event, error)
	SetUpgradeAuthority(ctx context.Context, caller, pool, newAuthority domain.Pubkey) (*domain.Event, error)
	RegisterMetadata(ctx context.Context, caller, pool domain.Pubkey, m staking.MetadataParams) (*domain.TokenMetadata, error)
	OpenReceiptAccount(ctx context.Context, caller, pool domain.Pubkey) (*domain.TokenAccount, error)
	Airdrop(ctx context.Context, to domain.Pubkey, amount uint64) (uint64, error)

	Derive(pool domain.Pubkey) (*staking.Derivations, error)
	Pool(ctx context.Context, pool domain.Pubkey) (*domain.PoolState, error)
	Pools(ctx context.Context) ([]*domain.PoolState, error)
	Backing(ctx context.Context, pool domain.Pubkey) (domain.Backing, error)
	Metadata(ctx context.Context, pool domain.Pubkey) (*domain.TokenMetadata, error)
	ReceiptBalance(ctx context.Context, pool, owner domain.Pubkey) (uint64, error)
	NativeBalance(ctx context.Context, address domain.Pubkey) (uint64, error)
	Events(ctx context.Context, pool domain.Pubkey, afterSeq uint64, limit int) ([]*domain.Event, error)
}

var _ Ledger = (*staking.Engine)(nil)

// Options contains configuration for creating a Server.
type Options struct {
	Ledger Ledger
	Hub    *events.Hub  // optional, disables /events/stream when nil
	Replay ReplayGuard  // default: in-memory guard
	Faucet bool         // expose POST /v1/faucet
	Clock  func() time.Time
	Logger *log.Logger
}

// Server serves the HTTP API.
type Server struct {
	ledger Ledger
	hub    *events.Hub
	replay ReplayGuard
	faucet bool
	clock  func() time.Time
	logger *log.Logger
}

// New creates a new API server.
func New(opts Options) (*Server, error) {
	if opts.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	replay := opts.Replay
	if replay == nil {
		replay = NewMemoryReplayGuard(0, clock)
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		ledger: opts.Ledger,
		hub:    opts.Hub,
		replay: replay,
		faucet: opts.Faucet,
		clock:  clock,
		logger: logger,
	}, nil
}

// Router builds the route tree. Callers may add routes to the result.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(recordMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "no such route")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pools", s.handleListPools)
		r.With(s.requireSignature).Post("/pools", s.handleInitialize)

		r.Route("/pools/{pool}", func(r chi.Router) {
			r.Get("/", s.handleGetPool)
			r.Get("/derive", s.handleDerive)
			r.Get("/backing", s.handleBacking)
			r.Get("/metadata", s.handleGetMetadata)
			r.Get("/events", s.handleEvents)
			r.Get("/events/stream", s.handleStream)
			r.Get("/accounts/{owner}", s.handleReceiptBalance)

			r.Group(func(r chi.Router) {
				r.Use(s.requireSignature)
				r.Post("/stake", s.handleStake)
				r.Post("/unstake", s.handleUnstake)
				r.Post("/withdraw", s.handleWithdraw)
				r.Post("/admin", s.handleChangeAdmin)
				r.Post("/upgrade-authority", s.handleSetUpgradeAuthority)
				r.Post("/metadata", s.handleRegisterMetadata)
				r.Post("/accounts", s.handleOpenAccount)
			})
		})

		r.Get("/accounts/{address}", s.handleNativeBalance)
		r.Post("/faucet", s.handleFaucet)
	})

	return r
}
