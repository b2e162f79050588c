package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/staking"
)

const (
	defaultEventsLimit = 100
	maxEventsLimit     = 1000
)

// InitializeRequest is the body of POST /v1/pools.
type InitializeRequest struct {
	Pool              domain.Pubkey `json:"pool"`
	Mint              domain.Pubkey `json:"mint"`
	Treasury          domain.Pubkey `json:"treasury"`
	MintAuthorityBump uint8         `json:"mint_authority_bump"`
	WithdrawalLimit   uint64        `json:"withdrawal_limit"`
	TimeLock          int64         `json:"time_lock"`
}

// AmountRequest is the body of stake, unstake and withdraw.
type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

// ChangeAdminRequest is the body of POST /v1/pools/{pool}/admin.
type ChangeAdminRequest struct {
	NewAdmin domain.Pubkey `json:"new_admin"`
}

// SetUpgradeAuthorityRequest is the body of POST /v1/pools/{pool}/upgrade-authority.
type SetUpgradeAuthorityRequest struct {
	NewAuthority domain.Pubkey `json:"new_authority"`
}

// MetadataRequest is the body of POST /v1/pools/{pool}/metadata.
type MetadataRequest struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
	URI    string `json:"uri"`
}

// FaucetRequest is the body of POST /v1/faucet.
type FaucetRequest struct {
	Address domain.Pubkey `json:"address"`
	Amount  uint64        `json:"amount"`
}

// BalanceResponse reports a native or receipt-token balance.
type BalanceResponse struct {
	Address domain.Pubkey  `json:"address"`
	Pool    *domain.Pubkey `json:"pool,omitempty"`
	Amount  uint64         `json:"amount"`
}

// EventsResponse is one page of a pool's event log.
type EventsResponse struct {
	Events  []*domain.Event `json:"events"`
	NextSeq uint64          `json:"next_seq"` // pass as after_seq for the next page
}

// pubkeyParam parses a base58 URL parameter, writing a 400 on failure.
func pubkeyParam(w http.ResponseWriter, r *http.Request, name string) (domain.Pubkey, bool) {
	pk, err := domain.ParsePubkey(chi.URLParam(r, name))
	if err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, "invalid "+name+": "+err.Error())
		return domain.Pubkey{}, false
	}
	return pk, true
}

// decode reads a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// caller returns the signer set by requireSignature.
func caller(r *http.Request) domain.Pubkey {
	pk, _ := SignerFrom(r.Context())
	return pk
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req InitializeRequest
	if !decode(w, r, &req) {
		return
	}
	pool, err := s.ledger.Initialize(r.Context(), caller(r), staking.InitializeParams{
		Pool:              req.Pool,
		Mint:              req.Mint,
		Treasury:          req.Treasury,
		MintAuthorityBump: req.MintAuthorityBump,
		WithdrawalLimit:   req.WithdrawalLimit,
		TimeLock:          req.TimeLock,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

type amountOp func(ctx context.Context, caller, pool domain.Pubkey, amount uint64) (*domain.Event, error)

func (s *Server) handleAmount(w http.ResponseWriter, r *http.Request, op amountOp) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := op(r.Context(), caller(r), pool, req.Amount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleStake(w http.ResponseWriter, r *http.Request) {
	s.handleAmount(w, r, s.ledger.Stake)
}

func (s *Server) handleUnstake(w http.ResponseWriter, r *http.Request) {
	s.handleAmount(w, r, s.ledger.Unstake)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleAmount(w, r, s.ledger.Withdraw)
}

func (s *Server) handleChangeAdmin(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	var req ChangeAdminRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := s.ledger.ChangeAdmin(r.Context(), caller(r), pool, req.NewAdmin)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleSetUpgradeAuthority(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	var req SetUpgradeAuthorityRequest
	if !decode(w, r, &req) {
		return
	}
	ev, err := s.ledger.SetUpgradeAuthority(r.Context(), caller(r), pool, req.NewAuthority)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleRegisterMetadata(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	var req MetadataRequest
	if !decode(w, r, &req) {
		return
	}
	md, err := s.ledger.RegisterMetadata(r.Context(), caller(r), pool, staking.MetadataParams{
		Name:   req.Name,
		Symbol: req.Symbol,
		URI:    req.URI,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, md)
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	acct, err := s.ledger.OpenReceiptAccount(r.Context(), caller(r), pool)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	if !s.faucet {
		writeErrorCode(w, http.StatusNotFound, CodeFaucetDisabled, "faucet is disabled")
		return
	}
	var req FaucetRequest
	if !decode(w, r, &req) {
		return
	}
	balance, err := s.ledger.Airdrop(r.Context(), req.Address, req.Amount)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Address: req.Address, Amount: balance})
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.ledger.Pools(r.Context())
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if pools == nil {
		pools = []*domain.PoolState{}
	}
	writeJSON(w, http.StatusOK, pools)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	p, err := s.ledger.Pool(r.Context(), pool)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	d, err := s.ledger.Derive(pool)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleBacking(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	b, err := s.ledger.Backing(r.Context(), pool)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	md, err := s.ledger.Metadata(r.Context(), pool)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	if md == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "no metadata registered")
		return
	}
	writeJSON(w, http.StatusOK, md)
}

func (s *Server) handleReceiptBalance(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	owner, ok := pubkeyParam(w, r, "owner")
	if !ok {
		return
	}
	amount, err := s.ledger.ReceiptBalance(r.Context(), pool, owner)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Address: owner, Pool: &pool, Amount: amount})
}

func (s *Server) handleNativeBalance(w http.ResponseWriter, r *http.Request) {
	address, ok := pubkeyParam(w, r, "address")
	if !ok {
		return
	}
	amount, err := s.ledger.NativeBalance(r.Context(), address)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Address: address, Amount: amount})
}

// pageParams reads after_seq and limit from the query string.
func pageParams(w http.ResponseWriter, r *http.Request) (afterSeq uint64, limit int, ok bool) {
	q := r.URL.Query()
	if v := q.Get("after_seq"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, "invalid after_seq")
			return 0, 0, false
		}
		afterSeq = n
	}
	limit = defaultEventsLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeErrorCode(w, http.StatusBadRequest, CodeBadRequest, "invalid limit")
			return 0, 0, false
		}
		limit = min(n, maxEventsLimit)
	}
	return afterSeq, limit, true
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	afterSeq, limit, ok := pageParams(w, r)
	if !ok {
		return
	}
	evs, err := s.ledger.Events(r.Context(), pool, afterSeq, limit)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	resp := EventsResponse{Events: evs, NextSeq: afterSeq}
	if resp.Events == nil {
		resp.Events = []*domain.Event{}
	}
	if n := len(evs); n > 0 {
		resp.NextSeq = evs[n-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStream replays the event log after after_seq and then follows live
// events over a websocket.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeErrorCode(w, http.StatusNotFound, CodeNotFound, "event streaming is disabled")
		return
	}
	pool, ok := pubkeyParam(w, r, "pool")
	if !ok {
		return
	}
	afterSeq, _, ok := pageParams(w, r)
	if !ok {
		return
	}
	if _, err := s.ledger.Pool(r.Context(), pool); err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	s.hub.Serve(w, r, pool, afterSeq, func(ctx context.Context, after uint64) ([]*domain.Event, error) {
		return s.ledger.Events(ctx, pool, after, 0)
	})
}
