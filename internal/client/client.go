// Package client is a Go client of the staking ledger HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"staking-ledger/internal/api"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/signing"
	"staking-ledger/internal/staking"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Client calls the staking ledger API. Reads are retried with exponential
// backoff; signed operations are sent exactly once.
type Client struct {
	baseURL     string
	client      *http.Client
	keypair     *signing.Keypair
	clock       func() time.Time
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts of reads.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithKeypair sets the keypair that signs operations.
func WithKeypair(kp *signing.Keypair) Option {
	return func(c *Client) {
		c.keypair = kp
	}
}

// WithClock sets the time source of request timestamps.
func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// New creates a client of the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		clock:       time.Now,
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Signer returns the identity operations are signed with, or the zero key.
func (c *Client) Signer() domain.Pubkey {
	if c.keypair == nil {
		return domain.Pubkey{}
	}
	return c.keypair.Pubkey()
}

// APIError is an error response of the API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Unwrap returns the engine error of the code, so errors.Is matches staking
// sentinels across the wire.
func (e *APIError) Unwrap() error {
	return staking.CodeError(e.Code)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// get performs a GET with retries and exponential backoff.
func (c *Client) get(ctx context.Context, path string, result any) error {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		status, body, err := c.send(req)
		if err != nil {
			lastErr = err
			continue
		}
		if retryable(status) {
			lastErr = decodeError(status, body)
			continue
		}
		return decodeResult(status, body, result)
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// post sends a POST once, signed when signed is true.
func (c *Client) post(ctx context.Context, path string, payload any, signed bool, result any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		if c.keypair == nil {
			return fmt.Errorf("%s requires a keypair", path)
		}
		if err := signing.SignRequest(req, c.keypair.PrivateKey(), body, c.clock()); err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
	}

	status, respBody, err := c.send(req)
	if err != nil {
		return err
	}
	return decodeResult(status, respBody, result)
}

func (c *Client) send(req *http.Request) (int, []byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeResult(status int, body []byte, result any) error {
	if status < 200 || status >= 300 {
		return decodeError(status, body)
	}
	if result == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var e api.ErrorBody
	if err := json.Unmarshal(body, &e); err != nil || e.Error.Code == "" {
		return &APIError{Status: status, Code: staking.CodeInternal, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{Status: status, Code: e.Error.Code, Message: e.Error.Message}
}

func poolPath(pool domain.Pubkey, suffix string) string {
	return "/v1/pools/" + pool.String() + suffix
}

// Derive returns the authority derivations of a pool.
func (c *Client) Derive(ctx context.Context, pool domain.Pubkey) (*staking.Derivations, error) {
	var d staking.Derivations
	if err := c.get(ctx, poolPath(pool, "/derive"), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Initialize creates a pool administered by the signer.
func (c *Client) Initialize(ctx context.Context, req api.InitializeRequest) (*domain.PoolState, error) {
	var p domain.PoolState
	if err := c.post(ctx, "/v1/pools", req, true, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// InitializePool derives the pool's authorities and initializes it.
func (c *Client) InitializePool(ctx context.Context, pool, mint domain.Pubkey, withdrawalLimit uint64, timeLock int64) (*domain.PoolState, error) {
	d, err := c.Derive(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("derive: %w", err)
	}
	return c.Initialize(ctx, api.InitializeRequest{
		Pool:              pool,
		Mint:              mint,
		Treasury:          d.Treasury.Address,
		MintAuthorityBump: d.MintAuthority.Bump,
		WithdrawalLimit:   withdrawalLimit,
		TimeLock:          timeLock,
	})
}

func (c *Client) amountOp(ctx context.Context, pool domain.Pubkey, op string, amount uint64) (*domain.Event, error) {
	var ev domain.Event
	if err := c.post(ctx, poolPath(pool, "/"+op), api.AmountRequest{Amount: amount}, true, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Stake deposits amount lamports and mints as many receipt-tokens.
func (c *Client) Stake(ctx context.Context, pool domain.Pubkey, amount uint64) (*domain.Event, error) {
	return c.amountOp(ctx, pool, "stake", amount)
}

// Unstake burns amount receipt-tokens and returns as many lamports.
func (c *Client) Unstake(ctx context.Context, pool domain.Pubkey, amount uint64) (*domain.Event, error) {
	return c.amountOp(ctx, pool, "unstake", amount)
}

// Withdraw moves amount lamports from the treasury to the admin.
func (c *Client) Withdraw(ctx context.Context, pool domain.Pubkey, amount uint64) (*domain.Event, error) {
	return c.amountOp(ctx, pool, "withdraw", amount)
}

// ChangeAdmin hands the admin role to newAdmin.
func (c *Client) ChangeAdmin(ctx context.Context, pool, newAdmin domain.Pubkey) (*domain.Event, error) {
	var ev domain.Event
	if err := c.post(ctx, poolPath(pool, "/admin"), api.ChangeAdminRequest{NewAdmin: newAdmin}, true, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// SetUpgradeAuthority hands the upgrade authority to newAuthority.
func (c *Client) SetUpgradeAuthority(ctx context.Context, pool, newAuthority domain.Pubkey) (*domain.Event, error) {
	var ev domain.Event
	if err := c.post(ctx, poolPath(pool, "/upgrade-authority"), api.SetUpgradeAuthorityRequest{NewAuthority: newAuthority}, true, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// RegisterMetadata attaches metadata to the pool's receipt-token.
func (c *Client) RegisterMetadata(ctx context.Context, pool domain.Pubkey, req api.MetadataRequest) (*domain.TokenMetadata, error) {
	var md domain.TokenMetadata
	if err := c.post(ctx, poolPath(pool, "/metadata"), req, true, &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// OpenReceiptAccount opens the signer's receipt-token account.
func (c *Client) OpenReceiptAccount(ctx context.Context, pool domain.Pubkey) (*domain.TokenAccount, error) {
	var acct domain.TokenAccount
	if err := c.post(ctx, poolPath(pool, "/accounts"), nil, true, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Airdrop requests lamports from the faucet.
func (c *Client) Airdrop(ctx context.Context, to domain.Pubkey, amount uint64) (uint64, error) {
	var bal api.BalanceResponse
	if err := c.post(ctx, "/v1/faucet", api.FaucetRequest{Address: to, Amount: amount}, false, &bal); err != nil {
		return 0, err
	}
	return bal.Amount, nil
}

// Pool returns the state of a pool.
func (c *Client) Pool(ctx context.Context, pool domain.Pubkey) (*domain.PoolState, error) {
	var p domain.PoolState
	if err := c.get(ctx, poolPath(pool, ""), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Pools lists all pools.
func (c *Client) Pools(ctx context.Context) ([]*domain.PoolState, error) {
	var pools []*domain.PoolState
	if err := c.get(ctx, "/v1/pools", &pools); err != nil {
		return nil, err
	}
	return pools, nil
}

// Backing returns the backing report of a pool.
func (c *Client) Backing(ctx context.Context, pool domain.Pubkey) (*domain.Backing, error) {
	var b domain.Backing
	if err := c.get(ctx, poolPath(pool, "/backing"), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Metadata returns the receipt-token metadata of a pool.
func (c *Client) Metadata(ctx context.Context, pool domain.Pubkey) (*domain.TokenMetadata, error) {
	var md domain.TokenMetadata
	if err := c.get(ctx, poolPath(pool, "/metadata"), &md); err != nil {
		return nil, err
	}
	return &md, nil
}

// ReceiptBalance returns owner's receipt-token balance in a pool.
func (c *Client) ReceiptBalance(ctx context.Context, pool, owner domain.Pubkey) (uint64, error) {
	var bal api.BalanceResponse
	if err := c.get(ctx, poolPath(pool, "/accounts/"+owner.String()), &bal); err != nil {
		return 0, err
	}
	return bal.Amount, nil
}

// NativeBalance returns the lamports held by address.
func (c *Client) NativeBalance(ctx context.Context, address domain.Pubkey) (uint64, error) {
	var bal api.BalanceResponse
	if err := c.get(ctx, "/v1/accounts/"+address.String(), &bal); err != nil {
		return 0, err
	}
	return bal.Amount, nil
}

// Events returns one page of a pool's event log after afterSeq.
func (c *Client) Events(ctx context.Context, pool domain.Pubkey, afterSeq uint64, limit int) (*api.EventsResponse, error) {
	q := url.Values{}
	q.Set("after_seq", strconv.FormatUint(afterSeq, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page api.EventsResponse
	if err := c.get(ctx, poolPath(pool, "/events?"+q.Encode()), &page); err != nil {
		return nil, err
	}
	return &page, nil
}
