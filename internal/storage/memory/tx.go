package memory

import (
	"bytes"
	"context"
	"sort"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// tx is the staged view of a Store during one Atomic call.
// It is only used while the store mutex is held.
type tx struct {
	s *Store

	pools    map[domain.Pubkey]*domain.PoolState
	balances map[domain.Pubkey]uint64
	mints    map[domain.Pubkey]*domain.Mint
	accounts map[accountKey]uint64
	metadata map[domain.Pubkey]*domain.TokenMetadata
	events   map[domain.Pubkey][]*domain.Event
}

func newTx(s *Store) *tx {
	return &tx{
		s:        s,
		pools:    make(map[domain.Pubkey]*domain.PoolState),
		balances: make(map[domain.Pubkey]uint64),
		mints:    make(map[domain.Pubkey]*domain.Mint),
		accounts: make(map[accountKey]uint64),
		metadata: make(map[domain.Pubkey]*domain.TokenMetadata),
		events:   make(map[domain.Pubkey][]*domain.Event),
	}
}

// commit publishes the staged writes to the store.
func (t *tx) commit() {
	for k, v := range t.pools {
		t.s.pools[k] = v
	}
	for k, v := range t.balances {
		t.s.balances[k] = v
	}
	for k, v := range t.mints {
		t.s.mints[k] = v
	}
	for k, v := range t.accounts {
		t.s.accounts[k] = v
	}
	for k, v := range t.metadata {
		t.s.metadata[k] = v
	}
	for k, v := range t.events {
		t.s.events[k] = append(t.s.events[k], v...)
	}
}

// Pools

func (t *tx) pool(address domain.Pubkey) (*domain.PoolState, bool) {
	if p, ok := t.pools[address]; ok {
		return p, true
	}
	p, ok := t.s.pools[address]
	return p, ok
}

// InsertPool adds a pool. Returns ErrDuplicateKey if the address exists.
func (t *tx) InsertPool(_ context.Context, p *domain.PoolState) error {
	if p == nil || p.Address.IsZero() {
		return storage.ErrInvalidInput
	}
	if _, exists := t.pool(p.Address); exists {
		return storage.ErrDuplicateKey
	}
	poolCopy := *p
	t.pools[p.Address] = &poolCopy
	return nil
}

// GetPool retrieves a pool. Returns ErrNotFound if not exists.
func (t *tx) GetPool(_ context.Context, address domain.Pubkey) (*domain.PoolState, error) {
	p, ok := t.pool(address)
	if !ok {
		return nil, storage.ErrNotFound
	}
	poolCopy := *p
	return &poolCopy, nil
}

// UpdatePool overwrites an existing pool. Returns ErrNotFound if not exists.
func (t *tx) UpdatePool(_ context.Context, p *domain.PoolState) error {
	if p == nil {
		return storage.ErrInvalidInput
	}
	if _, exists := t.pool(p.Address); !exists {
		return storage.ErrNotFound
	}
	poolCopy := *p
	t.pools[p.Address] = &poolCopy
	return nil
}

// ListPools retrieves all pools ordered by address.
func (t *tx) ListPools(_ context.Context) ([]*domain.PoolState, error) {
	seen := make(map[domain.Pubkey]struct{})
	var result []*domain.PoolState
	for addr, p := range t.pools {
		seen[addr] = struct{}{}
		poolCopy := *p
		result = append(result, &poolCopy)
	}
	for addr, p := range t.s.pools {
		if _, ok := seen[addr]; ok {
			continue
		}
		poolCopy := *p
		result = append(result, &poolCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return bytes.Compare(result[i].Address[:], result[j].Address[:]) < 0
	})
	return result, nil
}

// Native ledger

func (t *tx) balance(address domain.Pubkey) uint64 {
	if b, ok := t.balances[address]; ok {
		return b
	}
	return t.s.balances[address]
}

// NativeBalance returns the balance of an account. Unknown accounts hold 0.
func (t *tx) NativeBalance(_ context.Context, address domain.Pubkey) (uint64, error) {
	return t.balance(address), nil
}

// exceedsMax reports whether bal+amount is above domain.MaxBalance.
func exceedsMax(bal, amount uint64) bool {
	return amount > domain.MaxBalance || bal > domain.MaxBalance-amount
}

// Credit adds value to an account.
func (t *tx) Credit(_ context.Context, address domain.Pubkey, amount uint64) error {
	bal := t.balance(address)
	if exceedsMax(bal, amount) {
		return storage.ErrOverflow
	}
	t.balances[address] = bal + amount
	return nil
}

// Transfer moves value between accounts. The signer must be the source account.
func (t *tx) Transfer(ctx context.Context, from, to domain.Pubkey, amount uint64, signer storage.Signer) error {
	if !storage.Authorizes(signer, from) {
		return storage.ErrSignerMismatch
	}
	fromBal := t.balance(from)
	if fromBal < amount {
		return storage.ErrInsufficientFunds
	}
	if from == to {
		return nil
	}
	toBal := t.balance(to)
	if exceedsMax(toBal, amount) {
		return storage.ErrOverflow
	}
	t.balances[from] = fromBal - amount
	t.balances[to] = toBal + amount
	return nil
}

// Token ledger

func (t *tx) mint(address domain.Pubkey) (*domain.Mint, bool) {
	if m, ok := t.mints[address]; ok {
		return m, true
	}
	m, ok := t.s.mints[address]
	return m, ok
}

func (t *tx) account(key accountKey) (uint64, bool) {
	if a, ok := t.accounts[key]; ok {
		return a, true
	}
	a, ok := t.s.accounts[key]
	return a, ok
}

// CreateMint adds a mint with zero supply. Returns ErrDuplicateKey if exists.
func (t *tx) CreateMint(_ context.Context, m *domain.Mint) error {
	if m == nil || m.Address.IsZero() || m.Authority.IsZero() {
		return storage.ErrInvalidInput
	}
	if _, exists := t.mint(m.Address); exists {
		return storage.ErrDuplicateKey
	}
	mintCopy := *m
	mintCopy.Supply = 0
	t.mints[m.Address] = &mintCopy
	return nil
}

// GetMint retrieves a mint. Returns ErrNotFound if not exists.
func (t *tx) GetMint(_ context.Context, address domain.Pubkey) (*domain.Mint, error) {
	m, ok := t.mint(address)
	if !ok {
		return nil, storage.ErrNotFound
	}
	mintCopy := *m
	return &mintCopy, nil
}

// OpenTokenAccount creates an empty account for (mint, owner).
func (t *tx) OpenTokenAccount(_ context.Context, mint, owner domain.Pubkey) error {
	if _, ok := t.mint(mint); !ok {
		return storage.ErrNotFound
	}
	key := accountKey{mint: mint, owner: owner}
	if _, exists := t.account(key); exists {
		return storage.ErrDuplicateKey
	}
	t.accounts[key] = 0
	return nil
}

// TokenBalance returns the balance of (mint, owner). Returns ErrNotFound if no account.
func (t *tx) TokenBalance(_ context.Context, mint, owner domain.Pubkey) (uint64, error) {
	amount, ok := t.account(accountKey{mint: mint, owner: owner})
	if !ok {
		return 0, storage.ErrNotFound
	}
	return amount, nil
}

// MintTo increases supply and the owner's balance. The signer must be the mint authority.
func (t *tx) MintTo(_ context.Context, mint, owner domain.Pubkey, amount uint64, signer storage.Signer) error {
	m, ok := t.mint(mint)
	if !ok {
		return storage.ErrNotFound
	}
	if !storage.Authorizes(signer, m.Authority) {
		return storage.ErrSignerMismatch
	}
	key := accountKey{mint: mint, owner: owner}
	bal, ok := t.account(key)
	if !ok {
		return storage.ErrNotFound
	}
	if exceedsMax(m.Supply, amount) || exceedsMax(bal, amount) {
		return storage.ErrOverflow
	}

	mintCopy := *m
	mintCopy.Supply += amount
	t.mints[mint] = &mintCopy
	t.accounts[key] = bal + amount
	return nil
}

// Burn decreases supply and the owner's balance. The signer must be the owner.
func (t *tx) Burn(_ context.Context, mint, owner domain.Pubkey, amount uint64, signer storage.Signer) error {
	m, ok := t.mint(mint)
	if !ok {
		return storage.ErrNotFound
	}
	if !storage.Authorizes(signer, owner) {
		return storage.ErrSignerMismatch
	}
	key := accountKey{mint: mint, owner: owner}
	bal, ok := t.account(key)
	if !ok {
		return storage.ErrNotFound
	}
	if bal < amount {
		return storage.ErrInsufficientFunds
	}

	mintCopy := *m
	mintCopy.Supply -= amount
	t.mints[mint] = &mintCopy
	t.accounts[key] = bal - amount
	return nil
}

// Metadata

// InsertMetadata adds metadata. The signer must be the mint authority.
func (t *tx) InsertMetadata(_ context.Context, md *domain.TokenMetadata, signer storage.Signer) error {
	if md == nil {
		return storage.ErrInvalidInput
	}
	m, ok := t.mint(md.Mint)
	if !ok {
		return storage.ErrNotFound
	}
	if !storage.Authorizes(signer, m.Authority) {
		return storage.ErrSignerMismatch
	}
	if _, exists := t.metadata[md.Mint]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := t.s.metadata[md.Mint]; exists {
		return storage.ErrDuplicateKey
	}
	metaCopy := *md
	t.metadata[md.Mint] = &metaCopy
	return nil
}

// GetMetadata retrieves metadata by mint. Returns ErrNotFound if not exists.
func (t *tx) GetMetadata(_ context.Context, mint domain.Pubkey) (*domain.TokenMetadata, error) {
	md, ok := t.metadata[mint]
	if !ok {
		md, ok = t.s.metadata[mint]
	}
	if !ok {
		return nil, storage.ErrNotFound
	}
	metaCopy := *md
	return &metaCopy, nil
}

// Events

// AppendEvent assigns the next sequence number of e.Pool and stores e.
func (t *tx) AppendEvent(_ context.Context, e *domain.Event) error {
	if e == nil || e.Pool.IsZero() || !e.Kind.IsValid() {
		return storage.ErrInvalidInput
	}
	e.Seq = uint64(len(t.s.events[e.Pool])+len(t.events[e.Pool])) + 1
	eventCopy := *e
	t.events[e.Pool] = append(t.events[e.Pool], &eventCopy)
	return nil
}

// ListEvents retrieves events of a pool with Seq > afterSeq, ordered by Seq ASC.
func (t *tx) ListEvents(_ context.Context, pool domain.Pubkey, afterSeq uint64, limit int) ([]*domain.Event, error) {
	var result []*domain.Event
	all := append(append([]*domain.Event{}, t.s.events[pool]...), t.events[pool]...)
	for _, e := range all {
		if e.Seq <= afterSeq {
			continue
		}
		eventCopy := *e
		result = append(result, &eventCopy)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

var _ storage.Tx = (*tx)(nil)
