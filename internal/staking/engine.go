// Package staking implements the staking-pool state machine: initialize, stake,
// unstake, admin withdraw and the administrative reassignments, each executed as
// one atomic substrate call.
package staking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"staking-ledger/internal/authority"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/storage"
)

const tracerName = "staking-ledger/internal/staking"

// Emitter receives the events of each committed operation. Within one engine,
// Emit is called in commit order per pool, so it must not block.
type Emitter interface {
	Emit(ctx context.Context, events []*domain.Event)
}

// Engine executes staking operations against a substrate.
type Engine struct {
	substrate      storage.Substrate
	deriver        *authority.Deriver
	emitter        Emitter
	clock          func() time.Time
	enforceBacking bool
	tracer         trace.Tracer
	logger         *log.Logger

	// emitLocks order commit plus emission per pool (striped by address).
	emitLocks [64]sync.Mutex
}

// Options contains configuration for creating an Engine.
type Options struct {
	Substrate storage.Substrate
	Deriver   *authority.Deriver
	Emitter   Emitter          // optional
	Clock     func() time.Time // default: time.Now

	// EnforceBacking rejects admin withdrawals that would leave the treasury
	// below the outstanding receipt-token supply.
	EnforceBacking bool

	Logger *log.Logger
}

// NewEngine creates a new staking engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Substrate == nil {
		return nil, errors.New("substrate is required")
	}
	if opts.Deriver == nil {
		return nil, errors.New("deriver is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Engine{
		substrate:      opts.Substrate,
		deriver:        opts.Deriver,
		emitter:        opts.Emitter,
		clock:          clock,
		enforceBacking: opts.EnforceBacking,
		tracer:         otel.Tracer(tracerName),
		logger:         logger,
	}, nil
}

// Deriver returns the authority deriver the engine signs with.
func (e *Engine) Deriver() *authority.Deriver {
	return e.deriver
}

// callerSigner is an identity whose signature the substrate already verified.
type callerSigner domain.Pubkey

// signerFor returns the signer for a leg the caller authorizes. Off-curve
// addresses are derived authorities with no private key; they sign only
// through an authority.Proof.
func signerFor(caller domain.Pubkey) (storage.Signer, error) {
	if caller.IsZero() || !authority.IsOnCurve(caller) {
		return nil, ErrUnauthorized
	}
	return callerSigner(caller), nil
}

func (c callerSigner) Address() domain.Pubkey {
	return domain.Pubkey(c)
}

// call carries the per-operation timestamp and the events to append.
type call struct {
	now    int64
	events []*domain.Event
}

func (c *call) emit(pool domain.Pubkey, payload domain.EventPayload) {
	c.events = append(c.events, &domain.Event{
		ID:        uuid.NewString(),
		Pool:      pool,
		Kind:      payload.Kind(),
		Timestamp: c.now,
		Payload:   payload,
	})
}

// execute runs fn atomically, appends its events in the same call and hands
// them to the emitter only after commit.
func (e *Engine) execute(ctx context.Context, op string, pool domain.Pubkey, fn func(ctx context.Context, tx storage.Tx, c *call) error) ([]*domain.Event, error) {
	ctx, span := e.tracer.Start(ctx, "staking."+op, trace.WithAttributes(
		attribute.String("pool", pool.String()),
	))
	defer span.End()

	start := time.Now()
	c := &call{now: e.clock().Unix()}

	// Seqs are assigned inside Atomic; holding the pool's stripe until Emit
	// returns hands batches to the emitter in seq order.
	mu := &e.emitLocks[int(pool[0])%len(e.emitLocks)]
	mu.Lock()
	defer mu.Unlock()

	err := e.substrate.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		c.events = nil
		if err := fn(ctx, tx, c); err != nil {
			return err
		}
		for _, ev := range c.events {
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return fmt.Errorf("append %s event: %w", ev.Kind, err)
			}
		}
		return nil
	})

	code := Code(err)
	observability.RecordOperation(op, code, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
		if code == CodeInternal {
			e.logger.Printf("%s on pool %s failed: %v", op, pool, err)
		}
		return nil, err
	}

	if e.emitter != nil && len(c.events) > 0 {
		e.emitter.Emit(ctx, c.events)
	}
	return c.events, nil
}

// view runs a read-only function against a consistent snapshot.
func (e *Engine) view(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return e.substrate.Atomic(ctx, fn)
}

// loadPool fetches a pool, translating storage.ErrNotFound.
func loadPool(ctx context.Context, tx storage.Tx, address domain.Pubkey) (*domain.PoolState, error) {
	p, err := tx.GetPool(ctx, address)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load pool %s: %w", address, err)
	}
	return p, nil
}

// firstEvent returns the primary event of an operation.
func firstEvent(events []*domain.Event, err error) (*domain.Event, error) {
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[0], nil
}
