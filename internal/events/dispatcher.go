package events

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
)

// DispatcherOptions contains configuration for creating a Dispatcher.
type DispatcherOptions struct {
	Sinks      []Sink
	BufferSize int           // queued batches, default 1024
	Timeout    time.Duration // per sink publish, default 5s

	// BreakerThreshold consecutive failures open a sink's breaker for BreakerCooldown.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	Logger *log.Logger
}

type dispatchSink struct {
	Sink
	breaker *breaker
}

// Dispatcher fans committed events out to sinks on a background worker so
// that slow observers never hold up a staking call.
type Dispatcher struct {
	sinks   []dispatchSink
	inbox   chan []*domain.Event
	timeout time.Duration
	logger  *log.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewDispatcher creates a new dispatcher. Call Run to start delivery.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	size := opts.BufferSize
	if size <= 0 {
		size = 1024
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	sinks := make([]dispatchSink, 0, len(opts.Sinks))
	for _, s := range opts.Sinks {
		sinks = append(sinks, dispatchSink{Sink: s, breaker: newBreaker(opts.BreakerThreshold, opts.BreakerCooldown)})
	}

	return &Dispatcher{
		sinks:   sinks,
		inbox:   make(chan []*domain.Event, size),
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Emit queues a batch for delivery. It never blocks: when the queue is full
// the batch is dropped, observers can re-read it from the event log.
func (d *Dispatcher) Emit(_ context.Context, events []*domain.Event) {
	if len(events) == 0 {
		return
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.inbox <- events:
	default:
		observability.RecordEventDropped("dispatcher")
		d.logger.Printf("event queue full, dropped %d events of pool %s", len(events), events[0].Pool)
	}
}

// Run delivers queued batches until ctx is cancelled, then flushes what is
// already queued and returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.close()
			for batch := range d.inbox {
				d.deliver(context.Background(), batch)
			}
			return nil
		case batch := <-d.inbox:
			d.deliver(ctx, batch)
		}
	}
}

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.inbox)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, batch []*domain.Event) {
	for _, s := range d.sinks {
		if !s.breaker.allow() {
			observability.RecordEventDropped(s.Name())
			continue
		}

		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := s.Publish(pctx, batch)
		cancel()

		if err != nil {
			observability.RecordEventDropped(s.Name())
			if s.breaker.failure() {
				d.logger.Printf("sink %s failing, pausing delivery: %v", s.Name(), err)
			} else if !errors.Is(err, context.Canceled) {
				d.logger.Printf("sink %s: publish %d events: %v", s.Name(), len(batch), err)
			}
			continue
		}

		s.breaker.success()
		for _, e := range batch {
			observability.RecordEventPublished(s.Name(), e.Kind.String())
		}
	}
}
