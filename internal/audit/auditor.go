// Package audit periodically compares every pool's treasury against its
// outstanding receipt-token supply and reports the shortfall.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
)

// DefaultSchedule runs an audit every minute (seconds field enabled).
const DefaultSchedule = "0 * * * * *"

// Ledger is the read surface the auditor needs.
type Ledger interface {
	Pools(ctx context.Context) ([]*domain.PoolState, error)
	Backing(ctx context.Context, pool domain.Pubkey) (domain.Backing, error)
}

// Options contains configuration for creating an Auditor.
type Options struct {
	Ledger   Ledger
	Schedule string        // cron spec with seconds, default DefaultSchedule
	Timeout  time.Duration // per run, default 30s
	Clock    func() time.Time
	Logger   *log.Logger
}

// Report is the outcome of one audit run.
type Report struct {
	RanAt        time.Time        `json:"ran_at"`
	Pools        []domain.Backing `json:"pools"`
	Undercovered int              `json:"undercovered"`
}

// Auditor runs backing audits on a cron schedule.
type Auditor struct {
	ledger   Ledger
	schedule string
	timeout  time.Duration
	clock    func() time.Time
	logger   *log.Logger
	cron     *cron.Cron

	mu   sync.Mutex
	last *Report
}

// New creates an auditor.
func New(opts Options) (*Auditor, error) {
	if opts.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	schedule := opts.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Auditor{
		ledger:   opts.Ledger,
		schedule: schedule,
		timeout:  timeout,
		clock:    clock,
		logger:   logger,
		cron:     cron.New(cron.WithSeconds()),
	}, nil
}

// Run audits once immediately, then on schedule until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context) error {
	if _, err := a.cron.AddFunc(a.schedule, func() { a.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("register audit schedule %q: %w", a.schedule, err)
	}

	a.runScheduled(ctx)

	a.cron.Start()
	a.logger.Printf("backing audit scheduled (%s)", a.schedule)

	<-ctx.Done()
	stopCtx := a.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

func (a *Auditor) runScheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if _, err := a.RunOnce(runCtx); err != nil {
		a.logger.Printf("backing audit failed: %v", err)
	}
}

// RunOnce audits every pool and updates the backing gauges.
func (a *Auditor) RunOnce(ctx context.Context) (*Report, error) {
	now := a.clock()

	pools, err := a.ledger.Pools(ctx)
	if err != nil {
		observability.RecordAuditRun("error", now.Unix())
		return nil, fmt.Errorf("list pools: %w", err)
	}

	report := &Report{RanAt: now, Pools: make([]domain.Backing, 0, len(pools))}
	for _, p := range pools {
		b, err := a.ledger.Backing(ctx, p.Address)
		if err != nil {
			observability.RecordAuditRun("error", now.Unix())
			return nil, fmt.Errorf("backing of pool %s: %w", p.Address, err)
		}

		observability.UpdateBacking(p.Address.String(), b.Treasury, b.Supply, b.Shortfall)
		if !b.FullyBacked() {
			report.Undercovered++
			a.logger.Printf("pool %s under-collateralized: treasury %d < supply %d (shortfall %d)",
				p.Address, b.Treasury, b.Supply, b.Shortfall)
		}
		report.Pools = append(report.Pools, b)
	}

	observability.RecordAuditRun("success", now.Unix())

	a.mu.Lock()
	a.last = report
	a.mu.Unlock()
	return report, nil
}

// Last returns the most recent successful report, or nil.
func (a *Auditor) Last() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}
