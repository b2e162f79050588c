package events

//go:generate mockgen -source=sink.go -destination=mocks/mocks.go -package=mocks Sink,Archive

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/events/mocks"
)

type DispatcherSuite struct {
	suite.Suite
	ctrl   *gomock.Controller
	sink   *mocks.MockSink
	logger *log.Logger
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.sink = mocks.NewMockSink(s.ctrl)
	s.sink.EXPECT().Name().Return("mock").AnyTimes()
	s.logger = log.New(io.Discard, "", 0)
}

func (s *DispatcherSuite) TearDownTest() {
	s.ctrl.Finish()
}

func testBatch(seq uint64) []*domain.Event {
	var pool domain.Pubkey
	pool[0] = 7
	return []*domain.Event{{
		ID:        "ev",
		Pool:      pool,
		Seq:       seq,
		Kind:      domain.EventStake,
		Timestamp: 1,
		Payload:   domain.StakeEvent{Amount: seq},
	}}
}

// runUntilFlushed starts d, applies emit and stops it, returning after all
// queued batches were delivered.
func (s *DispatcherSuite) runUntilFlushed(d *Dispatcher, emit func()) {
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	emit()
	cancel()
	select {
	case <-d.Done():
	case <-time.After(5 * time.Second):
		s.FailNow("dispatcher did not stop")
	}
}

func (s *DispatcherSuite) TestDeliversInOrder() {
	d := NewDispatcher(DispatcherOptions{Sinks: []Sink{s.sink}, Logger: s.logger})

	first, second := testBatch(1), testBatch(2)
	gomock.InOrder(
		s.sink.EXPECT().Publish(gomock.Any(), first).Return(nil),
		s.sink.EXPECT().Publish(gomock.Any(), second).Return(nil),
	)

	s.runUntilFlushed(d, func() {
		d.Emit(context.Background(), first)
		d.Emit(context.Background(), second)
	})
}

func (s *DispatcherSuite) TestSinkErrorDoesNotStopOtherSinks() {
	other := mocks.NewMockSink(s.ctrl)
	other.EXPECT().Name().Return("other").AnyTimes()

	d := NewDispatcher(DispatcherOptions{Sinks: []Sink{s.sink, other}, Logger: s.logger})
	batch := testBatch(1)

	s.sink.EXPECT().Publish(gomock.Any(), batch).Return(errors.New("broker down"))
	other.EXPECT().Publish(gomock.Any(), batch).Return(nil)

	s.runUntilFlushed(d, func() { d.Emit(context.Background(), batch) })
}

func (s *DispatcherSuite) TestBreakerSkipsFailingSink() {
	d := NewDispatcher(DispatcherOptions{
		Sinks:            []Sink{s.sink},
		BreakerThreshold: 2,
		BreakerCooldown:  time.Hour,
		Logger:           s.logger,
	})

	s.sink.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).Times(2)

	s.runUntilFlushed(d, func() {
		for i := uint64(1); i <= 5; i++ {
			d.Emit(context.Background(), testBatch(i))
		}
	})
}

func (s *DispatcherSuite) TestEmitAfterStopIsDropped() {
	d := NewDispatcher(DispatcherOptions{Sinks: []Sink{s.sink}, Logger: s.logger})
	s.runUntilFlushed(d, func() {})

	s.NotPanics(func() {
		d.Emit(context.Background(), testBatch(1))
	})
}

func (s *DispatcherSuite) TestEmitDropsWhenQueueFull() {
	d := NewDispatcher(DispatcherOptions{Sinks: []Sink{s.sink}, BufferSize: 1, Logger: s.logger})

	// Not running: the second batch cannot be queued.
	d.Emit(context.Background(), testBatch(1))
	d.Emit(context.Background(), testBatch(2))

	s.sink.EXPECT().Publish(gomock.Any(), testBatch(1)).Return(nil)
	s.runUntilFlushed(d, func() {})
}

func (s *DispatcherSuite) TestArchiveSink() {
	archive := mocks.NewMockArchive(s.ctrl)
	batch := testBatch(3)
	archive.EXPECT().InsertBulk(gomock.Any(), batch).Return(nil)

	sink := NewArchiveSink(archive)
	s.Equal("archive", sink.Name())
	s.NoError(sink.Publish(context.Background(), batch))
}

func TestBreaker(t *testing.T) {
	now := time.Unix(0, 0)
	b := newBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	if !b.allow() {
		t.Fatal("new breaker should allow")
	}
	if b.failure() {
		t.Fatal("first failure should not open")
	}
	if !b.failure() {
		t.Fatal("second failure should open")
	}
	if b.allow() {
		t.Fatal("open breaker should not allow")
	}

	now = now.Add(time.Minute)
	if !b.allow() {
		t.Fatal("breaker should half-open after cooldown")
	}
	b.success()
	if !b.allow() {
		t.Fatal("breaker should close after success")
	}
}
