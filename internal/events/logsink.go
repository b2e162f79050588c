package events

import (
	"context"
	"log"

	"staking-ledger/internal/domain"
)

// LogSink writes one line per event.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink writing to logger.
func NewLogSink(logger *log.Logger) *LogSink {
	if logger == nil {
		logger = log.Default()
	}
	return &LogSink{logger: logger}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Publish implements Sink.
func (s *LogSink) Publish(_ context.Context, events []*domain.Event) error {
	for _, e := range events {
		s.logger.Printf("event pool=%s seq=%d kind=%s payload=%+v", e.Pool, e.Seq, e.Kind, e.Payload)
	}
	return nil
}
