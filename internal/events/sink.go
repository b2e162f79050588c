// Package events delivers committed staking events to off-system observers.
// The per-pool event log in the substrate is the source of truth; sinks are
// best-effort copies and never consulted by the engine.
package events

import (
	"context"

	"staking-ledger/internal/domain"
)

// Sink receives batches of committed events.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// Publish delivers events in order.
	Publish(ctx context.Context, events []*domain.Event) error
}

// ArchiveSink copies events into an analytics archive.
type ArchiveSink struct {
	archive Archive
}

// Archive is the subset of storage.EventArchive the sink needs.
type Archive interface {
	InsertBulk(ctx context.Context, events []*domain.Event) error
}

// NewArchiveSink creates a sink writing to archive.
func NewArchiveSink(archive Archive) *ArchiveSink {
	return &ArchiveSink{archive: archive}
}

// Name implements Sink.
func (s *ArchiveSink) Name() string { return "archive" }

// Publish implements Sink.
func (s *ArchiveSink) Publish(ctx context.Context, events []*domain.Event) error {
	return s.archive.InsertBulk(ctx, events)
}
