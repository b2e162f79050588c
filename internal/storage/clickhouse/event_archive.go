package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/observability"
	"staking-ledger/internal/storage"
)

// EventArchive implements storage.EventArchive using ClickHouse.
// The table is a ReplacingMergeTree ordered by (pool, seq); reads use FINAL
// so a redelivered event is counted once.
type EventArchive struct {
	conn *Conn
}

// NewEventArchive creates a new EventArchive.
func NewEventArchive(conn *Conn) *EventArchive {
	return &EventArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.EventArchive = (*EventArchive)(nil)

// InsertBulk appends events in one batch.
func (a *EventArchive) InsertBulk(ctx context.Context, events []*domain.Event) (err error) {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_events", time.Since(start).Seconds(), err)
	}()

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO pool_events (id, pool, seq, kind, timestamp, payload)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", e.Kind, err)
		}
		err = batch.Append(
			e.ID,
			e.Pool.String(),
			e.Seq,
			string(e.Kind),
			e.Timestamp,
			string(payload),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByPool retrieves archived events of a pool ordered by Seq ASC.
func (a *EventArchive) GetByPool(ctx context.Context, pool domain.Pubkey) ([]*domain.Event, error) {
	query := `
		SELECT id, seq, kind, timestamp, payload
		FROM pool_events FINAL
		WHERE pool = ?
		ORDER BY seq ASC
	`

	rows, err := a.conn.Query(ctx, query, pool.String())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var result []*domain.Event
	for rows.Next() {
		var (
			e             domain.Event
			kind, payload string
		)
		if err := rows.Scan(&e.ID, &e.Seq, &kind, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Pool = pool
		e.Kind = domain.EventKind(kind)
		e.Payload, err = domain.DecodePayload(e.Kind, []byte(payload))
		if err != nil {
			return nil, err
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return result, nil
}

// CountByKind returns the number of archived events per kind for a pool.
func (a *EventArchive) CountByKind(ctx context.Context, pool domain.Pubkey) (map[domain.EventKind]uint64, error) {
	query := `
		SELECT kind, count() AS n
		FROM pool_events FINAL
		WHERE pool = ?
		GROUP BY kind
	`

	rows, err := a.conn.Query(ctx, query, pool.String())
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	result := make(map[domain.EventKind]uint64)
	for rows.Next() {
		var (
			kind string
			n    uint64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		result[domain.EventKind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counts: %w", err)
	}
	return result, nil
}
