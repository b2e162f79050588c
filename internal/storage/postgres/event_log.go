package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"staking-ledger/internal/domain"
	"staking-ledger/internal/storage"
)

// AppendEvent assigns the next sequence number of e.Pool and stores e.
// Callers hold the pool row lock, so MAX(seq) cannot race.
func (t *ledgerTx) AppendEvent(ctx context.Context, e *domain.Event) error {
	if e == nil || e.Pool.IsZero() || !e.Kind.IsValid() {
		return storage.ErrInvalidInput
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", e.Kind, err)
	}

	var seq int64
	err = t.tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM pool_events WHERE pool = $1`,
		e.Pool.String(),
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("next event seq: %w", err)
	}

	query := `
		INSERT INTO pool_events (id, pool, seq, kind, timestamp, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = t.tx.Exec(ctx, query, e.ID, e.Pool.String(), seq, string(e.Kind), e.Timestamp, payload)
	if err != nil {
		return wrapWriteError("insert event", err)
	}

	e.Seq = uint64(seq)
	return nil
}

// ListEvents retrieves events of a pool with Seq > afterSeq, ordered by Seq ASC.
func (t *ledgerTx) ListEvents(ctx context.Context, pool domain.Pubkey, afterSeq uint64, limit int) ([]*domain.Event, error) {
	query := `
		SELECT id, seq, kind, timestamp, payload
		FROM pool_events
		WHERE pool = $1 AND seq > $2
		ORDER BY seq ASC
	`
	args := []any{pool.String(), int64(afterSeq)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var result []*domain.Event
	for rows.Next() {
		var (
			e       domain.Event
			seq     int64
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &seq, &kind, &e.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Pool = pool
		e.Seq = uint64(seq)
		e.Kind = domain.EventKind(kind)
		e.Payload, err = domain.DecodePayload(e.Kind, payload)
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
