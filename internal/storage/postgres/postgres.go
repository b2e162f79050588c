package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the connection pool shared by the substrate and migrations.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// SQLSTATE codes the ledger maps to storage errors.
const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrNumericOutOfRange   = "22003"
	pgErrCheckViolation      = "23514"
)

// sqlState returns the SQLSTATE of a server error, or "".
func sqlState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isDuplicateKeyError(err error) bool { return sqlState(err) == pgErrUniqueViolation }

// isForeignKeyError reports a missing referenced mint or account.
func isForeignKeyError(err error) bool { return sqlState(err) == pgErrForeignKeyViolation }

// isOverflowError reports a BIGINT overflow.
func isOverflowError(err error) bool { return sqlState(err) == pgErrNumericOutOfRange }

// isCheckViolation reports a CHECK failure, i.e. a negative balance or supply.
func isCheckViolation(err error) bool { return sqlState(err) == pgErrCheckViolation }

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
