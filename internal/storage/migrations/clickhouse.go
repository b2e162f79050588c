package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "staking-ledger/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database if needed and applies the
// archive schema. The returned connection targets that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (*chstore.Conn, error) {
	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := createDatabase(ctx, dsn, dbName); err != nil {
		return nil, err
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}

	for _, m := range files {
		stmts, err := splitStatements(m.SQL)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("migration %s: %w", m.Version, err)
		}
		// The native protocol executes one statement per call.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				conn.Close()
				return nil, fmt.Errorf("apply migration %s: %w", m.Version, err)
			}
		}
	}

	return conn, nil
}

func createDatabase(ctx context.Context, dsn, name string) error {
	admin, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return fmt.Errorf("connect clickhouse admin: %w", err)
	}
	defer admin.Close()

	if err := admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", name)); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// splitStatements splits on top-level semicolons. Line comments are dropped;
// semicolons inside quoted strings are rejected rather than parsed.
func splitStatements(sql string) ([]string, error) {
	var body strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	text := body.String()
	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case ch == '\'' && inString && i+1 < len(text) && text[i+1] == '\'':
			current.WriteString("''")
			i++
			continue
		case ch == '\'':
			inString = !inString
		case ch == ';' && inString:
			return nil, fmt.Errorf("semicolon inside string literal at offset %d", i)
		case ch == ';':
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
			continue
		}
		current.WriteByte(ch)
	}
	if inString {
		return nil, fmt.Errorf("unterminated string literal")
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		stmts = append(stmts, stmt)
	}
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
