package clickhouse

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"buywatch/internal/storage/migrations"
)

// Migrate creates the DSN's database if needed, applies pending schema
// migrations and returns a connection to it with the number applied.
// ClickHouse DDL is not transactional; every statement is written to be
// safe to re-run after a partial failure.
func Migrate(ctx context.Context, dsn string, logger *zap.Logger) (*Conn, int, error) {
	opts, err := options(dsn)
	if err != nil {
		return nil, 0, err
	}
	db := opts.Auth.Database
	if db == "" {
		return nil, 0, errors.New("clickhouse dsn missing database")
	}
	if !databaseName.MatchString(db) {
		return nil, 0, fmt.Errorf("clickhouse database name %q is not a plain identifier", db)
	}

	migs, err := migrations.Load(migrations.Clickhouse)
	if err != nil {
		return nil, 0, err
	}

	admin := *opts
	admin.Auth.Database = ""
	adminConn, err := open(ctx, &admin)
	if err != nil {
		return nil, 0, err
	}
	err = adminConn.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+db)
	_ = adminConn.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("create database %s: %w", db, err)
	}

	conn, err := open(ctx, opts)
	if err != nil {
		return nil, 0, err
	}
	n, err := migrations.Run(ctx, migrator{conn}, migs, logger)
	if err != nil {
		_ = conn.Close()
		return nil, n, err
	}
	return conn, n, nil
}

type migrator struct{ conn *Conn }

func (m migrator) EnsureVersionTable(ctx context.Context) error {
	return m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    UInt32,
			name       String,
			applied_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(applied_at)
		ORDER BY version`)
}

func (m migrator) AppliedVersions(ctx context.Context) ([]int, error) {
	rows, err := m.conn.Query(ctx, `SELECT DISTINCT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v uint32
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, int(v))
	}
	return out, rows.Err()
}

func (m migrator) Apply(ctx context.Context, mig migrations.Migration) error {
	for i, stmt := range mig.Statements {
		if err := m.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	return m.conn.Exec(ctx,
		`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
		uint32(mig.Version), mig.Name)
}
