package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"buywatch/internal/storage/migrations"
)

// Migrate applies pending schema migrations and returns how many ran.
// Each migration commits together with its schema_migrations row.
func (p *Pool) Migrate(ctx context.Context, logger *zap.Logger) (int, error) {
	migs, err := migrations.Load(migrations.Postgres)
	if err != nil {
		return 0, err
	}
	return migrations.Run(ctx, migrator{p}, migs, logger)
}

type migrator struct{ pool *Pool }

func (m migrator) EnsureVersionTable(ctx context.Context) error {
	_, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	return err
}

func (m migrator) AppliedVersions(ctx context.Context) ([]int, error) {
	rows, err := m.pool.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int])
}

func (m migrator) Apply(ctx context.Context, mig migrations.Migration) error {
	return m.pool.inTx(ctx, func(tx pgx.Tx) error {
		for i, stmt := range mig.Statements {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
			mig.Version, mig.Name)
		return err
	})
}
