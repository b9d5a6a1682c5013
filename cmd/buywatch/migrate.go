package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"buywatch/internal/config"
	"buywatch/internal/logging"
	chstore "buywatch/internal/storage/clickhouse"
	pgstore "buywatch/internal/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations for the configured stores",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Storage.PostgresDSN == "" && cfg.Storage.ClickhouseDSN == "" {
		return errors.New("no database configured: set storage.postgres_dsn or storage.clickhouse_dsn")
	}

	ctx := cmd.Context()
	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		n, err := pool.Migrate(ctx, logger)
		if err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		logger.Info("postgres schema up to date", zap.Int("applied", n))
	}

	if cfg.Storage.ClickhouseDSN != "" {
		conn, n, err := chstore.Migrate(ctx, cfg.Storage.ClickhouseDSN, logger)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		defer func() {
			if err := conn.Close(); err != nil {
				logger.Warn("close clickhouse", zap.Error(err))
			}
		}()
		logger.Info("clickhouse schema up to date", zap.Int("applied", n), zap.String("database", conn.Database()))
	}
	return nil
}
