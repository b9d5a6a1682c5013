package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"buywatch/internal/config"
	"buywatch/internal/storage"
	chstore "buywatch/internal/storage/clickhouse"
	"buywatch/internal/storage/memory"
	pgstore "buywatch/internal/storage/postgres"
)

// stores bundles the persistence the run command needs.
type stores struct {
	trending storage.TrendingStore
	samples  storage.TradeSampleStore
	buys     storage.BuyEventStore

	pg *pgstore.Pool
	ch *chstore.Conn
}

// openStores selects Postgres when a DSN is configured and memory otherwise.
// A ClickHouse DSN moves the buy archive to ClickHouse.
func openStores(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (*stores, error) {
	s := &stores{}

	if cfg.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if _, err := pool.Migrate(ctx, logger.Named("migrations")); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		s.pg = pool
		s.trending = pgstore.NewTrendingStore(pool)
		s.samples = pgstore.NewTradeSampleStore(pool)
		s.buys = pgstore.NewBuyEventStore(pool)
		logger.Info("using postgres storage")
	} else {
		s.trending = memory.NewTrendingStore()
		s.samples = memory.NewTradeSampleStore()
		s.buys = memory.NewBuyEventStore()
		logger.Info("using in-memory storage")
	}

	if cfg.ClickhouseDSN != "" {
		conn, _, err := chstore.Migrate(ctx, cfg.ClickhouseDSN, logger.Named("migrations"))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("clickhouse migrations: %w", err)
		}
		s.ch = conn
		s.buys = chstore.NewBuyEventStore(conn)
		logger.Info("using clickhouse buy archive")
	}

	return s, nil
}

func (s *stores) Close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.pg != nil {
		s.pg.Close()
	}
}
