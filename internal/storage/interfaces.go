package storage

import (
	"context"

	"buywatch/internal/domain"
)

// BuyEventStore provides access to the buy_events archive.
type BuyEventStore interface {
	// Insert adds a buy. Returns ErrDuplicateKey if its buy_id exists.
	Insert(ctx context.Context, e *domain.BuyEvent) error

	// GetByToken retrieves the most recent buys of a token, newest first.
	// A limit <= 0 returns all.
	GetByToken(ctx context.Context, chain domain.Chain, tokenAddress string, limit int) ([]*domain.BuyEvent, error)

	// GetByTimeRange retrieves buys with from <= timestamp < to, oldest
	// first, ties broken by (chain, tx_id, log_index).
	GetByTimeRange(ctx context.Context, from, to int64) ([]*domain.BuyEvent, error)
}

// TrendingStore provides access to trending_tokens storage.
type TrendingStore interface {
	// Upsert inserts or replaces the aggregate of a token.
	Upsert(ctx context.Context, t *domain.TrendingToken) error

	// UpsertBulk replaces the aggregates of several tokens atomically.
	UpsertBulk(ctx context.Context, tokens []*domain.TrendingToken) error

	// Delete removes a token. Deleting an absent token is not an error.
	Delete(ctx context.Context, chain domain.Chain, tokenAddress string) error

	// Top retrieves up to limit tokens, ordered by score DESC.
	// A limit <= 0 returns all.
	Top(ctx context.Context, limit int) ([]*domain.TrendingToken, error)
}

// TradeSampleStore provides access to trade_samples storage.
type TradeSampleStore interface {
	// Append adds a sample. Samples are not deduplicated.
	Append(ctx context.Context, s *domain.TradeSample) error

	// LoadSince retrieves samples with timestamp > since, ordered by timestamp ASC.
	LoadSince(ctx context.Context, since int64) ([]*domain.TradeSample, error)

	// DeleteBefore removes samples with timestamp <= before and returns how many.
	DeleteBefore(ctx context.Context, before int64) (int64, error)
}
