package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"buywatch/internal/domain"
	"buywatch/internal/storage"
)

// TrendingStore implements storage.TrendingStore using PostgreSQL.
type TrendingStore struct {
	pool *Pool
}

// NewTrendingStore creates a new TrendingStore.
func NewTrendingStore(pool *Pool) *TrendingStore {
	return &TrendingStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TrendingStore = (*TrendingStore)(nil)

const upsertTrending = `
	INSERT INTO trending_tokens (chain, token_address, symbol, score, last_update_ms)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (chain, token_address) DO UPDATE SET
		symbol = EXCLUDED.symbol,
		score = EXCLUDED.score,
		last_update_ms = EXCLUDED.last_update_ms
`

// Upsert inserts or replaces the aggregate of a token.
func (s *TrendingStore) Upsert(ctx context.Context, t *domain.TrendingToken) (err error) {
	if t == nil || t.TokenAddress == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("upsert_trending", start, err) }()

	if _, err = s.pool.Exec(ctx, upsertTrending,
		string(t.Chain), t.TokenAddress, t.Symbol, t.Score, t.LastUpdate,
	); err != nil {
		return fmt.Errorf("upsert trending token: %w", err)
	}
	return nil
}

// UpsertBulk replaces several aggregates in one transaction.
func (s *TrendingStore) UpsertBulk(ctx context.Context, tokens []*domain.TrendingToken) (err error) {
	if len(tokens) == 0 {
		return nil
	}
	for _, t := range tokens {
		if t == nil || t.TokenAddress == "" {
			return storage.ErrInvalidInput
		}
	}
	start := time.Now()
	defer func() { observe("upsert_trending_bulk", start, err) }()

	batch := &pgx.Batch{}
	for _, t := range tokens {
		batch.Queue(upsertTrending, string(t.Chain), t.TokenAddress, t.Symbol, t.Score, t.LastUpdate)
	}

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("upsert trending tokens: %w", err)
		}
		return nil
	})
}

// Delete removes a token. Deleting an absent token is not an error.
func (s *TrendingStore) Delete(ctx context.Context, chain domain.Chain, tokenAddress string) (err error) {
	start := time.Now()
	defer func() { observe("delete_trending", start, err) }()

	if _, err = s.pool.Exec(ctx,
		`DELETE FROM trending_tokens WHERE chain = $1 AND token_address = $2`,
		string(chain), tokenAddress,
	); err != nil {
		return fmt.Errorf("delete trending token: %w", err)
	}
	return nil
}

// Top retrieves up to limit tokens ordered by score DESC. limit <= 0 returns all.
func (s *TrendingStore) Top(ctx context.Context, limit int) (_ []*domain.TrendingToken, err error) {
	start := time.Now()
	defer func() { observe("top_trending", start, err) }()

	query := `
		SELECT chain, token_address, symbol, score, last_update_ms
		FROM trending_tokens
		ORDER BY score DESC, chain ASC, token_address ASC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trending tokens: %w", err)
	}
	defer rows.Close()

	var result []*domain.TrendingToken
	for rows.Next() {
		var (
			t     domain.TrendingToken
			chain string
		)
		if err := rows.Scan(&chain, &t.TokenAddress, &t.Symbol, &t.Score, &t.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan trending token: %w", err)
		}
		t.Chain = domain.Chain(chain)
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trending tokens: %w", err)
	}
	return result, nil
}
