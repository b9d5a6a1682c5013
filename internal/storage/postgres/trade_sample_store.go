package postgres

import (
	"context"
	"fmt"
	"time"

	"buywatch/internal/domain"
	"buywatch/internal/storage"
)

// TradeSampleStore implements storage.TradeSampleStore using PostgreSQL.
type TradeSampleStore struct {
	pool *Pool
}

// NewTradeSampleStore creates a new TradeSampleStore.
func NewTradeSampleStore(pool *Pool) *TradeSampleStore {
	return &TradeSampleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeSampleStore = (*TradeSampleStore)(nil)

// Append adds a sample.
func (s *TradeSampleStore) Append(ctx context.Context, sample *domain.TradeSample) (err error) {
	if sample == nil || sample.TokenAddress == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("append_trade_sample", start, err) }()

	query := `
		INSERT INTO trade_samples (chain, token_address, symbol, amount_usd, timestamp_ms)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err = s.pool.Exec(ctx, query,
		string(sample.Chain), sample.TokenAddress, sample.Symbol, sample.AmountUSD, sample.Timestamp,
	); err != nil {
		return fmt.Errorf("insert trade sample: %w", err)
	}
	return nil
}

// LoadSince retrieves samples with timestamp > since, ordered by timestamp ASC.
func (s *TradeSampleStore) LoadSince(ctx context.Context, since int64) (_ []*domain.TradeSample, err error) {
	start := time.Now()
	defer func() { observe("load_trade_samples", start, err) }()

	query := `
		SELECT chain, token_address, symbol, amount_usd, timestamp_ms
		FROM trade_samples
		WHERE timestamp_ms > $1
		ORDER BY timestamp_ms ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query trade samples: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeSample
	for rows.Next() {
		var (
			sample domain.TradeSample
			chain  string
		)
		if err := rows.Scan(&chain, &sample.TokenAddress, &sample.Symbol, &sample.AmountUSD, &sample.Timestamp); err != nil {
			return nil, fmt.Errorf("scan trade sample: %w", err)
		}
		sample.Chain = domain.Chain(chain)
		result = append(result, &sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade samples: %w", err)
	}
	return result, nil
}

// DeleteBefore removes samples with timestamp <= before.
func (s *TradeSampleStore) DeleteBefore(ctx context.Context, before int64) (_ int64, err error) {
	start := time.Now()
	defer func() { observe("delete_trade_samples", start, err) }()

	tag, err := s.pool.Exec(ctx, `DELETE FROM trade_samples WHERE timestamp_ms <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete trade samples: %w", err)
	}
	return tag.RowsAffected(), nil
}
