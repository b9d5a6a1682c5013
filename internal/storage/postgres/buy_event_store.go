package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"buywatch/internal/domain"
	"buywatch/internal/idhash"
	"buywatch/internal/storage"
)

// BuyEventStore implements storage.BuyEventStore using PostgreSQL.
type BuyEventStore struct {
	pool *Pool
}

// NewBuyEventStore creates a new BuyEventStore.
func NewBuyEventStore(pool *Pool) *BuyEventStore {
	return &BuyEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BuyEventStore = (*BuyEventStore)(nil)

const insertBuyEvent = `
	INSERT INTO buy_events (
		buy_id, chain, token_address, symbol, buyer,
		native_spent, token_received, amount_usd, market_cap,
		tx_id, log_index, dex, venue, slot, timestamp_ms, is_new_holder
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9,
		$10, $11, $12, $13, $14, $15, $16
	)
`

func buyEventArgs(e *domain.BuyEvent) []any {
	return []any{
		idhash.BuyID(e), string(e.Chain), e.TokenAddress, e.Symbol, e.Buyer,
		e.NativeSpent, e.TokenReceived, e.AmountUSD, e.MarketCap,
		e.TxID, e.LogIndex, e.Dex, e.Venue, e.Slot, e.Timestamp, e.IsNewHolder,
	}
}

// Insert adds a buy. Returns ErrDuplicateKey if its buy_id exists.
func (s *BuyEventStore) Insert(ctx context.Context, e *domain.BuyEvent) (err error) {
	if e == nil || e.TxID == "" || e.TokenAddress == "" {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("insert_buy_event", start, err) }()

	if _, err = s.pool.Exec(ctx, insertBuyEvent, buyEventArgs(e)...); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert buy event: %w", err)
	}
	return nil
}

// InsertBulk adds multiple buys atomically. Fails entire batch on any duplicate.
func (s *BuyEventStore) InsertBulk(ctx context.Context, events []*domain.BuyEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.TxID == "" || e.TokenAddress == "" {
			return storage.ErrInvalidInput
		}
	}
	start := time.Now()
	defer func() { observe("insert_buy_events", start, err) }()

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		for _, e := range events {
			if _, err := tx.Exec(ctx, insertBuyEvent, buyEventArgs(e)...); err != nil {
				if isDuplicateKeyError(err) {
					return storage.ErrDuplicateKey
				}
				return fmt.Errorf("insert buy event in bulk: %w", err)
			}
		}
		return nil
	})
}

// GetByToken retrieves the most recent buys of a token, newest first.
func (s *BuyEventStore) GetByToken(ctx context.Context, chain domain.Chain, tokenAddress string, limit int) (_ []*domain.BuyEvent, err error) {
	start := time.Now()
	defer func() { observe("get_buy_events", start, err) }()

	query := `
		SELECT chain, token_address, symbol, buyer,
			native_spent, token_received, amount_usd, market_cap,
			tx_id, log_index, dex, venue, slot, timestamp_ms, is_new_holder
		FROM buy_events
		WHERE chain = $1 AND token_address = $2
		ORDER BY timestamp_ms DESC, tx_id ASC, log_index ASC
	`
	args := []any{string(chain), tokenAddress}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query buy events by token: %w", err)
	}
	defer rows.Close()

	return scanBuyEvents(rows)
}

// GetByTimeRange retrieves buys with from <= timestamp < to, oldest first.
func (s *BuyEventStore) GetByTimeRange(ctx context.Context, from, to int64) (_ []*domain.BuyEvent, err error) {
	start := time.Now()
	defer func() { observe("get_buy_events_range", start, err) }()

	query := `
		SELECT chain, token_address, symbol, buyer,
			native_spent, token_received, amount_usd, market_cap,
			tx_id, log_index, dex, venue, slot, timestamp_ms, is_new_holder
		FROM buy_events
		WHERE timestamp_ms >= $1 AND timestamp_ms < $2
		ORDER BY timestamp_ms ASC, chain ASC, tx_id ASC, log_index ASC
	`
	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query buy events by time range: %w", err)
	}
	defer rows.Close()

	return scanBuyEvents(rows)
}

func scanBuyEvents(rows pgx.Rows) ([]*domain.BuyEvent, error) {
	var events []*domain.BuyEvent

	for rows.Next() {
		var (
			e     domain.BuyEvent
			chain string
		)
		err := rows.Scan(
			&chain, &e.TokenAddress, &e.Symbol, &e.Buyer,
			&e.NativeSpent, &e.TokenReceived, &e.AmountUSD, &e.MarketCap,
			&e.TxID, &e.LogIndex, &e.Dex, &e.Venue, &e.Slot, &e.Timestamp, &e.IsNewHolder,
		)
		if err != nil {
			return nil, fmt.Errorf("scan buy event: %w", err)
		}
		e.Chain = domain.Chain(chain)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buy events: %w", err)
	}

	return events, nil
}
