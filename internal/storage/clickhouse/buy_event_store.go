package clickhouse

import (
	"context"
	"fmt"
	"time"

	"buywatch/internal/domain"
	"buywatch/internal/idhash"
	"buywatch/internal/storage"
)

// BuyEventStore implements storage.BuyEventStore using ClickHouse.
type BuyEventStore struct {
	conn *Conn
}

// NewBuyEventStore creates a new BuyEventStore.
func NewBuyEventStore(conn *Conn) *BuyEventStore {
	return &BuyEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BuyEventStore = (*BuyEventStore)(nil)

const insertBuyEvents = `
	INSERT INTO buy_events (
		buy_id, chain, token_address, symbol, buyer,
		native_spent, token_received, amount_usd, market_cap,
		tx_id, log_index, dex, venue, slot, timestamp_ms, is_new_holder
	)
`

// Insert adds a buy. Returns ErrDuplicateKey if its buy_id exists.
func (s *BuyEventStore) Insert(ctx context.Context, e *domain.BuyEvent) error {
	return s.InsertBulk(ctx, []*domain.BuyEvent{e})
}

// InsertBulk adds several buys in one batch. Fails the entire batch on any
// duplicate, existing or intra-batch.
func (s *BuyEventStore) InsertBulk(ctx context.Context, events []*domain.BuyEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { observe("insert_buy_events", start, err) }()

	ids := make([]string, len(events))
	seen := make(map[string]struct{}, len(events))
	for i, e := range events {
		if e == nil || e.TxID == "" || e.TokenAddress == "" {
			return storage.ErrInvalidInput
		}
		id := idhash.BuyID(e)
		if _, exists := seen[id]; exists {
			return storage.ErrDuplicateKey
		}
		seen[id] = struct{}{}
		ids[i] = id
	}

	// MergeTree does not enforce uniqueness; check explicitly.
	for _, id := range ids {
		exists, err := s.exists(ctx, id)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, insertBuyEvents)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for i, e := range events {
		var newHolder uint8
		if e.IsNewHolder {
			newHolder = 1
		}
		err = batch.Append(
			ids[i], string(e.Chain), e.TokenAddress, e.Symbol, e.Buyer,
			e.NativeSpent, e.TokenReceived, e.AmountUSD, e.MarketCap,
			e.TxID, uint32(e.LogIndex), e.Dex, e.Venue, uint64(e.Slot), uint64(e.Timestamp), newHolder,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByToken retrieves the most recent buys of a token, newest first.
func (s *BuyEventStore) GetByToken(ctx context.Context, chain domain.Chain, tokenAddress string, limit int) (_ []*domain.BuyEvent, err error) {
	start := time.Now()
	defer func() { observe("get_buy_events", start, err) }()

	query := `
		SELECT chain, token_address, symbol, buyer,
			native_spent, token_received, amount_usd, market_cap,
			tx_id, log_index, dex, venue, slot, timestamp_ms, is_new_holder
		FROM buy_events FINAL
		WHERE chain = ? AND token_address = ?
		ORDER BY timestamp_ms DESC, tx_id ASC, log_index ASC
	`
	args := []interface{}{string(chain), tokenAddress}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
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
		FROM buy_events FINAL
		WHERE timestamp_ms >= ? AND timestamp_ms < ?
		ORDER BY timestamp_ms ASC, chain ASC, tx_id ASC, log_index ASC
	`
	rows, err := s.conn.Query(ctx, query, uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("query buy events by time range: %w", err)
	}
	defer rows.Close()

	return scanBuyEvents(rows)
}

// exists checks if a buy with the given id exists.
func (s *BuyEventStore) exists(ctx context.Context, buyID string) (bool, error) {
	query := `SELECT count(*) FROM buy_events WHERE buy_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, buyID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// chRows is the subset of driver.Rows the scanners use.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanBuyEvents scans multiple rows.
func scanBuyEvents(rows chRows) ([]*domain.BuyEvent, error) {
	var events []*domain.BuyEvent

	for rows.Next() {
		var (
			e           domain.BuyEvent
			chain       string
			logIndex    uint32
			slot        uint64
			timestampMs uint64
			newHolder   uint8
		)
		err := rows.Scan(
			&chain, &e.TokenAddress, &e.Symbol, &e.Buyer,
			&e.NativeSpent, &e.TokenReceived, &e.AmountUSD, &e.MarketCap,
			&e.TxID, &logIndex, &e.Dex, &e.Venue, &slot, &timestampMs, &newHolder,
		)
		if err != nil {
			return nil, fmt.Errorf("scan buy event row: %w", err)
		}

		e.Chain = domain.Chain(chain)
		e.LogIndex = int(logIndex)
		e.Slot = int64(slot)
		e.Timestamp = int64(timestampMs)
		e.IsNewHolder = newHolder == 1
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buy event rows: %w", err)
	}

	return events, nil
}
