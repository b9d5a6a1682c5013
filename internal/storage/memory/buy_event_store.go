package memory

import (
	"context"
	"sort"
	"sync"

	"buywatch/internal/domain"
	"buywatch/internal/idhash"
	"buywatch/internal/storage"
)

// BuyEventStore is an in-memory implementation of storage.BuyEventStore.
type BuyEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BuyEvent // keyed by buy_id
}

// NewBuyEventStore creates a new in-memory buy event store.
func NewBuyEventStore() *BuyEventStore {
	return &BuyEventStore{
		data: make(map[string]*domain.BuyEvent),
	}
}

// Insert adds a buy. Returns ErrDuplicateKey if exists.
func (s *BuyEventStore) Insert(_ context.Context, e *domain.BuyEvent) error {
	if e == nil || e.TxID == "" || e.TokenAddress == "" {
		return storage.ErrInvalidInput
	}

	key := idhash.BuyID(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *e
	s.data[key] = &copy
	return nil
}

// GetByToken retrieves the most recent buys of a token, newest first.
func (s *BuyEventStore) GetByToken(_ context.Context, chain domain.Chain, tokenAddress string, limit int) ([]*domain.BuyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BuyEvent
	for _, e := range s.data {
		if e.Chain == chain && e.TokenAddress == tokenAddress {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp > result[j].Timestamp
		}
		if result[i].TxID != result[j].TxID {
			return result[i].TxID < result[j].TxID
		}
		return result[i].LogIndex < result[j].LogIndex
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// GetByTimeRange retrieves buys with from <= timestamp < to, oldest first.
func (s *BuyEventStore) GetByTimeRange(_ context.Context, from, to int64) ([]*domain.BuyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BuyEvent
	for _, e := range s.data {
		if e.Timestamp >= from && e.Timestamp < to {
			copy := *e
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.Chain != b.Chain {
			return a.Chain < b.Chain
		}
		if a.TxID != b.TxID {
			return a.TxID < b.TxID
		}
		return a.LogIndex < b.LogIndex
	})
	return result, nil
}

var _ storage.BuyEventStore = (*BuyEventStore)(nil)
