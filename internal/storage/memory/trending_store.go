package memory

import (
	"context"
	"sort"
	"sync"

	"buywatch/internal/domain"
	"buywatch/internal/storage"
)

// TrendingStore is an in-memory implementation of storage.TrendingStore.
type TrendingStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TrendingToken // keyed by chain:address
}

// NewTrendingStore creates a new in-memory trending store.
func NewTrendingStore() *TrendingStore {
	return &TrendingStore{
		data: make(map[string]*domain.TrendingToken),
	}
}

// Upsert inserts or replaces the aggregate of a token.
func (s *TrendingStore) Upsert(_ context.Context, t *domain.TrendingToken) error {
	if t == nil || t.TokenAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *t
	s.data[t.Target().Key()] = &copy
	return nil
}

// UpsertBulk replaces several aggregates atomically.
func (s *TrendingStore) UpsertBulk(_ context.Context, tokens []*domain.TrendingToken) error {
	for _, t := range tokens {
		if t == nil || t.TokenAddress == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range tokens {
		copy := *t
		s.data[t.Target().Key()] = &copy
	}
	return nil
}

// Delete removes a token.
func (s *TrendingStore) Delete(_ context.Context, chain domain.Chain, tokenAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, domain.WatchTarget{Chain: chain, Address: tokenAddress}.Key())
	return nil
}

// Top retrieves up to limit tokens ordered by score DESC.
func (s *TrendingStore) Top(_ context.Context, limit int) ([]*domain.TrendingToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TrendingToken, 0, len(s.data))
	for _, t := range s.data {
		copy := *t
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].Target().Key() < result[j].Target().Key()
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.TrendingStore = (*TrendingStore)(nil)
