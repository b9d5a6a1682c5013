package memory

import (
	"context"
	"sort"
	"sync"

	"buywatch/internal/domain"
	"buywatch/internal/storage"
)

// TradeSampleStore is an in-memory implementation of storage.TradeSampleStore.
type TradeSampleStore struct {
	mu   sync.RWMutex
	data []*domain.TradeSample
}

// NewTradeSampleStore creates a new in-memory trade sample store.
func NewTradeSampleStore() *TradeSampleStore {
	return &TradeSampleStore{}
}

// Append adds a sample.
func (s *TradeSampleStore) Append(_ context.Context, sample *domain.TradeSample) error {
	if sample == nil || sample.TokenAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *sample
	s.data = append(s.data, &copy)
	return nil
}

// LoadSince retrieves samples with timestamp > since, ordered by timestamp ASC.
func (s *TradeSampleStore) LoadSince(_ context.Context, since int64) ([]*domain.TradeSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeSample
	for _, sample := range s.data {
		if sample.Timestamp > since {
			copy := *sample
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})
	return result, nil
}

// DeleteBefore removes samples with timestamp <= before.
func (s *TradeSampleStore) DeleteBefore(_ context.Context, before int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.data[:0]
	var deleted int64
	for _, sample := range s.data {
		if sample.Timestamp <= before {
			deleted++
			continue
		}
		kept = append(kept, sample)
	}
	for i := len(kept); i < len(s.data); i++ {
		s.data[i] = nil
	}
	s.data = kept
	return deleted, nil
}

// Len returns the number of stored samples.
func (s *TradeSampleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ storage.TradeSampleStore = (*TradeSampleStore)(nil)
