package trending

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
)

type series struct {
	chain   domain.Chain
	address string
	samples []domain.TradeSample // timestamp ASC
}

func (s *series) insert(sample domain.TradeSample) {
	i := sort.Search(len(s.samples), func(i int) bool {
		return s.samples[i].Timestamp > sample.Timestamp
	})
	s.samples = append(s.samples, domain.TradeSample{})
	copy(s.samples[i+1:], s.samples[i:])
	s.samples[i] = sample
}

// dropThrough removes samples with timestamp <= cutoff.
func (s *series) dropThrough(cutoff int64) {
	i := sort.Search(len(s.samples), func(i int) bool {
		return s.samples[i].Timestamp > cutoff
	})
	if i > 0 {
		s.samples = append(s.samples[:0], s.samples[i:]...)
	}
}

func (s *series) last() domain.TradeSample {
	return s.samples[len(s.samples)-1]
}

// WindowEngine scores a token by the USD volume of its trades within the
// last window, divided by the minutes since the earliest of them (at least
// one). Trades are retained for the retention horizon and purged on every
// write.
type WindowEngine struct {
	window    int64 // ms
	retention int64 // ms
	opts      Options

	mu     sync.RWMutex
	tokens map[string]*series
}

// NewWindowEngine creates a sliding-window engine.
func NewWindowEngine(opts Options) *WindowEngine {
	opts = opts.withDefaults()
	return &WindowEngine{
		window:    opts.Window.Milliseconds(),
		retention: opts.Retention.Milliseconds(),
		opts:      opts,
		tokens:    make(map[string]*series),
	}
}

// Record implements Engine.
func (e *WindowEngine) Record(ctx context.Context, ev *domain.BuyEvent) {
	if ev == nil || math.IsNaN(ev.AmountUSD) || ev.AmountUSD < 0 {
		return
	}
	sample := domain.SampleFromBuy(ev)
	now := e.opts.Clock().UnixMilli()

	e.mu.Lock()
	key := ev.Target().Key()
	s, ok := e.tokens[key]
	if !ok {
		s = &series{chain: ev.Chain, address: ev.TokenAddress}
		e.tokens[key] = s
	}
	s.insert(sample)
	removed := e.purge(now)

	// The sample itself may already be past retention.
	var agg *domain.TrendingToken
	if _, live := e.tokens[key]; live {
		t := e.aggregate(s, now)
		agg = &t
	}
	n := len(e.tokens)
	e.mu.Unlock()

	observability.RecordTrending(n)
	e.persist(ctx, &sample, agg, removed)
}

// purge drops samples older than the retention horizon and tokens left
// empty. It returns the keys of removed tokens. Caller holds mu.
func (e *WindowEngine) purge(now int64) []string {
	cutoff := now - e.retention
	var removed []string
	for key, s := range e.tokens {
		s.dropThrough(cutoff)
		if len(s.samples) == 0 {
			delete(e.tokens, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// score computes the velocity of s at now in USD per minute. Caller holds mu.
func (e *WindowEngine) score(s *series, now int64) float64 {
	cutoff := now - e.window
	var (
		total    float64
		earliest int64
		count    int
	)
	for i := len(s.samples) - 1; i >= 0 && s.samples[i].Timestamp > cutoff; i-- {
		total += s.samples[i].AmountUSD
		earliest = s.samples[i].Timestamp
		count++
	}
	if count == 0 {
		return 0
	}
	minutes := math.Max(float64(now-earliest)/float64(time.Minute.Milliseconds()), 1)
	return total / minutes
}

func (e *WindowEngine) aggregate(s *series, now int64) domain.TrendingToken {
	last := s.last()
	return domain.TrendingToken{
		TokenAddress: s.address,
		Chain:        s.chain,
		Symbol:       last.Symbol,
		Score:        e.score(s, now),
		LastUpdate:   last.Timestamp,
	}
}

// Score returns the current velocity of a token.
func (e *WindowEngine) Score(target domain.WatchTarget) float64 {
	now := e.opts.Clock().UnixMilli()
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.tokens[target.Key()]
	if !ok {
		return 0
	}
	return e.score(s, now)
}

// Leaderboard implements Engine. Tokens without trades inside the window
// score zero and are excluded.
func (e *WindowEngine) Leaderboard(limit int) []domain.TrendingToken {
	now := e.opts.Clock().UnixMilli()

	e.mu.RLock()
	out := make([]domain.TrendingToken, 0, len(e.tokens))
	for _, key := range sortedKeys(e.tokens) {
		t := e.aggregate(e.tokens[key], now)
		if t.Score > 0 {
			out = append(out, t)
		}
	}
	e.mu.RUnlock()

	return rank(out, limit)
}

// Restore implements Engine by reloading samples inside the retention horizon.
func (e *WindowEngine) Restore(ctx context.Context) error {
	if e.opts.Samples == nil {
		return nil
	}
	now := e.opts.Clock().UnixMilli()
	samples, err := e.opts.Samples.LoadSince(ctx, now-e.retention)
	if err != nil {
		return fmt.Errorf("load trade samples: %w", err)
	}

	e.mu.Lock()
	for _, sample := range samples {
		target := domain.WatchTarget{Chain: sample.Chain, Address: sample.TokenAddress}
		s, ok := e.tokens[target.Key()]
		if !ok {
			s = &series{chain: sample.Chain, address: sample.TokenAddress}
			e.tokens[target.Key()] = s
		}
		s.insert(*sample)
	}
	e.purge(now)
	n := len(e.tokens)
	e.mu.Unlock()

	observability.SetTrendingTokens(n)
	e.opts.Logger.Info("trending samples restored", zap.Int("samples", len(samples)), zap.Int("tokens", n))
	return nil
}

// Run implements Engine. Each prune tick refreshes persisted aggregates,
// drops purged tokens from the store, and trims stored samples.
func (e *WindowEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.prune(ctx)
		}
	}
}

func (e *WindowEngine) prune(ctx context.Context) {
	now := e.opts.Clock().UnixMilli()

	e.mu.Lock()
	removed := e.purge(now)
	current := make([]*domain.TrendingToken, 0, len(e.tokens))
	for _, key := range sortedKeys(e.tokens) {
		t := e.aggregate(e.tokens[key], now)
		current = append(current, &t)
	}
	e.mu.Unlock()

	observability.SetTrendingTokens(len(current))

	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if store := e.opts.Store; store != nil {
		if err := store.UpsertBulk(ctx, current); err != nil {
			e.opts.Logger.Warn("persist trending scores failed", zap.Error(err))
		}
		e.deleteStored(ctx, removed)
	}
	if samples := e.opts.Samples; samples != nil {
		n, err := samples.DeleteBefore(ctx, now-e.retention)
		if err != nil {
			e.opts.Logger.Warn("trim trade samples failed", zap.Error(err))
		} else if n > 0 {
			e.opts.Logger.Debug("trade samples trimmed", zap.Int64("deleted", n))
		}
	}
}

func (e *WindowEngine) deleteStored(ctx context.Context, keys []string) {
	for _, key := range keys {
		chain, addr := splitKey(key)
		if err := e.opts.Store.Delete(ctx, chain, addr); err != nil {
			e.opts.Logger.Warn("delete trending token failed", zap.String("token", addr), zap.Error(err))
		}
	}
}

func (e *WindowEngine) persist(ctx context.Context, sample *domain.TradeSample, agg *domain.TrendingToken, removed []string) {
	if e.opts.Samples == nil && e.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if e.opts.Samples != nil {
		if err := e.opts.Samples.Append(ctx, sample); err != nil {
			e.opts.Logger.Warn("persist trade sample failed", zap.String("token", sample.TokenAddress), zap.Error(err))
		}
	}
	if e.opts.Store != nil && agg != nil {
		if err := e.opts.Store.Upsert(ctx, agg); err != nil {
			e.opts.Logger.Warn("persist trending score failed", zap.String("token", agg.TokenAddress), zap.Error(err))
		}
	}
	if e.opts.Store != nil {
		e.deleteStored(ctx, removed)
	}
}

var _ Engine = (*WindowEngine)(nil)
