package trending

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
)

// DecayEngine awards fixed points per trade, more at or above the whale
// threshold, and multiplies every score by the decay factor on each tick.
// Tokens decayed below the floor are deleted.
type DecayEngine struct {
	opts Options

	mu     sync.RWMutex
	tokens map[string]*domain.TrendingToken
}

// NewDecayEngine creates a decaying-points engine.
func NewDecayEngine(opts Options) *DecayEngine {
	return &DecayEngine{
		opts:   opts.withDefaults(),
		tokens: make(map[string]*domain.TrendingToken),
	}
}

// Points returns the score a trade of usd adds.
func (e *DecayEngine) Points(usd float64) float64 {
	if usd >= e.opts.WhaleThresholdUSD {
		return e.opts.WhalePoints
	}
	return e.opts.BasePoints
}

// Record implements Engine.
func (e *DecayEngine) Record(ctx context.Context, ev *domain.BuyEvent) {
	if ev == nil {
		return
	}
	now := e.opts.Clock().UnixMilli()

	e.mu.Lock()
	key := ev.Target().Key()
	t, ok := e.tokens[key]
	if !ok {
		t = &domain.TrendingToken{TokenAddress: ev.TokenAddress, Chain: ev.Chain}
		e.tokens[key] = t
	}
	t.Score += e.Points(ev.AmountUSD)
	if ev.Symbol != "" && (t.Symbol == "" || ev.Symbol != domain.PlaceholderSymbol) {
		t.Symbol = ev.Symbol
	}
	t.LastUpdate = now
	snapshot := *t
	n := len(e.tokens)
	e.mu.Unlock()

	observability.RecordTrending(n)

	if e.opts.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := e.opts.Store.Upsert(ctx, &snapshot); err != nil {
		e.opts.Logger.Warn("persist trending score failed", zap.String("token", snapshot.TokenAddress), zap.Error(err))
	}
}

// Decay applies one decay tick and returns how many tokens were dropped.
func (e *DecayEngine) Decay(ctx context.Context) int {
	e.mu.Lock()
	var (
		kept    []*domain.TrendingToken
		removed []*domain.TrendingToken
	)
	for _, key := range sortedKeys(e.tokens) {
		t := e.tokens[key]
		t.Score *= e.opts.DecayFactor
		snapshot := *t
		if t.Score < e.opts.ScoreFloor {
			delete(e.tokens, key)
			removed = append(removed, &snapshot)
			continue
		}
		kept = append(kept, &snapshot)
	}
	n := len(e.tokens)
	e.mu.Unlock()

	observability.SetTrendingTokens(n)
	if len(removed) > 0 {
		e.opts.Logger.Debug("trending tokens decayed out", zap.Int("removed", len(removed)), zap.Int("remaining", n))
	}

	if store := e.opts.Store; store != nil {
		ctx, cancel := context.WithTimeout(ctx, persistTimeout)
		defer cancel()
		if err := store.UpsertBulk(ctx, kept); err != nil {
			e.opts.Logger.Warn("persist decayed scores failed", zap.Error(err))
		}
		for _, t := range removed {
			if err := store.Delete(ctx, t.Chain, t.TokenAddress); err != nil {
				e.opts.Logger.Warn("delete trending token failed", zap.String("token", t.TokenAddress), zap.Error(err))
			}
		}
	}
	return len(removed)
}

// Score returns the current points of a token.
func (e *DecayEngine) Score(target domain.WatchTarget) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if t, ok := e.tokens[target.Key()]; ok {
		return t.Score
	}
	return 0
}

// Leaderboard implements Engine.
func (e *DecayEngine) Leaderboard(limit int) []domain.TrendingToken {
	e.mu.RLock()
	out := make([]domain.TrendingToken, 0, len(e.tokens))
	for _, key := range sortedKeys(e.tokens) {
		out = append(out, *e.tokens[key])
	}
	e.mu.RUnlock()

	return rank(out, limit)
}

// Restore implements Engine by reloading persisted scores.
func (e *DecayEngine) Restore(ctx context.Context) error {
	if e.opts.Store == nil {
		return nil
	}
	tokens, err := e.opts.Store.Top(ctx, 0)
	if err != nil {
		return fmt.Errorf("load trending scores: %w", err)
	}

	e.mu.Lock()
	for _, t := range tokens {
		if t.Score < e.opts.ScoreFloor {
			continue
		}
		cp := *t
		e.tokens[t.Target().Key()] = &cp
	}
	n := len(e.tokens)
	e.mu.Unlock()

	observability.SetTrendingTokens(n)
	e.opts.Logger.Info("trending scores restored", zap.Int("tokens", n))
	return nil
}

// Run implements Engine by decaying on every interval.
func (e *DecayEngine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.DecayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Decay(ctx)
		}
	}
}

var _ Engine = (*DecayEngine)(nil)
