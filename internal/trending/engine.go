// Package trending ranks watched tokens by momentum.
//
// Two models are provided. WindowEngine scores a token by USD volume per
// minute over the last hour. DecayEngine awards fixed points per trade and
// decays every score on a timer. Both are safe for concurrent use.
package trending

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/storage"
)

// Engine is a momentum model.
type Engine interface {
	// Record folds a buy into its token's momentum. Persistence failures
	// are logged, not returned.
	Record(ctx context.Context, ev *domain.BuyEvent)

	// Leaderboard returns at most limit tokens, score descending.
	Leaderboard(limit int) []domain.TrendingToken

	// Restore loads persisted state. Without a store it is a no-op.
	Restore(ctx context.Context) error

	// Run performs periodic maintenance until ctx is done.
	Run(ctx context.Context)
}

// Model names accepted by New.
const (
	ModelWindow = "window"
	ModelDecay  = "decay"
)

// Clock returns the current time.
type Clock func() time.Time

// Defaults.
const (
	DefaultWindow        = time.Hour
	DefaultRetention     = 24 * time.Hour
	DefaultPruneInterval = 10 * time.Minute

	DefaultWhaleThresholdUSD = 1000
	DefaultWhalePoints       = 5
	DefaultBasePoints        = 1
	DefaultDecayInterval     = 30 * time.Minute
	DefaultDecayFactor       = 0.9
	DefaultScoreFloor        = 0.1
)

// Options configures either engine. Zero values take defaults.
type Options struct {
	Clock  Clock
	Logger *zap.Logger

	// Store receives per-token aggregates; Samples receives raw trades
	// (window model only). Both are optional.
	Store   storage.TrendingStore
	Samples storage.TradeSampleStore

	// Window model.
	Window        time.Duration
	Retention     time.Duration
	PruneInterval time.Duration

	// Decay model.
	WhaleThresholdUSD float64
	WhalePoints       float64
	BasePoints        float64
	DecayInterval     time.Duration
	DecayFactor       float64
	ScoreFloor        float64
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	if o.Retention < o.Window {
		o.Retention = o.Window
	}
	if o.PruneInterval <= 0 {
		o.PruneInterval = DefaultPruneInterval
	}
	if o.WhaleThresholdUSD <= 0 {
		o.WhaleThresholdUSD = DefaultWhaleThresholdUSD
	}
	if o.WhalePoints <= 0 {
		o.WhalePoints = DefaultWhalePoints
	}
	if o.BasePoints <= 0 {
		o.BasePoints = DefaultBasePoints
	}
	if o.DecayInterval <= 0 {
		o.DecayInterval = DefaultDecayInterval
	}
	if o.DecayFactor <= 0 || o.DecayFactor >= 1 {
		o.DecayFactor = DefaultDecayFactor
	}
	if o.ScoreFloor <= 0 {
		o.ScoreFloor = DefaultScoreFloor
	}
	return o
}

// persistTimeout bounds one store write made from Record or Run.
const persistTimeout = 5 * time.Second

// New builds the engine for model.
func New(model string, opts Options) (Engine, error) {
	switch strings.ToLower(model) {
	case ModelWindow, "":
		return NewWindowEngine(opts), nil
	case ModelDecay:
		return NewDecayEngine(opts), nil
	default:
		return nil, fmt.Errorf("unknown trending model %q", model)
	}
}

// rank sorts tokens by score descending and truncates to limit. Ties keep
// input order.
func rank(tokens []domain.TrendingToken, limit int) []domain.TrendingToken {
	if limit <= 0 {
		return []domain.TrendingToken{}
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].Score > tokens[j].Score
	})
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens
}

// sortedKeys returns the keys of m in order, so ranking ties come out the
// same on every call.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitKey(key string) (domain.Chain, string) {
	chain, addr, _ := strings.Cut(key, ":")
	return domain.Chain(chain), addr
}
