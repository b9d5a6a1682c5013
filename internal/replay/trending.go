package replay

import (
	"context"
	"time"

	"buywatch/internal/domain"
	"buywatch/internal/trending"
)

type decayer interface {
	Decay(ctx context.Context) int
}

// Trending replays buys into a fresh trending engine. The engine's clock
// follows the replayed timestamps, and for the decay model every elapsed
// decay interval since start applies one tick.
type Trending struct {
	engine trending.Engine
	now    time.Time

	decay    decayer
	interval time.Duration
	nextTick time.Time
}

// NewTrending creates a replay target for model, starting at start (Unix
// ms). Store and Samples in opts are ignored; replay never writes back.
func NewTrending(model string, start int64, opts trending.Options) (*Trending, error) {
	t := &Trending{now: time.UnixMilli(start)}

	opts.Clock = func() time.Time { return t.now }
	opts.Store = nil
	opts.Samples = nil

	engine, err := trending.New(model, opts)
	if err != nil {
		return nil, err
	}
	t.engine = engine

	if d, ok := engine.(decayer); ok {
		t.decay = d
		t.interval = opts.DecayInterval
		if t.interval <= 0 {
			t.interval = trending.DefaultDecayInterval
		}
		t.nextTick = t.now.Add(t.interval)
	}
	return t, nil
}

// OnBuy implements Engine.
func (t *Trending) OnBuy(ctx context.Context, ev *domain.BuyEvent) error {
	t.advance(ctx, time.UnixMilli(ev.Timestamp))
	t.engine.Record(ctx, ev)
	return nil
}

// Leaderboard returns the board as it stood at the given time (Unix ms).
func (t *Trending) Leaderboard(ctx context.Context, at int64, limit int) []domain.TrendingToken {
	t.advance(ctx, time.UnixMilli(at))
	return t.engine.Leaderboard(limit)
}

func (t *Trending) advance(ctx context.Context, to time.Time) {
	if to.Before(t.now) {
		return
	}
	if t.decay != nil {
		for !t.nextTick.After(to) {
			t.now = t.nextTick
			t.decay.Decay(ctx)
			t.nextTick = t.nextTick.Add(t.interval)
		}
	}
	t.now = to
}
