// Package replay feeds archived buys back through a trending model.
//
// Buys are replayed in archive order against a simulated clock, so a
// leaderboard can be rebuilt after a store loss or two models compared on
// the same history.
package replay

import (
	"context"
	"fmt"

	"buywatch/internal/domain"
	"buywatch/internal/storage"
)

// Engine consumes replayed buys.
type Engine interface {
	// OnBuy is called for each buy, in (timestamp, chain, tx_id, log_index) order.
	OnBuy(ctx context.Context, ev *domain.BuyEvent) error
}

// Runner loads buys from the archive and replays them.
type Runner struct {
	buys storage.BuyEventStore
}

// NewRunner creates a runner over the buy archive.
func NewRunner(buys storage.BuyEventStore) *Runner {
	return &Runner{buys: buys}
}

// Run replays buys with from <= timestamp < to through engine and returns
// how many were replayed.
func (r *Runner) Run(ctx context.Context, from, to int64, engine Engine) (int, error) {
	if from >= to {
		return 0, ErrInvalidRange
	}

	buys, err := r.buys.GetByTimeRange(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("load buys: %w", err)
	}

	SortBuys(buys)

	for i, ev := range buys {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := engine.OnBuy(ctx, ev); err != nil {
			return i, err
		}
	}
	return len(buys), nil
}
