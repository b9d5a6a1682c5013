// Package venue discovers the liquidity venue (pair, pool or bonding curve)
// to subscribe to for a watched token.
package venue

import (
	"context"
	"errors"

	"buywatch/internal/domain"
	"buywatch/internal/marketdata"
)

// ErrNotFound is returned when no venue could be resolved. Callers retry on
// the next reconciliation.
var ErrNotFound = errors.New("venue not found")

// Kind distinguishes venue types.
type Kind string

// Venue kinds.
const (
	KindPair         Kind = "pair"          // Uniswap V2 style pair
	KindPool         Kind = "pool"          // listed Solana AMM pool
	KindBondingCurve Kind = "bonding_curve" // pump.fun bonding curve account
)

// Venue is the resolved liquidity venue of a watch target.
type Venue struct {
	Target  domain.WatchTarget
	Address string
	Kind    Kind
	Dex     string

	// Pair legs read from the pair contract (EVM only, lowercased hex).
	Token0 string
	Token1 string

	// Snapshot from the market-data aggregator at resolution time; nil for
	// bonding curves that are not listed yet.
	Pair *marketdata.Pair
}

// Resolver resolves a target's venue. Every failure is reported as an error
// wrapping ErrNotFound.
type Resolver interface {
	Resolve(ctx context.Context, target domain.WatchTarget) (*Venue, error)
}
