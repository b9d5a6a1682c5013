package domain

import (
	"errors"
	"fmt"
	"math"
)

// Enrichment placeholders used when market data is unavailable.
const (
	PlaceholderSymbol    = "TOKEN"
	PlaceholderMarketCap = "Unknown"
	DefaultTokenDecimals = 18
)

// ErrNotABuy is returned by Validate when an event does not satisfy the buy invariants.
var ErrNotABuy = errors.New("not a buy")

// BuyEvent is a classified buy of a watched token paid with the chain's native asset.
type BuyEvent struct {
	TokenAddress  string
	Chain         Chain
	Symbol        string
	Buyer         string
	NativeSpent   float64 // native units (ETH, SOL)
	TokenReceived float64 // token units, decimals applied
	AmountUSD     float64
	MarketCap     string
	TxID          string // tx hash or signature
	LogIndex      int    // position of the swap log within the tx; 0 on Solana
	Dex           string
	Venue         string // pool, pair or bonding-curve address
	Slot          int64  // block number on EVM
	Timestamp     int64  // Unix ms, detection time
	IsNewHolder   bool
}

// Target returns the watch target the event belongs to.
func (e *BuyEvent) Target() WatchTarget {
	return WatchTarget{Chain: e.Chain, Address: e.TokenAddress}
}

// Validate checks that both legs are positive and finite.
func (e *BuyEvent) Validate() error {
	if e.TxID == "" {
		return fmt.Errorf("%w: empty tx id", ErrNotABuy)
	}
	if !(e.NativeSpent > 0) || math.IsInf(e.NativeSpent, 0) {
		return fmt.Errorf("%w: native spent %v", ErrNotABuy, e.NativeSpent)
	}
	if !(e.TokenReceived > 0) || math.IsInf(e.TokenReceived, 0) {
		return fmt.Errorf("%w: token received %v", ErrNotABuy, e.TokenReceived)
	}
	return nil
}

// FormatMarketCap renders a fully diluted valuation as a compact USD label.
func FormatMarketCap(fdv *float64) string {
	if fdv == nil || *fdv <= 0 || math.IsNaN(*fdv) || math.IsInf(*fdv, 0) {
		return PlaceholderMarketCap
	}
	v := *fdv
	switch {
	case v >= 1e9:
		return fmt.Sprintf("$%.1fB", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("$%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("$%.1fK", v/1e3)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}
