package domain

// TrendingToken is the per-token momentum aggregate.
type TrendingToken struct {
	TokenAddress string
	Chain        Chain
	Symbol       string
	Score        float64
	LastUpdate   int64 // Unix ms
}

// Target returns the watch target of the token.
func (t *TrendingToken) Target() WatchTarget {
	return WatchTarget{Chain: t.Chain, Address: t.TokenAddress}
}

// TradeSample is a retained per-trade record for the sliding-window model.
type TradeSample struct {
	TokenAddress string
	Chain        Chain
	Symbol       string
	AmountUSD    float64
	Timestamp    int64 // Unix ms
}

// SampleFromBuy converts a buy event into a trade sample.
func SampleFromBuy(e *BuyEvent) TradeSample {
	return TradeSample{
		TokenAddress: e.TokenAddress,
		Chain:        e.Chain,
		Symbol:       e.Symbol,
		AmountUSD:    e.AmountUSD,
		Timestamp:    e.Timestamp,
	}
}
