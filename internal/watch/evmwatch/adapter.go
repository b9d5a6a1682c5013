// Package evmwatch classifies Uniswap V2 Swap logs into buys.
package evmwatch

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/ethereum"
	"buywatch/internal/marketdata"
	"buywatch/internal/observability"
	"buywatch/internal/venue"
	"buywatch/internal/watch"
)

// DefaultDustFloor is the minimum ETH a buy must exceed (about $1).
const DefaultDustFloor = 0.0004

const nativeDecimals = 18

// Chain is the node access the adapter needs.
type Chain interface {
	SubscribeSwaps(ctx context.Context, pair common.Address, handler func(*ethereum.Swap)) (watch.Subscription, error)
	TokenDecimals(ctx context.Context, token common.Address) uint8
	BalanceAt(ctx context.Context, token, holder common.Address, block *big.Int) (*big.Int, error)
}

// FromConnector adapts an ethereum.Connector to Chain.
func FromConnector(c *ethereum.Connector) Chain {
	return connectorChain{c}
}

type connectorChain struct {
	*ethereum.Connector
}

func (c connectorChain) SubscribeSwaps(ctx context.Context, pair common.Address, handler func(*ethereum.Swap)) (watch.Subscription, error) {
	sub, err := c.Connector.SubscribeSwaps(ctx, pair, handler)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Config holds classifier settings.
type Config struct {
	DustFloor float64
	Logger    *zap.Logger
	Now       func() time.Time
}

// Adapter implements watch.Adapter for Ethereum.
type Adapter struct {
	chain     Chain
	resolver  *venue.EVMResolver
	market    marketdata.Client
	weth      string
	dustFloor float64
	logger    *zap.Logger
	now       func() time.Time
}

// New creates an adapter.
func New(chain Chain, resolver *venue.EVMResolver, market marketdata.Client, cfg Config) *Adapter {
	if cfg.DustFloor <= 0 {
		cfg.DustFloor = DefaultDustFloor
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Adapter{
		chain:     chain,
		resolver:  resolver,
		market:    market,
		weth:      resolver.WETH(),
		dustFloor: cfg.DustFloor,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Chain implements watch.Adapter.
func (a *Adapter) Chain() domain.Chain {
	return domain.ChainEthereum
}

// ResolveVenue implements watch.Adapter.
func (a *Adapter) ResolveVenue(ctx context.Context, target domain.WatchTarget) (*venue.Venue, error) {
	return a.resolver.Resolve(ctx, target)
}

// Subscribe implements watch.Adapter.
func (a *Adapter) Subscribe(ctx context.Context, v *venue.Venue, notify func(*ethereum.Swap)) (watch.Subscription, error) {
	return a.chain.SubscribeSwaps(ctx, common.HexToAddress(v.Address), notify)
}

// Classify implements watch.Adapter. A swap is a buy when WETH flows into
// the pair and the watched token flows out. Legs come from the venue's
// on-chain token0/token1.
func (a *Adapter) Classify(ctx context.Context, v *venue.Venue, s *ethereum.Swap) []*domain.BuyEvent {
	chain := string(domain.ChainEthereum)
	token := v.Target.Address

	var nativeIn, tokenOut *big.Int
	switch {
	case v.Token0 == a.weth && v.Token1 == token:
		nativeIn, tokenOut = s.Amount0In, s.Amount1Out
	case v.Token1 == a.weth && v.Token0 == token:
		nativeIn, tokenOut = s.Amount1In, s.Amount0Out
	default:
		observability.RecordDiscard(chain, "unknown_legs")
		return nil
	}

	if nativeIn == nil || tokenOut == nil || nativeIn.Sign() <= 0 || tokenOut.Sign() <= 0 {
		observability.RecordDiscard(chain, "not_buy")
		return nil
	}

	nativeSpent := domain.ScaleAmount(nativeIn, nativeDecimals)
	if !(nativeSpent > a.dustFloor) {
		observability.RecordDiscard(chain, "dust")
		return nil
	}

	tokenAddr := common.HexToAddress(token)
	decimals := a.chain.TokenDecimals(ctx, tokenAddr)

	ev := &domain.BuyEvent{
		TokenAddress:  token,
		Chain:         domain.ChainEthereum,
		Symbol:        domain.PlaceholderSymbol,
		Buyer:         strings.ToLower(s.To.Hex()),
		NativeSpent:   nativeSpent,
		TokenReceived: domain.ScaleAmount(tokenOut, decimals),
		MarketCap:     domain.PlaceholderMarketCap,
		TxID:          s.TxHash.Hex(),
		LogIndex:      int(s.LogIndex),
		Dex:           v.Dex,
		Venue:         v.Address,
		Slot:          int64(s.BlockNumber),
		Timestamp:     a.now().UnixMilli(),
		IsNewHolder:   a.isNewHolder(ctx, tokenAddr, s),
	}

	if pair, listed := a.freshPair(ctx, v); pair != nil {
		a.enrich(ev, pair, listed)
	}

	if err := ev.Validate(); err != nil {
		observability.RecordDiscard(chain, "invalid")
		return nil
	}

	a.logger.Debug("buy detected",
		zap.String("token", token),
		zap.String("buyer", ev.Buyer),
		zap.Float64("eth", nativeSpent),
		zap.String("tx", ev.TxID))
	return []*domain.BuyEvent{ev}
}

// isNewHolder reports whether the buyer held none of the token at the
// parent block. Lookup failures report false.
func (a *Adapter) isNewHolder(ctx context.Context, token common.Address, s *ethereum.Swap) bool {
	if s.BlockNumber == 0 {
		return false
	}
	parent := new(big.Int).SetUint64(s.BlockNumber - 1)
	bal, err := a.chain.BalanceAt(ctx, token, s.To, parent)
	if err != nil {
		a.logger.Debug("holder lookup failed", zap.String("buyer", s.To.Hex()), zap.Error(err))
		observability.RecordEnrichmentFailure(string(domain.ChainEthereum), "balance")
		return false
	}
	return bal.Sign() == 0
}

// freshPair re-fetches the venue's pair snapshot, falling back to the one
// taken at resolution. It also returns every pair listed for the token.
func (a *Adapter) freshPair(ctx context.Context, v *venue.Venue) (*marketdata.Pair, []*marketdata.Pair) {
	pairs, err := a.market.TokenPairs(ctx, v.Target.Address)
	if err == nil {
		for _, p := range pairs {
			if strings.EqualFold(p.PairAddress, v.Address) {
				return p, pairs
			}
		}
	}
	observability.RecordEnrichmentFailure(string(domain.ChainEthereum), "market")
	if err != nil {
		a.logger.Debug("pair refresh failed", zap.String("pair", v.Address), zap.Error(err))
	}
	return v.Pair, pairs
}

func (a *Adapter) enrich(ev *domain.BuyEvent, pair *marketdata.Pair, listed []*marketdata.Pair) {
	ev.Symbol = pair.SymbolFor(ev.TokenAddress)

	priceUSD := pair.PriceUSDValue()
	// With WETH as the base leg, priceUsd and fdv describe ETH itself. The
	// token's valuation comes from a pair that lists it as base.
	if strings.EqualFold(pair.BaseToken.Address, a.weth) {
		ev.AmountUSD = ev.NativeSpent * priceUSD
		ev.MarketCap = domain.FormatMarketCap(baseFDV(listed, ev.TokenAddress))
		return
	}
	if priceNative := pair.PriceNativeValue(); priceNative > 0 {
		ev.AmountUSD = ev.NativeSpent * (priceUSD / priceNative)
	}
	ev.MarketCap = domain.FormatMarketCap(pair.FDV)
}

// baseFDV returns the fdv of the first pair quoting token as its base leg.
func baseFDV(pairs []*marketdata.Pair, token string) *float64 {
	for _, p := range pairs {
		if p.FDV != nil && strings.EqualFold(p.BaseToken.Address, token) {
			return p.FDV
		}
	}
	return nil
}

var _ watch.Adapter[*ethereum.Swap] = (*Adapter)(nil)
