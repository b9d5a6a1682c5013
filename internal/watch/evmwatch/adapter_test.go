package evmwatch

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buywatch/internal/domain"
	"buywatch/internal/ethereum"
	"buywatch/internal/marketdata"
	"buywatch/internal/venue"
	"buywatch/internal/watch"
)

const (
	tokenAddr = "0x6982508145454ce325ddbe47a25d4ec3d2311933"
	pairAddr  = "0xa43fe16908251ee70ef74718545e4fe6c5ccec9f"
	wethAddr  = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

var buyerAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")

type fakeChain struct {
	decimals   uint8
	balance    *big.Int
	balanceErr error
	balanceAt  *big.Int
}

func (f *fakeChain) SubscribeSwaps(context.Context, common.Address, func(*ethereum.Swap)) (watch.Subscription, error) {
	return nil, errors.New("not used")
}

func (f *fakeChain) TokenDecimals(context.Context, common.Address) uint8 { return f.decimals }

func (f *fakeChain) BalanceAt(_ context.Context, _, _ common.Address, block *big.Int) (*big.Int, error) {
	f.balanceAt = block
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

type fakeMarket struct {
	pairs []*marketdata.Pair
	err   error
}

func (f *fakeMarket) TokenPairs(context.Context, string) ([]*marketdata.Pair, error) {
	return f.pairs, f.err
}

func fdv(v float64) *float64 { return &v }

func snapshot() *marketdata.Pair {
	return &marketdata.Pair{
		ChainID:     "ethereum",
		DexID:       "uniswap",
		PairAddress: "0xA43fe16908251ee70EF74718545e4FE6C5cCEc9f",
		BaseToken:   marketdata.Token{Address: "0x6982508145454Ce325dDbE47a25d4ec3d2311933", Symbol: "PEPE"},
		QuoteToken:  marketdata.Token{Address: venue.WETHAddress, Symbol: "WETH"},
		PriceNative: "0.000000004",
		PriceUSD:    "0.00001",
		FDV:         fdv(4_200_000),
	}
}

func newAdapter(chain *fakeChain, market *fakeMarket) *Adapter {
	resolver := venue.NewEVMResolver(market, nil, "", "", nil)
	now := func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return New(chain, resolver, market, Config{Now: now})
}

// pairVenue returns a venue whose legs are ordered as given.
func pairVenue(token0, token1 string) *venue.Venue {
	return &venue.Venue{
		Target:  domain.WatchTarget{Chain: domain.ChainEthereum, Address: tokenAddr},
		Address: pairAddr,
		Kind:    venue.KindPair,
		Dex:     "uniswap",
		Token0:  token0,
		Token1:  token1,
		Pair:    snapshot(),
	}
}

func eth(f float64) *big.Int {
	v, _ := new(big.Float).Mul(big.NewFloat(f), big.NewFloat(1e18)).Int(nil)
	return v
}

func swap(a0in, a1in, a0out, a1out *big.Int) *ethereum.Swap {
	return &ethereum.Swap{
		Pair:        common.HexToAddress(pairAddr),
		To:          buyerAddr,
		Amount0In:   a0in,
		Amount1In:   a1in,
		Amount0Out:  a0out,
		Amount1Out:  a1out,
		TxHash:      common.HexToHash("0xfeed"),
		LogIndex:    7,
		BlockNumber: 19_000_000,
	}
}

func zero() *big.Int { return new(big.Int) }

func TestClassify_BuyWithTokenAsToken0(t *testing.T) {
	chain := &fakeChain{decimals: 9, balance: zero()}
	a := newAdapter(chain, &fakeMarket{pairs: []*marketdata.Pair{snapshot()}})

	// token0 = token, token1 = WETH: WETH in on leg 1, token out on leg 0.
	v := pairVenue(tokenAddr, wethAddr)
	events := a.Classify(context.Background(), v, swap(zero(), eth(0.5), big.NewInt(2_500_000_000), zero()))
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, tokenAddr, ev.TokenAddress)
	assert.Equal(t, strings.ToLower(buyerAddr.Hex()), ev.Buyer)
	assert.InDelta(t, 0.5, ev.NativeSpent, 1e-12)
	assert.InDelta(t, 2.5, ev.TokenReceived, 1e-12)
	assert.InDelta(t, 0.5*(0.00001/0.000000004), ev.AmountUSD, 1e-6)
	assert.Equal(t, "PEPE", ev.Symbol)
	assert.Equal(t, "$4.2M", ev.MarketCap)
	assert.Equal(t, 7, ev.LogIndex)
	assert.Equal(t, int64(19_000_000), ev.Slot)
	assert.Equal(t, int64(1_700_000_000_000), ev.Timestamp)
	assert.True(t, ev.IsNewHolder)
	assert.Equal(t, int64(18_999_999), chain.balanceAt.Int64(), "holder check uses the parent block")
}

func TestClassify_BuyWithWETHAsToken0(t *testing.T) {
	chain := &fakeChain{decimals: 18, balance: big.NewInt(5)}
	a := newAdapter(chain, &fakeMarket{pairs: []*marketdata.Pair{snapshot()}})

	v := pairVenue(wethAddr, tokenAddr)
	events := a.Classify(context.Background(), v, swap(eth(1), zero(), zero(), eth(1000)))
	require.Len(t, events, 1)
	assert.InDelta(t, 1000, events[0].TokenReceived, 1e-9)
	assert.False(t, events[0].IsNewHolder)
}

func TestClassify_LegsFromMetadataNotLexicalOrder(t *testing.T) {
	chain := &fakeChain{decimals: 18, balance: zero()}
	a := newAdapter(chain, &fakeMarket{pairs: []*marketdata.Pair{snapshot()}})

	// WETH sorts after this token, so a lexical heuristic would call WETH
	// token1. Metadata says token0, and the swap is a buy under that layout.
	lowToken := "0x0000000000000000000000000000000000000001"
	v := pairVenue(wethAddr, lowToken)
	v.Target.Address = lowToken

	events := a.Classify(context.Background(), v, swap(eth(1), zero(), zero(), eth(10)))
	require.Len(t, events, 1)
	assert.InDelta(t, 10, events[0].TokenReceived, 1e-9)
}

func TestClassify_SellIsNotABuy(t *testing.T) {
	chain := &fakeChain{decimals: 18, balance: zero()}
	a := newAdapter(chain, &fakeMarket{})

	// token in, WETH out.
	v := pairVenue(tokenAddr, wethAddr)
	assert.Empty(t, a.Classify(context.Background(), v, swap(eth(1000), zero(), zero(), eth(1))))
}

func TestClassify_NonSwapCombinations(t *testing.T) {
	chain := &fakeChain{decimals: 18, balance: zero()}
	a := newAdapter(chain, &fakeMarket{})
	v := pairVenue(tokenAddr, wethAddr)

	assert.Empty(t, a.Classify(context.Background(), v, swap(eth(1), eth(1), zero(), zero())), "both in")
	assert.Empty(t, a.Classify(context.Background(), v, swap(zero(), zero(), eth(1), eth(1))), "both out")
}

func TestClassify_DustFilter(t *testing.T) {
	chain := &fakeChain{decimals: 18, balance: zero()}
	a := newAdapter(chain, &fakeMarket{})
	v := pairVenue(tokenAddr, wethAddr)

	assert.Empty(t, a.Classify(context.Background(), v, swap(zero(), eth(0.0001), eth(5), zero())))
	assert.Empty(t, a.Classify(context.Background(), v, swap(zero(), eth(0.0004), eth(5), zero())), "floor must be exceeded")
	assert.Len(t, a.Classify(context.Background(), v, swap(zero(), eth(0.0005), eth(5), zero())), 1)
}

func TestClassify_UnknownLegs(t *testing.T) {
	a := newAdapter(&fakeChain{decimals: 18, balance: zero()}, &fakeMarket{})
	v := pairVenue(tokenAddr, "0x2222222222222222222222222222222222222222")
	assert.Empty(t, a.Classify(context.Background(), v, swap(zero(), eth(1), eth(5), zero())))
}

func TestClassify_EnrichmentFailureUsesSnapshotThenPlaceholders(t *testing.T) {
	chain := &fakeChain{decimals: 18, balanceErr: errors.New("archive node required")}
	a := newAdapter(chain, &fakeMarket{err: errors.New("dexscreener down")})

	v := pairVenue(tokenAddr, wethAddr)
	events := a.Classify(context.Background(), v, swap(zero(), eth(1), eth(5), zero()))
	require.Len(t, events, 1)
	assert.Equal(t, "PEPE", events[0].Symbol, "falls back to resolution snapshot")
	assert.False(t, events[0].IsNewHolder)

	v.Pair = nil
	events = a.Classify(context.Background(), v, swap(zero(), eth(1), eth(5), zero()))
	require.Len(t, events, 1)
	assert.Equal(t, domain.PlaceholderSymbol, events[0].Symbol)
	assert.Equal(t, domain.PlaceholderMarketCap, events[0].MarketCap)
	assert.Equal(t, 0.0, events[0].AmountUSD)
}

func TestClassify_WETHBasePair(t *testing.T) {
	p := snapshot()
	p.BaseToken, p.QuoteToken = p.QuoteToken, p.BaseToken
	p.PriceUSD = "3000"
	p.PriceNative = "250000000"

	a := newAdapter(&fakeChain{decimals: 18, balance: zero()}, &fakeMarket{pairs: []*marketdata.Pair{p}})
	events := a.Classify(context.Background(), pairVenue(tokenAddr, wethAddr), swap(zero(), eth(0.5), eth(5), zero()))
	require.Len(t, events, 1)
	assert.InDelta(t, 1500, events[0].AmountUSD, 1e-6)
	assert.Equal(t, "PEPE", events[0].Symbol)
	assert.Equal(t, domain.PlaceholderMarketCap, events[0].MarketCap, "fdv of a WETH-base pair is ETH's")
}

func TestClassify_WETHBasePairTakesMarketCapFromTokenBasePair(t *testing.T) {
	p := snapshot()
	p.BaseToken, p.QuoteToken = p.QuoteToken, p.BaseToken
	p.PriceUSD = "3000"
	p.PriceNative = "250000000"
	p.FDV = fdv(360_000_000_000)

	other := snapshot()
	other.PairAddress = "0x11950d141EcB863F01007AdD7D1A342041227b58"
	other.FDV = fdv(7_500_000)

	a := newAdapter(&fakeChain{decimals: 18, balance: zero()}, &fakeMarket{pairs: []*marketdata.Pair{p, other}})
	events := a.Classify(context.Background(), pairVenue(tokenAddr, wethAddr), swap(zero(), eth(0.5), eth(5), zero()))
	require.Len(t, events, 1)
	assert.Equal(t, "$7.5M", events[0].MarketCap)
	assert.InDelta(t, 1500, events[0].AmountUSD, 1e-6)
}
