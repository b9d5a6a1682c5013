// Package marketdata queries the DexScreener aggregator for trading pairs.
package marketdata

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/httpx"
)

// DefaultBaseURL is the public DexScreener API.
const DefaultBaseURL = "https://api.dexscreener.com"

// Token is one leg of a pair.
type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// Pair is a DexScreener trading pair snapshot. Prices are decimal strings.
type Pair struct {
	ChainID     string   `json:"chainId"`
	DexID       string   `json:"dexId"`
	URL         string   `json:"url"`
	PairAddress string   `json:"pairAddress"`
	Labels      []string `json:"labels"`
	BaseToken   Token    `json:"baseToken"`
	QuoteToken  Token    `json:"quoteToken"`
	PriceNative string   `json:"priceNative"`
	PriceUSD    string   `json:"priceUsd"`
	FDV         *float64 `json:"fdv"`
	MarketCap   *float64 `json:"marketCap"`
	Liquidity   *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

// PriceUSDValue parses PriceUSD; 0 when absent or malformed.
func (p *Pair) PriceUSDValue() float64 {
	return parsePrice(p.PriceUSD)
}

// PriceNativeValue parses PriceNative; 0 when absent or malformed.
func (p *Pair) PriceNativeValue() float64 {
	return parsePrice(p.PriceNative)
}

// SymbolFor returns the symbol of the leg matching token, or the base symbol.
func (p *Pair) SymbolFor(token string) string {
	if strings.EqualFold(p.QuoteToken.Address, token) && p.QuoteToken.Symbol != "" {
		return p.QuoteToken.Symbol
	}
	if p.BaseToken.Symbol != "" {
		return p.BaseToken.Symbol
	}
	return domain.PlaceholderSymbol
}

// HasToken reports whether address is the base or quote leg (case-insensitive).
func (p *Pair) HasToken(address string) bool {
	return strings.EqualFold(p.BaseToken.Address, address) || strings.EqualFold(p.QuoteToken.Address, address)
}

func parsePrice(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

type tokensResponse struct {
	SchemaVersion string  `json:"schemaVersion"`
	Pairs         []*Pair `json:"pairs"`
}

// Client fetches pairs by token address.
type Client interface {
	TokenPairs(ctx context.Context, tokenAddress string) ([]*Pair, error)
}

// DexScreener is the HTTP implementation of Client.
type DexScreener struct {
	http   *httpx.Client
	logger *zap.Logger
}

// NewDexScreener creates a client. An empty baseURL uses DefaultBaseURL.
func NewDexScreener(baseURL string, logger *zap.Logger) *DexScreener {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := httpx.DefaultOptions("dexscreener", baseURL)
	// Public limit is 300 requests/minute on the tokens endpoint.
	opts.RatePerSecond = 5
	opts.Burst = 10
	opts.Logger = logger
	return &DexScreener{http: httpx.New(opts), logger: logger}
}

// TokenPairs returns the pairs listing tokenAddress, in aggregator order.
// A token without pairs yields an empty slice and no error.
func (d *DexScreener) TokenPairs(ctx context.Context, tokenAddress string) ([]*Pair, error) {
	var resp tokensResponse
	if err := d.http.GetJSON(ctx, "/latest/dex/tokens/"+tokenAddress, nil, &resp); err != nil {
		return nil, fmt.Errorf("dexscreener token pairs %s: %w", tokenAddress, err)
	}
	pairs := resp.Pairs[:0]
	for _, p := range resp.Pairs {
		if p != nil {
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

var _ Client = (*DexScreener)(nil)
