package venue

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/marketdata"
)

// Ethereum mainnet constants.
const (
	WETHAddress     = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
	UniswapDexID    = "uniswap"
	ethereumChainID = "ethereum"
)

// PairReader reads the legs of a pair contract.
type PairReader interface {
	PairTokens(ctx context.Context, pair common.Address) (common.Address, common.Address, error)
}

// EVMResolver selects the first Uniswap V2 WETH pair the aggregator lists
// and confirms its legs on chain.
type EVMResolver struct {
	market marketdata.Client
	pairs  PairReader
	weth   string
	dexID  string
	logger *zap.Logger
}

// NewEVMResolver creates a resolver. Empty weth or dexID use the mainnet defaults.
func NewEVMResolver(market marketdata.Client, pairs PairReader, weth, dexID string, logger *zap.Logger) *EVMResolver {
	if weth == "" {
		weth = WETHAddress
	}
	if dexID == "" {
		dexID = UniswapDexID
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EVMResolver{
		market: market,
		pairs:  pairs,
		weth:   strings.ToLower(weth),
		dexID:  dexID,
		logger: logger,
	}
}

// WETH returns the lowercased wrapped-native address.
func (r *EVMResolver) WETH() string {
	return r.weth
}

// Resolve implements Resolver.
func (r *EVMResolver) Resolve(ctx context.Context, target domain.WatchTarget) (*Venue, error) {
	if target.Chain != domain.ChainEthereum {
		return nil, fmt.Errorf("%w: %s is not an ethereum target", ErrNotFound, target)
	}

	pairs, err := r.market.TokenPairs(ctx, target.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	pair := r.SelectPair(pairs)
	if pair == nil {
		return nil, fmt.Errorf("%w: no %s WETH pair for %s", ErrNotFound, r.dexID, target.Address)
	}

	pairAddr := common.HexToAddress(pair.PairAddress)
	token0, token1, err := r.pairs.PairTokens(ctx, pairAddr)
	if err != nil {
		return nil, fmt.Errorf("%w: read pair legs: %v", ErrNotFound, err)
	}
	t0 := strings.ToLower(token0.Hex())
	t1 := strings.ToLower(token1.Hex())

	legsOK := (t0 == r.weth && t1 == target.Address) || (t1 == r.weth && t0 == target.Address)
	if !legsOK {
		return nil, fmt.Errorf("%w: pair %s legs %s/%s do not match WETH/%s",
			ErrNotFound, pair.PairAddress, t0, t1, target.Address)
	}

	r.logger.Debug("resolved pair",
		zap.String("token", target.Address),
		zap.String("pair", pair.PairAddress))

	return &Venue{
		Target:  target,
		Address: strings.ToLower(pairAddr.Hex()),
		Kind:    KindPair,
		Dex:     pair.DexID,
		Token0:  t0,
		Token1:  t1,
		Pair:    pair,
	}, nil
}

// SelectPair returns the first V2 pair of the supported dex with WETH on
// either leg, in aggregator order.
func (r *EVMResolver) SelectPair(pairs []*marketdata.Pair) *marketdata.Pair {
	for _, p := range pairs {
		if p.ChainID != "" && p.ChainID != ethereumChainID {
			continue
		}
		if p.DexID != r.dexID || !common.IsHexAddress(p.PairAddress) {
			continue
		}
		if !isV2(p.Labels) {
			continue
		}
		if p.HasToken(r.weth) {
			return p
		}
	}
	return nil
}

// isV2 rejects pools the aggregator labels as concentrated-liquidity
// versions, which emit a different Swap event.
func isV2(labels []string) bool {
	for _, l := range labels {
		switch strings.ToLower(l) {
		case "v3", "v4":
			return false
		}
	}
	return true
}
