package venue

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/marketdata"
	"buywatch/internal/solana"
)

// pump.fun bonding curve program and seed.
const (
	PumpFunProgram   = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	bondingCurveSeed = "bonding-curve"
	pumpFunDex       = "pumpfun"
	solanaChainID    = "solana"
)

// AccountReader reads account state.
type AccountReader interface {
	GetAccountInfo(ctx context.Context, pubkey string) (*solana.AccountInfo, error)
}

// SolanaResolver prefers a listed pool and falls back to the token's
// bonding curve account.
type SolanaResolver struct {
	market   marketdata.Client
	accounts AccountReader
	program  string
	logger   *zap.Logger
}

// NewSolanaResolver creates a resolver. An empty program uses PumpFunProgram.
func NewSolanaResolver(market marketdata.Client, accounts AccountReader, program string, logger *zap.Logger) *SolanaResolver {
	if program == "" {
		program = PumpFunProgram
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SolanaResolver{market: market, accounts: accounts, program: program, logger: logger}
}

// Resolve implements Resolver.
func (r *SolanaResolver) Resolve(ctx context.Context, target domain.WatchTarget) (*Venue, error) {
	if target.Chain != domain.ChainSolana {
		return nil, fmt.Errorf("%w: %s is not a solana target", ErrNotFound, target)
	}

	// Aggregator errors fall through to the bonding curve.
	pairs, err := r.market.TokenPairs(ctx, target.Address)
	if err != nil {
		r.logger.Debug("market lookup failed, trying bonding curve",
			zap.String("mint", target.Address), zap.Error(err))
	}
	for _, p := range pairs {
		if p.ChainID != solanaChainID || p.PairAddress == "" || !p.HasToken(target.Address) {
			continue
		}
		if _, err := solana.DecodePubkey(p.PairAddress); err != nil {
			continue
		}
		return &Venue{
			Target:  target,
			Address: p.PairAddress,
			Kind:    KindPool,
			Dex:     p.DexID,
			Pair:    p,
		}, nil
	}

	curve, err := BondingCurveAddress(target.Address, r.program)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	info, err := r.accounts.GetAccountInfo(ctx, curve)
	if err != nil {
		return nil, fmt.Errorf("%w: bonding curve %s: %v", ErrNotFound, curve, err)
	}
	if info == nil || info.Owner != r.program {
		return nil, fmt.Errorf("%w: no listed pool or bonding curve for %s", ErrNotFound, target.Address)
	}

	return &Venue{
		Target:  target,
		Address: curve,
		Kind:    KindBondingCurve,
		Dex:     pumpFunDex,
	}, nil
}

// BondingCurveAddress derives the bonding curve PDA of mint under program.
func BondingCurveAddress(mint, program string) (string, error) {
	mintKey, err := solana.DecodePubkey(mint)
	if err != nil {
		return "", err
	}
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte(bondingCurveSeed), mintKey}, program)
	if err != nil {
		return "", fmt.Errorf("derive bonding curve: %w", err)
	}
	return addr, nil
}
