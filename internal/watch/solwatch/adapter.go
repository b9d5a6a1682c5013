// Package solwatch classifies Solana venue activity into buys by diffing
// the fee payer's native and token balances.
package solwatch

import (
	"context"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"buywatch/internal/dedup"
	"buywatch/internal/domain"
	"buywatch/internal/marketdata"
	"buywatch/internal/observability"
	"buywatch/internal/solana"
	"buywatch/internal/venue"
	"buywatch/internal/watch"
)

// Defaults.
const (
	DefaultDustFloor       = 0.005 // SOL, about $1
	DefaultSignatureWindow = 10
	lamportsPerSOL         = 1e9
)

// Notification is a trigger from one of the two subscription paths. An
// account tick has no signature; a logs notification carries one.
type Notification struct {
	Signature string
	Slot      int64
	Failed    bool
}

// Subscriber opens Solana websocket subscriptions.
type Subscriber interface {
	SubscribeAccount(ctx context.Context, pubkey string, handler func(solana.AccountNotification)) (solana.Subscription, error)
	SubscribeLogs(ctx context.Context, filter solana.LogsFilter, handler func(solana.LogNotification)) (solana.Subscription, error)
}

// Config holds classifier settings.
type Config struct {
	DustFloor       float64
	SignatureWindow int
	SubscribeLogs   bool
	Guard           *dedup.Guard
	Logger          *zap.Logger
	Now             func() time.Time
}

// Adapter implements watch.Adapter for Solana.
type Adapter struct {
	rpc       solana.RPCClient
	ws        Subscriber
	resolver  venue.Resolver
	market    marketdata.Client
	guard     *dedup.Guard
	dustFloor float64
	window    int
	logs      bool
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	since map[string]int64 // venue address -> subscribe time, unix ms
}

// New creates an adapter. A nil Guard gets a default-sized one.
func New(rpc solana.RPCClient, ws Subscriber, resolver venue.Resolver, market marketdata.Client, cfg Config) *Adapter {
	if cfg.DustFloor <= 0 {
		cfg.DustFloor = DefaultDustFloor
	}
	if cfg.SignatureWindow <= 0 {
		cfg.SignatureWindow = DefaultSignatureWindow
	}
	if cfg.Guard == nil {
		cfg.Guard = dedup.New(dedup.DefaultHighWater, dedup.DefaultEvict)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Adapter{
		rpc:       rpc,
		ws:        ws,
		resolver:  resolver,
		market:    market,
		guard:     cfg.Guard,
		dustFloor: cfg.DustFloor,
		window:    cfg.SignatureWindow,
		logs:      cfg.SubscribeLogs,
		logger:    cfg.Logger,
		now:       cfg.Now,
		since:     make(map[string]int64),
	}
}

// Chain implements watch.Adapter.
func (a *Adapter) Chain() domain.Chain {
	return domain.ChainSolana
}

// ResolveVenue implements watch.Adapter.
func (a *Adapter) ResolveVenue(ctx context.Context, target domain.WatchTarget) (*venue.Venue, error) {
	return a.resolver.Resolve(ctx, target)
}

// Subscribe implements watch.Adapter. It watches the venue account and,
// when enabled, logs mentioning the mint. Trades older than the
// subscription are not reported.
func (a *Adapter) Subscribe(ctx context.Context, v *venue.Venue, notify func(Notification)) (watch.Subscription, error) {
	at := a.now().UnixMilli()
	a.mu.Lock()
	a.since[v.Address] = at
	a.mu.Unlock()
	release := func() {
		a.mu.Lock()
		if a.since[v.Address] == at {
			delete(a.since, v.Address)
		}
		a.mu.Unlock()
	}

	sub, err := a.subscribe(ctx, v, notify)
	if err != nil {
		release()
		return nil, err
	}
	return &boundSub{Subscription: sub, release: release}, nil
}

func (a *Adapter) subscribe(ctx context.Context, v *venue.Venue, notify func(Notification)) (watch.Subscription, error) {
	accountSub, err := a.ws.SubscribeAccount(ctx, v.Address, func(n solana.AccountNotification) {
		notify(Notification{Slot: n.Slot})
	})
	if err != nil {
		return nil, err
	}
	if !a.logs {
		return accountSub, nil
	}

	logsSub, err := a.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{v.Target.Address}}, func(n solana.LogNotification) {
		notify(Notification{Signature: n.Signature, Slot: n.Slot, Failed: n.Err != nil})
	})
	if err != nil {
		// The account path alone still detects buys.
		a.logger.Warn("logs subscription failed, using account ticks only",
			zap.String("mint", v.Target.Address), zap.Error(err))
		return accountSub, nil
	}
	return multiSub{accountSub, logsSub}, nil
}

// subscribedAt returns when the venue was bound, or 0 if it never was.
func (a *Adapter) subscribedAt(venueAddr string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.since[venueAddr]
}

type boundSub struct {
	watch.Subscription
	release func()
}

func (b *boundSub) Unsubscribe(ctx context.Context) error {
	b.release()
	return b.Subscription.Unsubscribe(ctx)
}

type multiSub []solana.Subscription

func (m multiSub) Unsubscribe(ctx context.Context) error {
	var first error
	for _, s := range m {
		if err := s.Unsubscribe(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Classify implements watch.Adapter. An account tick enumerates the venue's
// recent signature window and classifies each unseen successful
// transaction oldest-first; a logs notification classifies its signature.
func (a *Adapter) Classify(ctx context.Context, v *venue.Venue, n Notification) []*domain.BuyEvent {
	chain := string(domain.ChainSolana)
	since := a.subscribedAt(v.Address)

	var signatures []string
	if n.Signature != "" {
		if n.Failed {
			observability.RecordDiscard(chain, "failed_tx")
			return nil
		}
		signatures = []string{n.Signature}
	} else {
		infos, err := a.rpc.GetSignaturesForAddress(ctx, v.Address, &solana.SignaturesOpts{Limit: a.window})
		if err != nil {
			a.logger.Debug("signature window fetch failed", zap.String("venue", v.Address), zap.Error(err))
			return nil
		}
		// Newest first from the node.
		for i := len(infos) - 1; i >= 0; i-- {
			if infos[i].Err != nil {
				continue
			}
			if infos[i].BlockTime != nil && *infos[i].BlockTime*1000 < since {
				observability.RecordDiscard(chain, "stale")
				continue
			}
			signatures = append(signatures, infos[i].Signature)
		}
	}

	var (
		events []*domain.BuyEvent
		meta   *tokenMeta
	)
	for _, sig := range signatures {
		if !a.guard.AdmitOnce(sig) {
			observability.RecordDedupSuppressed(chain)
			continue
		}

		tx, err := a.rpc.GetTransaction(ctx, sig)
		if err != nil || tx == nil {
			// Release so a later notification can retry.
			a.guard.Forget(sig)
			a.logger.Debug("transaction fetch failed", zap.String("signature", sig), zap.Error(err))
			continue
		}
		if tx.Signature == "" {
			tx.Signature = sig
		}
		if tx.BlockTime > 0 && tx.BlockTime*1000 < since {
			observability.RecordDiscard(chain, "stale")
			continue
		}

		ev, reason := a.classifyTx(v, tx)
		if ev == nil {
			observability.RecordDiscard(chain, reason)
			continue
		}
		if meta == nil {
			meta = a.lookupMeta(ctx, v)
		}
		meta.apply(ev)
		events = append(events, ev)

		a.logger.Debug("buy detected",
			zap.String("mint", ev.TokenAddress),
			zap.String("buyer", ev.Buyer),
			zap.Float64("sol", ev.NativeSpent),
			zap.String("signature", sig))
	}
	observability.SetDedupSize(chain, a.guard.Len())
	return events
}

// classifyTx applies the balance-diff rule to one transaction. It returns
// the buy, or nil and a discard reason.
func (a *Adapter) classifyTx(v *venue.Venue, tx *solana.Transaction) (*domain.BuyEvent, string) {
	if tx.Meta == nil || tx.Failed() {
		return nil, "failed_tx"
	}
	buyer := tx.FeePayer()
	if buyer == "" || len(tx.Meta.PreBalances) == 0 || len(tx.Meta.PostBalances) == 0 {
		return nil, "malformed"
	}

	pre, post := tx.Meta.PreBalances[0], tx.Meta.PostBalances[0]
	if post >= pre {
		return nil, "not_buy"
	}
	nativeSpent := float64(pre-post) / lamportsPerSOL
	if !(nativeSpent > a.dustFloor) {
		return nil, "dust"
	}

	mint := v.Target.Address
	preTokens, _, ok := ownedBalance(tx.Meta.PreTokenBalances, mint, buyer)
	if !ok {
		return nil, "malformed"
	}
	postTokens, decimals, ok := ownedBalance(tx.Meta.PostTokenBalances, mint, buyer)
	if !ok {
		return nil, "malformed"
	}
	delta := new(big.Int).Sub(postTokens, preTokens)
	if delta.Sign() <= 0 {
		return nil, "not_buy"
	}

	ev := &domain.BuyEvent{
		TokenAddress:  mint,
		Chain:         domain.ChainSolana,
		Symbol:        domain.PlaceholderSymbol,
		Buyer:         buyer,
		NativeSpent:   nativeSpent,
		TokenReceived: domain.ScaleAmount(delta, decimals),
		MarketCap:     domain.PlaceholderMarketCap,
		TxID:          tx.Signature,
		Dex:           v.Dex,
		Venue:         v.Address,
		Slot:          tx.Slot,
		Timestamp:     a.now().UnixMilli(),
		IsNewHolder:   preTokens.Sign() == 0,
	}
	if tx.BlockTime > 0 {
		ev.Timestamp = tx.BlockTime * 1000
	}
	if err := ev.Validate(); err != nil {
		return nil, "invalid"
	}
	return ev, ""
}

// ownedBalance sums the raw balances of mint held by owner. Absent entries
// count as zero; unparsable amounts report ok=false.
func ownedBalance(balances []solana.TokenBalance, mint, owner string) (*big.Int, uint8, bool) {
	total := new(big.Int)
	var decimals uint8
	for _, b := range balances {
		if b.Mint != mint || b.Owner != owner {
			continue
		}
		amount, ok := domain.ParseRawAmount(b.Amount)
		if !ok {
			return nil, 0, false
		}
		total.Add(total, amount)
		decimals = b.Decimals
	}
	return total, decimals, true
}

// tokenMeta is the market data applied to buys of one notification.
type tokenMeta struct {
	symbol      string
	priceUSD    float64
	priceNative float64
	marketCap   string
}

func (a *Adapter) lookupMeta(ctx context.Context, v *venue.Venue) *tokenMeta {
	meta := &tokenMeta{symbol: domain.PlaceholderSymbol, marketCap: domain.PlaceholderMarketCap}

	pairs, err := a.market.TokenPairs(ctx, v.Target.Address)
	if err != nil {
		observability.RecordEnrichmentFailure(string(domain.ChainSolana), "market")
		a.logger.Debug("metadata lookup failed", zap.String("mint", v.Target.Address), zap.Error(err))
		return meta
	}

	var pair *marketdata.Pair
	for _, p := range pairs {
		if p.PairAddress == v.Address {
			pair = p
			break
		}
		if pair == nil && p.HasToken(v.Target.Address) {
			pair = p
		}
	}
	if pair == nil {
		observability.RecordEnrichmentFailure(string(domain.ChainSolana), "market")
		return meta
	}

	meta.symbol = pair.SymbolFor(v.Target.Address)
	meta.priceUSD = pair.PriceUSDValue()
	meta.priceNative = pair.PriceNativeValue()
	meta.marketCap = domain.FormatMarketCap(pair.FDV)
	return meta
}

// apply fills enrichment fields. USD uses the pair's SOL/USD ratio and
// falls back to token amount times token price.
func (m *tokenMeta) apply(ev *domain.BuyEvent) {
	ev.Symbol = m.symbol
	ev.MarketCap = m.marketCap
	switch {
	case m.priceNative > 0:
		ev.AmountUSD = ev.NativeSpent * (m.priceUSD / m.priceNative)
	default:
		ev.AmountUSD = ev.TokenReceived * m.priceUSD
	}
}

var _ watch.Adapter[Notification] = (*Adapter)(nil)
