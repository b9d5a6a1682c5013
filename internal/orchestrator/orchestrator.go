// Package orchestrator is the glue between the watch core and the bot layer.
// It routes the desired watch set to the per-chain managers and fans every
// accepted buy out to trending, the buy archive and the alert sink.
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
	"buywatch/internal/security"
	"buywatch/internal/storage"
	"buywatch/internal/trending"
	"buywatch/internal/venue"
	"buywatch/internal/watch"
)

// DefaultBufferSize bounds buys waiting for the consumer.
const DefaultBufferSize = 1024

// AlertSink is the presentation layer. Calls come from a single goroutine.
type AlertSink interface {
	OnBuy(ctx context.Context, ev *domain.BuyEvent)
	OnAnnouncement(ctx context.Context, a *Announcement)
}

// Scanner rates tokens for presentation.
type Scanner interface {
	Scan(ctx context.Context, chain domain.Chain, address string) security.Result
}

// Options for creating an Orchestrator.
type Options struct {
	// Watchers holds one manager per enabled chain.
	Watchers []watch.Watcher
	Trending trending.Engine

	// Optional collaborators.
	Archive storage.BuyEventStore
	Sink    AlertSink
	Scanner Scanner

	BufferSize int
	Logger     *zap.Logger
}

// Orchestrator coordinates watchers, trending and delivery.
type Orchestrator struct {
	watchers []watch.Watcher
	trending trending.Engine
	archive  storage.BuyEventStore
	sink     AlertSink
	scanner  Scanner
	logger   *zap.Logger

	buys chan *domain.BuyEvent

	mu      sync.RWMutex
	desired []domain.WatchTarget
}

// New creates an Orchestrator. A nil Sink logs buys.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Sink == nil {
		opts.Sink = NewLogSink(opts.Logger)
	}
	return &Orchestrator{
		watchers: opts.Watchers,
		trending: opts.Trending,
		archive:  opts.Archive,
		sink:     opts.Sink,
		scanner:  opts.Scanner,
		logger:   opts.Logger.Named("orchestrator"),
		buys:     make(chan *domain.BuyEvent, opts.BufferSize),
	}
}

// AddWatcher registers a chain manager. Call it before the first
// UpdateWatchList.
func (o *Orchestrator) AddWatcher(w watch.Watcher) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.watchers = append(o.watchers, w)
}

// Accept is the watch.Sink handed to every manager. It never blocks: when
// the buffer is full the buy is dropped and counted.
func (o *Orchestrator) Accept(ev *domain.BuyEvent) {
	select {
	case o.buys <- ev:
	default:
		observability.RecordDiscard(string(ev.Chain), "backpressure")
		o.logger.Warn("buy buffer full, dropping buy",
			zap.String("token", ev.TokenAddress),
			zap.String("tx", ev.TxID))
	}
}

// UpdateWatchList hands the desired set to every chain's manager. Each
// manager keeps only its own chain's targets.
func (o *Orchestrator) UpdateWatchList(ctx context.Context, targets []domain.WatchTarget) {
	o.mu.Lock()
	o.desired = append([]domain.WatchTarget(nil), targets...)
	watchers := o.watchers
	o.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range watchers {
		wg.Add(1)
		go func(w watch.Watcher) {
			defer wg.Done()
			w.UpdateWatchList(ctx, targets)
		}(w)
	}
	wg.Wait()
}

// WatchStatus describes one chain's desired and live targets.
type WatchStatus struct {
	Chain   domain.Chain
	Desired []string
	Venues  []*venue.Venue
}

// Status reports per-chain watch state, ordered by chain.
func (o *Orchestrator) Status() []WatchStatus {
	o.mu.RLock()
	desired := o.desired
	watchers := o.watchers
	o.mu.RUnlock()

	out := make([]WatchStatus, 0, len(watchers))
	for _, w := range watchers {
		st := WatchStatus{Chain: w.Chain(), Desired: []string{}, Venues: w.Watched()}
		for _, t := range desired {
			if t.Chain == w.Chain() {
				st.Desired = append(st.Desired, t.Address)
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

// LeaderboardEntry is a ranked token, optionally with its security rating.
type LeaderboardEntry struct {
	Rank int
	domain.TrendingToken
	Security *security.Result
}

// Leaderboard returns the top tokens. With scan set and a scanner
// configured every entry carries its security result.
func (o *Orchestrator) Leaderboard(ctx context.Context, limit int, scan bool) []LeaderboardEntry {
	board := o.trending.Leaderboard(limit)
	out := make([]LeaderboardEntry, len(board))
	for i, t := range board {
		out[i] = LeaderboardEntry{Rank: i + 1, TrendingToken: t}
		if scan && o.scanner != nil {
			res := o.scanner.Scan(ctx, t.Chain, t.TokenAddress)
			out[i].Security = &res
		}
	}
	return out
}

// RecentBuys returns archived buys of a token, newest first.
func (o *Orchestrator) RecentBuys(ctx context.Context, target domain.WatchTarget, limit int) ([]*domain.BuyEvent, error) {
	if o.archive == nil {
		return nil, ErrNoArchive
	}
	return o.archive.GetByToken(ctx, target.Chain, target.Address, limit)
}

// ErrNoArchive is returned by RecentBuys when no buy archive is configured.
var ErrNoArchive = errors.New("buy archive not configured")

// Run consumes buys until ctx is done. It also drives the trending
// engine's maintenance loop.
func (o *Orchestrator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.trending.Run(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-o.buys:
			o.handle(ctx, ev)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev *domain.BuyEvent) {
	o.trending.Record(ctx, ev)

	if o.archive != nil {
		err := o.archive.Insert(ctx, ev)
		switch {
		case err == nil, errors.Is(err, storage.ErrDuplicateKey):
		default:
			o.logger.Warn("archive buy failed",
				zap.String("token", ev.TokenAddress),
				zap.String("tx", ev.TxID),
				zap.Error(err))
		}
	}

	o.sink.OnBuy(ctx, ev)
}

// Close stops every watcher.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.RLock()
	watchers := o.watchers
	o.mu.RUnlock()

	var errs []error
	for _, w := range watchers {
		if err := w.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
