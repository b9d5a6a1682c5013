// Package watch reconciles a desired set of watch targets against live
// venue subscriptions and routes chain notifications through a chain
// specific classifier to a buy sink.
package watch

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
	"buywatch/internal/venue"
)

// Subscription is a cancellable chain subscription.
type Subscription interface {
	Unsubscribe(ctx context.Context) error
}

// Adapter is the chain-specific capability set of a Manager. N is the
// chain's notification type.
type Adapter[N any] interface {
	Chain() domain.Chain
	ResolveVenue(ctx context.Context, target domain.WatchTarget) (*venue.Venue, error)
	Subscribe(ctx context.Context, v *venue.Venue, notify func(N)) (Subscription, error)
	// Classify turns one notification into zero or more buys. It must not
	// return errors: every failure degrades to "not a buy" or placeholders.
	Classify(ctx context.Context, v *venue.Venue, n N) []*domain.BuyEvent
}

// Sink receives accepted buys. It must not block.
type Sink func(*domain.BuyEvent)

// Watcher is the chain-agnostic view of a Manager.
type Watcher interface {
	Chain() domain.Chain
	UpdateWatchList(ctx context.Context, targets []domain.WatchTarget)
	Watched() []*venue.Venue
	Close(ctx context.Context) error
}

// Options configures a Manager.
type Options struct {
	Logger *zap.Logger
	// ClassifyTimeout bounds one notification's fetch-and-classify work.
	ClassifyTimeout time.Duration
}

type binding struct {
	venue  *venue.Venue
	sub    Subscription
	active bool
}

// Manager owns the watched set of one chain.
type Manager[N any] struct {
	adapter Adapter[N]
	sink    Sink
	chain   string
	logger  *zap.Logger
	timeout time.Duration

	reconcileMu sync.Mutex // serializes UpdateWatchList and Close

	mu       sync.RWMutex
	bindings map[string]*binding
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager creates a manager. sink may be nil to drop buys.
func NewManager[N any](adapter Adapter[N], sink Sink, opts Options) *Manager[N] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ClassifyTimeout <= 0 {
		opts.ClassifyTimeout = 30 * time.Second
	}
	if sink == nil {
		sink = func(*domain.BuyEvent) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	chain := adapter.Chain()
	return &Manager[N]{
		adapter:  adapter,
		sink:     sink,
		chain:    string(chain),
		logger:   logger.With(zap.String("chain", string(chain))),
		timeout:  opts.ClassifyTimeout,
		bindings: make(map[string]*binding),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Chain returns the manager's chain.
func (m *Manager[N]) Chain() domain.Chain {
	return m.adapter.Chain()
}

// UpdateWatchList reconciles live subscriptions against targets. Targets
// of other chains and invalid addresses are ignored. Targets whose venue
// cannot be resolved or subscribed stay unwatched until a later call
// requests them again. Calls are serialized; the latest set wins.
func (m *Manager[N]) UpdateWatchList(ctx context.Context, targets []domain.WatchTarget) {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return
	}

	desired := m.normalize(targets)

	// Remove first so a replaced venue is released before a new one opens.
	m.mu.Lock()
	var removed []*binding
	for key, b := range m.bindings {
		if _, ok := desired[key]; !ok {
			delete(m.bindings, key)
			removed = append(removed, b)
		}
	}
	m.mu.Unlock()

	for _, b := range removed {
		err := b.sub.Unsubscribe(ctx)
		observability.RecordSubscriptionClosed(m.chain, err)
		if err != nil {
			m.logger.Warn("unsubscribe failed",
				zap.String("token", b.venue.Target.Address),
				zap.String("venue", b.venue.Address),
				zap.Error(err))
			continue
		}
		m.logger.Info("stopped watching",
			zap.String("token", b.venue.Target.Address),
			zap.String("venue", b.venue.Address))
	}

	keys := make([]string, 0, len(desired))
	for key := range desired {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		m.mu.RLock()
		_, watched := m.bindings[key]
		m.mu.RUnlock()
		if watched {
			continue
		}
		m.add(ctx, desired[key])
	}

	observability.SetWatchedTargets(m.chain, len(m.Watched()))
}

func (m *Manager[N]) normalize(targets []domain.WatchTarget) map[string]domain.WatchTarget {
	chain := m.adapter.Chain()
	desired := make(map[string]domain.WatchTarget, len(targets))
	for _, t := range targets {
		if t.Chain != chain {
			continue
		}
		target, err := domain.NewWatchTarget(chain, t.Address)
		if err != nil {
			m.logger.Warn("ignoring invalid watch target", zap.String("address", t.Address), zap.Error(err))
			continue
		}
		desired[target.Key()] = target
	}
	return desired
}

func (m *Manager[N]) add(ctx context.Context, target domain.WatchTarget) {
	key := target.Key()
	v, err := m.adapter.ResolveVenue(ctx, target)
	if err != nil {
		observability.RecordResolutionFailure(m.chain)
		m.logger.Warn("venue not resolved, will retry on next update",
			zap.String("token", target.Address), zap.Error(err))
		return
	}

	// Registered before Subscribe so notifications racing the subscribe
	// response pass the membership check.
	b := &binding{venue: v}
	m.mu.Lock()
	m.bindings[key] = b
	m.mu.Unlock()

	sub, err := m.adapter.Subscribe(ctx, v, func(n N) { m.dispatch(b, n) })
	if err != nil {
		m.mu.Lock()
		delete(m.bindings, key)
		m.mu.Unlock()
		observability.RecordSubscriptionFailure(m.chain)
		m.logger.Warn("subscribe failed, will retry on next update",
			zap.String("token", target.Address),
			zap.String("venue", v.Address),
			zap.Error(err))
		return
	}

	m.mu.Lock()
	b.sub = sub
	b.active = true
	m.mu.Unlock()
	observability.RecordSubscriptionOpened(m.chain)
	m.logger.Info("watching",
		zap.String("token", target.Address),
		zap.String("venue", v.Address),
		zap.String("kind", string(v.Kind)),
		zap.String("dex", v.Dex))
}

// dispatch classifies n on its own goroutine. Connector callbacks return
// immediately.
func (m *Manager[N]) dispatch(b *binding, n N) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return
	}
	m.wg.Add(1)
	m.mu.RUnlock()

	observability.RecordNotification(m.chain)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(m.baseCtx, m.timeout)
		defer cancel()

		for _, ev := range m.adapter.Classify(ctx, b.venue, n) {
			if !m.isCurrent(b) {
				observability.RecordDiscard(m.chain, "unwatched")
				m.logger.Debug("dropping buy for removed target",
					zap.String("token", ev.TokenAddress), zap.String("tx", ev.TxID))
				continue
			}
			observability.RecordBuy(m.chain, ev.AmountUSD, time.UnixMilli(ev.Timestamp).Unix())
			m.sink(ev)
		}
	}()
}

// isCurrent reports whether b is still the binding of its target.
func (m *Manager[N]) isCurrent(b *binding) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed && m.bindings[b.venue.Target.Key()] == b
}

// Watched returns the venues of actively subscribed targets, ordered by target key.
func (m *Manager[N]) Watched() []*venue.Venue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*venue.Venue, 0, len(m.bindings))
	for _, b := range m.bindings {
		if b.active {
			out = append(out, b.venue)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Target.Key() < out[j].Target.Key()
	})
	return out
}

// Close unsubscribes every target and waits for in-flight classifications.
func (m *Manager[N]) Close(ctx context.Context) error {
	m.reconcileMu.Lock()
	defer m.reconcileMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	bindings := m.bindings
	m.bindings = make(map[string]*binding)
	m.mu.Unlock()

	for _, b := range bindings {
		if b.sub == nil {
			continue
		}
		err := b.sub.Unsubscribe(ctx)
		observability.RecordSubscriptionClosed(m.chain, err)
		if err != nil {
			m.logger.Warn("unsubscribe on close failed", zap.String("venue", b.venue.Address), zap.Error(err))
		}
	}
	observability.SetWatchedTargets(m.chain, 0)

	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
