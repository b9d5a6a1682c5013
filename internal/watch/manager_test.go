package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buywatch/internal/domain"
	"buywatch/internal/venue"
)

type fakeSub struct {
	adapter *fakeAdapter
	key     string
	err     error
}

func (s *fakeSub) Unsubscribe(context.Context) error {
	s.adapter.mu.Lock()
	defer s.adapter.mu.Unlock()
	s.adapter.unsubscribes = append(s.adapter.unsubscribes, s.key)
	delete(s.adapter.notifiers, s.key)
	return s.err
}

// fakeAdapter notifies with strings; Classify turns "buy:<tx>" into a buy.
type fakeAdapter struct {
	mu           sync.Mutex
	unresolvable map[string]bool
	subscribeErr map[string]error
	unsubErr     error
	resolves     []string
	subscribes   []string
	unsubscribes []string
	notifiers    map[string]func(string)
	classifyGate chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		unresolvable: make(map[string]bool),
		subscribeErr: make(map[string]error),
		notifiers:    make(map[string]func(string)),
	}
}

func (a *fakeAdapter) Chain() domain.Chain { return domain.ChainEthereum }

func (a *fakeAdapter) ResolveVenue(_ context.Context, t domain.WatchTarget) (*venue.Venue, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolves = append(a.resolves, t.Address)
	if a.unresolvable[t.Address] {
		return nil, venue.ErrNotFound
	}
	return &venue.Venue{Target: t, Address: "pool-" + t.Address, Kind: venue.KindPair}, nil
}

func (a *fakeAdapter) Subscribe(_ context.Context, v *venue.Venue, notify func(string)) (Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := v.Target.Address
	if err := a.subscribeErr[key]; err != nil {
		return nil, err
	}
	a.subscribes = append(a.subscribes, key)
	a.notifiers[key] = notify
	return &fakeSub{adapter: a, key: key, err: a.unsubErr}, nil
}

func (a *fakeAdapter) Classify(_ context.Context, v *venue.Venue, n string) []*domain.BuyEvent {
	if a.classifyGate != nil {
		<-a.classifyGate
	}
	if len(n) < 4 || n[:4] != "buy:" {
		return nil
	}
	return []*domain.BuyEvent{{
		TokenAddress: v.Target.Address, Chain: v.Target.Chain, TxID: n[4:],
		NativeSpent: 1, TokenReceived: 1, Timestamp: time.Now().UnixMilli(),
	}}
}

func (a *fakeAdapter) notify(key, n string) bool {
	a.mu.Lock()
	fn := a.notifiers[key]
	a.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(n)
	return true
}

func (a *fakeAdapter) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subscribes), len(a.unsubscribes)
}

const (
	addrA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	addrB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	addrC = "0xcccccccccccccccccccccccccccccccccccccccc"
)

func targets(addrs ...string) []domain.WatchTarget {
	out := make([]domain.WatchTarget, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, domain.WatchTarget{Chain: domain.ChainEthereum, Address: a})
	}
	return out
}

func watchedAddrs(m *Manager[string]) []string {
	var out []string
	for _, v := range m.Watched() {
		out = append(out, v.Target.Address)
	}
	return out
}

type collector struct {
	mu     sync.Mutex
	events []*domain.BuyEvent
}

func (c *collector) sink(e *domain.BuyEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestUpdateWatchList_Reconciles(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	m := NewManager[string](a, nil, Options{})

	m.UpdateWatchList(ctx, targets(addrA, addrB))
	assert.Equal(t, []string{addrA, addrB}, watchedAddrs(m))

	m.UpdateWatchList(ctx, targets(addrB, addrC))
	assert.Equal(t, []string{addrB, addrC}, watchedAddrs(m))

	subs, unsubs := a.counts()
	assert.Equal(t, 3, subs)
	assert.Equal(t, 1, unsubs)
}

func TestUpdateWatchList_IdenticalSetIsNoop(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	m := NewManager[string](a, nil, Options{})

	m.UpdateWatchList(ctx, targets(addrA, addrB))
	subs, unsubs := a.counts()

	m.UpdateWatchList(ctx, targets(addrB, addrA, addrA))
	subs2, unsubs2 := a.counts()
	assert.Equal(t, subs, subs2)
	assert.Equal(t, unsubs, unsubs2)
}

func TestUpdateWatchList_NormalizesAndFilters(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	m := NewManager[string](a, nil, Options{})

	m.UpdateWatchList(ctx, []domain.WatchTarget{
		{Chain: domain.ChainEthereum, Address: "0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{Chain: domain.ChainEthereum, Address: addrA},
		{Chain: domain.ChainEthereum, Address: "0x1234"},
		{Chain: domain.ChainSolana, Address: "So11111111111111111111111111111111111111112"},
	})
	assert.Equal(t, []string{addrA}, watchedAddrs(m))
	subs, _ := a.counts()
	assert.Equal(t, 1, subs)
}

func TestUpdateWatchList_ResolutionFailureRetriedNextCall(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	a.unresolvable[addrB] = true
	m := NewManager[string](a, nil, Options{})

	m.UpdateWatchList(ctx, targets(addrA, addrB))
	assert.Equal(t, []string{addrA}, watchedAddrs(m))

	a.mu.Lock()
	a.unresolvable[addrB] = false
	a.mu.Unlock()

	m.UpdateWatchList(ctx, targets(addrA, addrB))
	assert.Equal(t, []string{addrA, addrB}, watchedAddrs(m))
}

func TestUpdateWatchList_SubscribeFailureLeavesTargetUnwatched(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	a.subscribeErr[addrA] = errors.New("rejected")
	m := NewManager[string](a, nil, Options{})

	m.UpdateWatchList(ctx, targets(addrA))
	assert.Empty(t, m.Watched())
}

func TestUpdateWatchList_UnsubscribeFailureStillRemoves(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	a.unsubErr = errors.New("socket closed")
	m := NewManager[string](a, nil, Options{})

	m.UpdateWatchList(ctx, targets(addrA))
	m.UpdateWatchList(ctx, nil)
	assert.Empty(t, m.Watched())
}

func TestDispatch_EmitsBuys(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	c := &collector{}
	m := NewManager[string](a, c.sink, Options{})

	m.UpdateWatchList(ctx, targets(addrA))
	require.True(t, a.notify(addrA, "buy:tx1"))
	require.True(t, a.notify(addrA, "noise"))

	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Close(ctx))
	assert.Equal(t, "tx1", c.events[0].TxID)
}

func TestDispatch_DropsBuysForRemovedTarget(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	a.classifyGate = make(chan struct{})
	c := &collector{}
	m := NewManager[string](a, c.sink, Options{})

	m.UpdateWatchList(ctx, targets(addrA))
	require.True(t, a.notify(addrA, "buy:late"))

	// Target removed while classification is in flight.
	m.UpdateWatchList(ctx, nil)
	close(a.classifyGate)

	require.NoError(t, m.Close(ctx))
	assert.Equal(t, 0, c.len())
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	m := NewManager[string](a, nil, Options{})

	m.UpdateWatchList(ctx, targets(addrA, addrB))
	require.NoError(t, m.Close(ctx))
	assert.Empty(t, m.Watched())

	_, unsubs := a.counts()
	assert.Equal(t, 2, unsubs)

	// Updates after close are ignored.
	m.UpdateWatchList(ctx, targets(addrC))
	assert.Empty(t, m.Watched())
	require.NoError(t, m.Close(ctx))
}

func TestUpdateWatchList_ConcurrentCallsConverge(t *testing.T) {
	ctx := context.Background()
	a := newFakeAdapter()
	m := NewManager[string](a, nil, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				m.UpdateWatchList(ctx, targets(addrA, addrB))
			} else {
				m.UpdateWatchList(ctx, targets(addrC))
			}
		}(i)
	}
	wg.Wait()

	m.UpdateWatchList(ctx, targets(addrC))
	assert.Equal(t, []string{addrC}, watchedAddrs(m))
}

var _ Watcher = (*Manager[string])(nil)
