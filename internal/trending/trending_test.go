package trending

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buywatch/internal/domain"
	"buywatch/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	tokenX = "0x6982508145454ce325ddbe47a25d4ec3d2311933"
	tokenY = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"
)

func buyAt(c *fakeClock, chain domain.Chain, token string, usd float64) *domain.BuyEvent {
	return &domain.BuyEvent{
		TokenAddress:  token,
		Chain:         chain,
		Symbol:        "SYM",
		NativeSpent:   1,
		TokenReceived: 1,
		AmountUSD:     usd,
		TxID:          fmt.Sprintf("tx-%d", c.Now().UnixNano()),
		Timestamp:     c.Now().UnixMilli(),
	}
}

func assertDescending(t *testing.T, board []domain.TrendingToken) {
	t.Helper()
	for i := 1; i < len(board); i++ {
		assert.GreaterOrEqual(t, board[i-1].Score, board[i].Score)
	}
}

func TestWindow_VelocityWithinOneMinute(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	e := NewWindowEngine(Options{Clock: clock.Now})

	e.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 500))
	clock.Advance(20 * time.Second)
	e.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 500))
	clock.Advance(20 * time.Second)
	e.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 2000))

	target := domain.WatchTarget{Chain: domain.ChainEthereum, Address: tokenX}
	assert.InDelta(t, 3000, e.Score(target), 1e-9, "divisor floors at one minute")

	board := e.Leaderboard(10)
	require.Len(t, board, 1)
	assert.Equal(t, tokenX, board[0].TokenAddress)
	assert.InDelta(t, 3000, board[0].Score, 1e-9)
	assert.Equal(t, clock.Now().UnixMilli(), board[0].LastUpdate)

	clock.Advance(time.Hour)
	assert.Equal(t, 0.0, e.Score(target))
	assert.Empty(t, e.Leaderboard(10), "samples outside the window drop off the board")
}

func TestWindow_DivisorIsMinutesSinceEarliest(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	e := NewWindowEngine(Options{Clock: clock.Now})

	e.Record(ctx, buyAt(clock, domain.ChainSolana, tokenY, 600))
	clock.Advance(10 * time.Minute)
	e.Record(ctx, buyAt(clock, domain.ChainSolana, tokenY, 400))

	assert.InDelta(t, 100, e.Score(domain.WatchTarget{Chain: domain.ChainSolana, Address: tokenY}), 1e-9)
}

func TestWindow_RetentionPurgesOnWrite(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	samples := memory.NewTradeSampleStore()
	store := memory.NewTrendingStore()
	e := NewWindowEngine(Options{Clock: clock.Now, Samples: samples, Store: store})

	e.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 100))
	clock.Advance(25 * time.Hour)
	e.Record(ctx, buyAt(clock, domain.ChainSolana, tokenY, 100))

	e.mu.RLock()
	_, stillThere := e.tokens[domain.WatchTarget{Chain: domain.ChainEthereum, Address: tokenX}.Key()]
	n := len(e.tokens)
	e.mu.RUnlock()
	assert.False(t, stillThere)
	assert.Equal(t, 1, n)

	top, err := store.Top(ctx, 0)
	require.NoError(t, err)
	require.Len(t, top, 1, "purged token removed from the store")
	assert.Equal(t, tokenY, top[0].TokenAddress)
}

func TestWindow_RestoreFromSamples(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	samples := memory.NewTradeSampleStore()

	first := NewWindowEngine(Options{Clock: clock.Now, Samples: samples})
	first.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 1200))
	clock.Advance(2 * time.Minute)
	first.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 300))
	want := first.Leaderboard(5)

	second := NewWindowEngine(Options{Clock: clock.Now, Samples: samples})
	require.NoError(t, second.Restore(ctx))
	assert.Equal(t, want, second.Leaderboard(5))
}

func TestWindow_PruneTrimsStoredSamples(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	samples := memory.NewTradeSampleStore()
	store := memory.NewTrendingStore()
	e := NewWindowEngine(Options{Clock: clock.Now, Samples: samples, Store: store})

	e.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 100))
	clock.Advance(25 * time.Hour)
	e.prune(ctx)

	assert.Equal(t, 0, samples.Len())
	top, err := store.Top(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestDecay_PointsAndTicks(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	e := NewDecayEngine(Options{Clock: clock.Now})

	for i := 0; i < 20; i++ {
		e.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 5000))
	}
	target := domain.WatchTarget{Chain: domain.ChainEthereum, Address: tokenX}
	require.InDelta(t, 100, e.Score(target), 1e-9)

	for i := 0; i < 3; i++ {
		e.Decay(ctx)
	}
	assert.InDelta(t, 72.9, e.Score(target), 1e-9)
}

func TestDecay_WhaleThreshold(t *testing.T) {
	e := NewDecayEngine(Options{})
	assert.Equal(t, 1.0, e.Points(999.99))
	assert.Equal(t, 5.0, e.Points(1000))
	assert.Equal(t, 1.0, e.Points(0), "unpriced buys still count")
}

func TestDecay_FloorDeletes(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	store := memory.NewTrendingStore()
	e := NewDecayEngine(Options{Clock: clock.Now, Store: store})

	e.Record(ctx, buyAt(clock, domain.ChainSolana, tokenY, 10))
	require.Len(t, e.Leaderboard(10), 1)

	// 1 * 0.9^n < 0.1 first at n = 22.
	removed := 0
	for i := 0; i < 22; i++ {
		removed += e.Decay(ctx)
	}
	assert.Equal(t, 1, removed)
	assert.Empty(t, e.Leaderboard(10))

	top, err := store.Top(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestDecay_RestoreSkipsNegligible(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTrendingStore()
	require.NoError(t, store.UpsertBulk(ctx, []*domain.TrendingToken{
		{TokenAddress: tokenX, Chain: domain.ChainEthereum, Score: 12},
		{TokenAddress: tokenY, Chain: domain.ChainSolana, Score: 0.01},
	}))

	e := NewDecayEngine(Options{Store: store})
	require.NoError(t, e.Restore(ctx))

	board := e.Leaderboard(10)
	require.Len(t, board, 1)
	assert.Equal(t, tokenX, board[0].TokenAddress)
}

func TestLeaderboard_LimitAndOrder(t *testing.T) {
	for _, model := range []string{ModelWindow, ModelDecay} {
		t.Run(model, func(t *testing.T) {
			ctx := context.Background()
			clock := newClock()
			e, err := New(model, Options{Clock: clock.Now})
			require.NoError(t, err)

			for i := 0; i < 8; i++ {
				addr := fmt.Sprintf("0x%040x", i+1)
				for j := 0; j <= i; j++ {
					e.Record(ctx, buyAt(clock, domain.ChainEthereum, addr, float64(100*(i+1))))
				}
			}

			board := e.Leaderboard(5)
			assert.Len(t, board, 5)
			assertDescending(t, board)
			assert.Len(t, e.Leaderboard(100), 8)
			assert.Empty(t, e.Leaderboard(0))
		})
	}
}

func TestNew_UnknownModel(t *testing.T) {
	_, err := New("ema", Options{})
	assert.Error(t, err)
}

func TestNew_ModelIgnoresCase(t *testing.T) {
	e, err := New("Decay", Options{})
	require.NoError(t, err)
	assert.IsType(t, &DecayEngine{}, e)

	e, err = New("WINDOW", Options{})
	require.NoError(t, err)
	assert.IsType(t, &WindowEngine{}, e)
}

type failingStore struct{ *memory.TrendingStore }

func (failingStore) Upsert(context.Context, *domain.TrendingToken) error {
	return errors.New("db down")
}

func TestRecord_PersistenceFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	e := NewDecayEngine(Options{Clock: clock.Now, Store: failingStore{memory.NewTrendingStore()}})

	e.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 10))
	assert.Len(t, e.Leaderboard(1), 1)
}

func TestRecord_Concurrent(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	e := NewWindowEngine(Options{Clock: clock.Now})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Record(ctx, buyAt(clock, domain.ChainEthereum, tokenX, 10))
			_ = e.Leaderboard(3)
		}()
	}
	wg.Wait()

	assert.InDelta(t, 500, e.Score(domain.WatchTarget{Chain: domain.ChainEthereum, Address: tokenX}), 1e-9)
}
