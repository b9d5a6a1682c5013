package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buywatch/internal/domain"
)

const (
	solMint  = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"
	ethToken = "0x6982508145454ce325ddbe47a25d4ec3d2311933"
)

type backend struct {
	rugcheck     http.HandlerFunc
	goplus       http.HandlerFunc
	rugcheckHits atomic.Int32
	goplusHits   atomic.Int32
}

func (b *backend) scanner(t *testing.T, now func() time.Time) *Scanner {
	t.Helper()
	rc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.rugcheckHits.Add(1)
		b.rugcheck(w, r)
	}))
	gp := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.goplusHits.Add(1)
		b.goplus(w, r)
	}))
	t.Cleanup(rc.Close)
	t.Cleanup(gp.Close)
	return NewScanner(Options{RugCheckURL: rc.URL, GoPlusURL: gp.URL, Now: now})
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func status(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}
}

func TestScan_SolanaRugCheckDanger(t *testing.T) {
	b := &backend{
		rugcheck: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/tokens/"+solMint+"/report/summary", r.URL.Path)
			respond(`{"score": 5400, "risks": [
				{"name": "Freeze Authority still enabled", "level": "danger"},
				{"name": "Low Liquidity", "level": "warn"},
				{"name": "Informational", "level": "info"}
			]}`)(w, r)
		},
		goplus: status(http.StatusInternalServerError),
	}
	s := b.scanner(t, nil)

	res := s.Scan(context.Background(), domain.ChainSolana, solMint)
	assert.Equal(t, VerdictDanger, res.Verdict)
	assert.Equal(t, "rugcheck", res.Source)
	assert.Len(t, res.Risks, 2)
	assert.Equal(t, "🚨 DANGER", res.Badge())
	assert.Zero(t, b.goplusHits.Load())
}

func TestScan_SolanaFallsBackToGoPlus(t *testing.T) {
	b := &backend{
		rugcheck: status(http.StatusNotFound),
		goplus: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/token_security/solana", r.URL.Path)
			assert.Equal(t, solMint, r.URL.Query().Get("contract_addresses"))
			respond(`{"code": 1, "result": {"` + solMint + `": {
				"mintable": {"status": "1"},
				"freezable": {"status": "0"},
				"is_mutable": "1"
			}}}`)(w, r)
		},
	}
	s := b.scanner(t, nil)

	res := s.Scan(context.Background(), domain.ChainSolana, solMint)
	assert.Equal(t, VerdictCaution, res.Verdict)
	assert.Equal(t, "goplus", res.Source)
	assert.Len(t, res.Risks, 2)
	assert.Equal(t, "⚠️ CAUTION", res.Badge())
}

func TestScan_EVMRenouncedSkipsOwnerFlags(t *testing.T) {
	b := &backend{
		rugcheck: status(http.StatusInternalServerError),
		goplus: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/token_security/1", r.URL.Path)
			respond(`{"code": 1, "result": {"` + ethToken + `": {
				"owner_address": "0x000000000000000000000000000000000000dEaD",
				"is_mintable": "1",
				"is_blacklisted": "1",
				"buy_tax": "0",
				"sell_tax": "0.05"
			}}}`)(w, r)
		},
	}
	s := b.scanner(t, nil)

	res := s.Scan(context.Background(), domain.ChainEthereum, ethToken)
	assert.Equal(t, VerdictSafe, res.Verdict)
	assert.True(t, res.Safe())
	assert.Empty(t, res.Badge())
	assert.Zero(t, b.rugcheckHits.Load(), "EVM tokens never hit rugcheck")
}

func TestScan_EVMFlags(t *testing.T) {
	b := &backend{
		rugcheck: status(http.StatusInternalServerError),
		goplus: respond(`{"code": 1, "result": {"` + ethToken + `": {
			"owner_address": "0x28c6c06298d514db089934071355e5743bf21d60",
			"is_mintable": "1",
			"buy_tax": "0.12",
			"sell_tax": "0.25"
		}}}`),
	}
	res := b.scanner(t, nil).Scan(context.Background(), domain.ChainEthereum, ethToken)
	assert.Equal(t, VerdictCaution, res.Verdict)
	require.Len(t, res.Risks, 3)
	assert.Equal(t, "High buy tax: 12.0%", res.Risks[1].Name)
	assert.Equal(t, "High sell tax: 25.0%", res.Risks[2].Name)

	b2 := &backend{
		rugcheck: status(http.StatusInternalServerError),
		goplus:   respond(`{"code": 1, "result": {"x": {"is_honeypot": "1"}}}`),
	}
	res = b2.scanner(t, nil).Scan(context.Background(), domain.ChainEthereum, ethToken)
	assert.Equal(t, VerdictDanger, res.Verdict)
}

func TestScan_NoData(t *testing.T) {
	b := &backend{
		rugcheck: status(http.StatusInternalServerError),
		goplus:   respond(`{"code": 1, "result": {}}`),
	}
	res := b.scanner(t, nil).Scan(context.Background(), domain.ChainEthereum, ethToken)
	assert.Equal(t, VerdictSafe, res.Verdict)
	assert.Contains(t, res.Summary, "No data")
}

func TestScan_UnavailableIsSafeAndNotCached(t *testing.T) {
	b := &backend{
		rugcheck: status(http.StatusNotFound),
		goplus:   status(http.StatusNotFound),
	}
	s := b.scanner(t, nil)

	res := s.Scan(context.Background(), domain.ChainEthereum, ethToken)
	assert.Equal(t, VerdictSafe, res.Verdict)
	assert.Contains(t, res.Summary, "unavailable")

	s.Scan(context.Background(), domain.ChainEthereum, ethToken)
	assert.Equal(t, int32(2), b.goplusHits.Load())
}

func TestScan_CachedForTTL(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	b := &backend{
		rugcheck: respond(`{"risks": []}`),
		goplus:   status(http.StatusInternalServerError),
	}
	s := b.scanner(t, clock)
	ctx := context.Background()

	first := s.Scan(ctx, domain.ChainSolana, solMint)
	now = now.Add(9 * time.Minute)
	second := s.Scan(ctx, domain.ChainSolana, solMint)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), b.rugcheckHits.Load())

	now = now.Add(2 * time.Minute)
	s.Scan(ctx, domain.ChainSolana, solMint)
	assert.Equal(t, int32(2), b.rugcheckHits.Load())
}

func TestScan_ExpiredResultsEvicted(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	b := &backend{
		rugcheck: respond(`{"risks": []}`),
		goplus:   respond(`{"code": 1, "result": {}}`),
	}
	s := b.scanner(t, clock)
	ctx := context.Background()

	cached := func() int {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.cache)
	}

	s.Scan(ctx, domain.ChainSolana, solMint)
	require.Equal(t, 1, cached())

	now = now.Add(DefaultCacheTTL)
	s.Scan(ctx, domain.ChainEthereum, ethToken)
	assert.Equal(t, 1, cached(), "expired entry swept on write")

	s.mu.Lock()
	_, ok := s.cache[domain.WatchTarget{Chain: domain.ChainSolana, Address: solMint}.Key()]
	s.mu.Unlock()
	assert.False(t, ok)
}
