// Package security scores token contracts for presentation surfaces. It
// never takes part in buy classification.
package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/httpx"
	"buywatch/internal/observability"
)

const (
	DefaultRugCheckURL = "https://api.rugcheck.xyz"
	DefaultGoPlusURL   = "https://api.gopluslabs.io"
	DefaultCacheTTL    = 10 * time.Minute
)

// Verdict is the overall rating of a token.
type Verdict string

const (
	VerdictSafe    Verdict = "SAFE"
	VerdictCaution Verdict = "CAUTION"
	VerdictDanger  Verdict = "DANGER"
)

// Risk is one finding reported by a scanner backend.
type Risk struct {
	Name     string `json:"name"`
	Critical bool   `json:"critical"`
}

// Result is the outcome of a scan.
type Result struct {
	Verdict   Verdict   `json:"verdict"`
	Risks     []Risk    `json:"risks"`
	Summary   string    `json:"summary"`
	Source    string    `json:"source"`
	ScannedAt time.Time `json:"scanned_at"`
}

// Safe reports whether no risk was found.
func (r Result) Safe() bool { return len(r.Risks) == 0 }

// Badge is the short label shown next to a leaderboard entry. Empty for SAFE.
func (r Result) Badge() string {
	switch r.Verdict {
	case VerdictDanger:
		return "🚨 DANGER"
	case VerdictCaution:
		return "⚠️ CAUTION"
	default:
		return ""
	}
}

// judge derives verdict and summary from the collected risks.
func judge(source string, risks []Risk) Result {
	r := Result{Verdict: VerdictSafe, Risks: risks, Source: source,
		Summary: "Contract looks clean. No major risks detected."}
	if len(risks) == 0 {
		return r
	}
	for _, risk := range risks {
		if risk.Critical {
			r.Verdict = VerdictDanger
			r.Summary = "Critical risk detected. This token may be malicious."
			return r
		}
	}
	r.Verdict = VerdictCaution
	r.Summary = fmt.Sprintf("%d risk(s) found. Proceed with caution.", len(risks))
	return r
}

func unavailable() Result {
	return Result{Verdict: VerdictSafe, Summary: "Scan unavailable. Proceed with caution."}
}

// Options configures a Scanner.
type Options struct {
	RugCheckURL string
	GoPlusURL   string
	CacheTTL    time.Duration
	Logger      *zap.Logger
	Now         func() time.Time
}

type cacheEntry struct {
	result  Result
	expires time.Time
}

// Scanner checks Solana tokens against RugCheck first and falls back to
// GoPlus. EVM tokens go straight to GoPlus. Results are cached per token.
type Scanner struct {
	rugcheck *httpx.Client
	goplus   *httpx.Client
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewScanner creates a scanner.
func NewScanner(opts Options) *Scanner {
	if opts.RugCheckURL == "" {
		opts.RugCheckURL = DefaultRugCheckURL
	}
	if opts.GoPlusURL == "" {
		opts.GoPlusURL = DefaultGoPlusURL
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	rc := httpx.DefaultOptions("rugcheck", opts.RugCheckURL)
	rc.RatePerSecond = 2
	rc.Burst = 4
	rc.MaxRetries = 1
	rc.Logger = opts.Logger

	gp := httpx.DefaultOptions("goplus", opts.GoPlusURL)
	gp.RatePerSecond = 1
	gp.Burst = 3
	gp.Logger = opts.Logger

	return &Scanner{
		rugcheck: httpx.New(rc),
		goplus:   httpx.New(gp),
		ttl:      opts.CacheTTL,
		now:      opts.Now,
		logger:   opts.Logger.Named("security"),
		cache:    make(map[string]cacheEntry),
	}
}

// Scan rates a token. It never fails: backend errors degrade to a SAFE
// result whose summary says the scan was unavailable.
func (s *Scanner) Scan(ctx context.Context, chain domain.Chain, address string) Result {
	key := domain.WatchTarget{Chain: chain, Address: address}.Key()

	s.mu.Lock()
	if e, ok := s.cache[key]; ok {
		if s.now().Before(e.expires) {
			s.mu.Unlock()
			return e.result
		}
		delete(s.cache, key)
	}
	s.mu.Unlock()

	res, ok := s.scan(ctx, chain, address)
	res.ScannedAt = s.now()
	if !ok {
		return res
	}

	s.mu.Lock()
	s.sweepLocked(res.ScannedAt)
	s.cache[key] = cacheEntry{result: res, expires: res.ScannedAt.Add(s.ttl)}
	s.mu.Unlock()
	return res
}

// sweepLocked drops expired results. s.mu must be held.
func (s *Scanner) sweepLocked(now time.Time) {
	for k, e := range s.cache {
		if !now.Before(e.expires) {
			delete(s.cache, k)
		}
	}
}

func (s *Scanner) scan(ctx context.Context, chain domain.Chain, address string) (Result, bool) {
	if chain == domain.ChainSolana {
		res, err := s.scanRugCheck(ctx, address)
		if err == nil {
			return res, true
		}
		observability.RecordEnrichmentFailure(string(chain), "rugcheck")
		s.logger.Debug("rugcheck failed, falling back to goplus",
			zap.String("token", address),
			zap.Error(err))
	}

	res, err := s.scanGoPlus(ctx, chain, address)
	if err != nil {
		observability.RecordEnrichmentFailure(string(chain), "goplus")
		s.logger.Warn("security scan unavailable",
			zap.String("chain", string(chain)),
			zap.String("token", address),
			zap.Error(err))
		return unavailable(), false
	}
	return res, true
}
