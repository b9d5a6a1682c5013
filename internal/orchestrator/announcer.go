package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/trending"
)

// Announcer defaults.
const (
	DefaultAnnounceInterval = 5 * time.Minute
	DefaultAnnounceTopN     = 5
)

// AnnouncedToken is one leaderboard line of an announcement.
type AnnouncedToken struct {
	Rank  int
	Token domain.TrendingToken
	Badge string   // empty when safe or unscanned
	Risks []string // risk names from the scan
	Since time.Duration
}

// Announcement is a periodic trending post.
type Announcement struct {
	At     time.Time
	Tokens []AnnouncedToken
}

// AnnouncerOptions configures an Announcer.
type AnnouncerOptions struct {
	Interval time.Duration
	TopN     int
	Scanner  Scanner // optional
	Logger   *zap.Logger
	Now      func() time.Time
}

// Announcer posts the top of the leaderboard to the sink on a timer.
type Announcer struct {
	engine   trending.Engine
	sink     AlertSink
	scanner  Scanner
	interval time.Duration
	topN     int
	logger   *zap.Logger
	now      func() time.Time
}

// NewAnnouncer creates an announcer.
func NewAnnouncer(engine trending.Engine, sink AlertSink, opts AnnouncerOptions) *Announcer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultAnnounceInterval
	}
	if opts.TopN <= 0 {
		opts.TopN = DefaultAnnounceTopN
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Announcer{
		engine:   engine,
		sink:     sink,
		scanner:  opts.Scanner,
		interval: opts.Interval,
		topN:     opts.TopN,
		logger:   opts.Logger.Named("announcer"),
		now:      opts.Now,
	}
}

// Announce builds and posts one announcement. Returns false when the
// leaderboard is empty and nothing was posted.
func (a *Announcer) Announce(ctx context.Context) bool {
	board := a.engine.Leaderboard(a.topN)
	if len(board) == 0 {
		return false
	}

	now := a.now()
	ann := &Announcement{At: now, Tokens: make([]AnnouncedToken, 0, len(board))}
	for i, t := range board {
		entry := AnnouncedToken{
			Rank:  i + 1,
			Token: t,
			Since: now.Sub(time.UnixMilli(t.LastUpdate)),
		}
		if a.scanner != nil {
			res := a.scanner.Scan(ctx, t.Chain, t.TokenAddress)
			entry.Badge = res.Badge()
			for _, r := range res.Risks {
				entry.Risks = append(entry.Risks, r.Name)
			}
		}
		ann.Tokens = append(ann.Tokens, entry)
	}

	a.sink.OnAnnouncement(ctx, ann)
	return true
}

// Run announces every interval until ctx is done.
func (a *Announcer) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.Announce(ctx) {
				a.logger.Debug("trending announced")
			}
		}
	}
}
