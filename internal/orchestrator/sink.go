package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"buywatch/internal/domain"
)

// LogSink writes buys and announcements to the log. It stands in for the
// Telegram delivery layer when none is attached.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("alerts")}
}

func (s *LogSink) OnBuy(_ context.Context, ev *domain.BuyEvent) {
	s.logger.Info("buy",
		zap.String("chain", string(ev.Chain)),
		zap.String("token", ev.TokenAddress),
		zap.String("symbol", ev.Symbol),
		zap.String("buyer", ev.Buyer),
		zap.Float64("native", ev.NativeSpent),
		zap.String("native_symbol", ev.Chain.NativeSymbol()),
		zap.Float64("tokens", ev.TokenReceived),
		zap.Float64("usd", ev.AmountUSD),
		zap.String("market_cap", ev.MarketCap),
		zap.Bool("new_holder", ev.IsNewHolder),
		zap.String("dex", ev.Dex),
		zap.String("tx", ev.TxID))
}

func (s *LogSink) OnAnnouncement(_ context.Context, a *Announcement) {
	for _, t := range a.Tokens {
		s.logger.Info("trending",
			zap.Int("rank", t.Rank),
			zap.String("chain", string(t.Token.Chain)),
			zap.String("token", t.Token.TokenAddress),
			zap.String("symbol", t.Token.Symbol),
			zap.Float64("score", t.Token.Score),
			zap.String("badge", t.Badge),
			zap.Strings("risks", t.Risks),
			zap.Duration("since", t.Since))
	}
}

var _ AlertSink = (*LogSink)(nil)
