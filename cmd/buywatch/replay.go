package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"buywatch/internal/config"
	"buywatch/internal/logging"
	"buywatch/internal/replay"
	"buywatch/internal/trending"
)

var (
	replayFrom  string
	replayTo    string
	replayLimit int
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild the trending leaderboard from the buy archive",
	Long: `Replay feeds archived buys through a fresh trending model on a simulated
clock and prints the leaderboard as it stood at --to. Use --trending.model to
compare models on the same history. Needs a Postgres or ClickHouse archive.

Times are RFC3339 or a duration before now, e.g. --from 24h.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayFrom, "from", "24h", "Start of the replay range")
	replayCmd.Flags().StringVar(&replayTo, "to", "0s", "End of the replay range (exclusive)")
	replayCmd.Flags().IntVar(&replayLimit, "limit", 10, "Number of tokens to print")
}

func runReplay(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Storage.PostgresDSN == "" && cfg.Storage.ClickhouseDSN == "" {
		return errors.New("replay needs storage.postgres_dsn or storage.clickhouse_dsn")
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	now := time.Now()
	from, err := parseReplayTime(replayFrom, now)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseReplayTime(replayTo, now)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	ctx := cmd.Context()
	st, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	target, err := replay.NewTrending(cfg.Trending.Model, from.UnixMilli(), trending.Options{
		Logger:            logger,
		Window:            cfg.Trending.Window,
		Retention:         cfg.Trending.Retention,
		WhaleThresholdUSD: cfg.Trending.WhaleThresholdUSD,
		WhalePoints:       cfg.Trending.WhalePoints,
		BasePoints:        cfg.Trending.BasePoints,
		DecayInterval:     cfg.Trending.DecayInterval,
		DecayFactor:       cfg.Trending.DecayFactor,
		ScoreFloor:        cfg.Trending.ScoreFloor,
	})
	if err != nil {
		return err
	}

	n, err := replay.NewRunner(st.buys).Run(ctx, from.UnixMilli(), to.UnixMilli(), target)
	if err != nil {
		return err
	}
	logger.Info("replay complete",
		zap.Int("buys", n),
		zap.String("model", cfg.Trending.Model),
		zap.Time("from", from),
		zap.Time("to", to))

	return printBoard(os.Stdout, target.Leaderboard(ctx, to.UnixMilli(), replayLimit))
}

func parseReplayTime(s string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, s)
}
