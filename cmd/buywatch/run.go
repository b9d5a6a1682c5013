package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"buywatch/internal/config"
	"buywatch/internal/dedup"
	"buywatch/internal/ethereum"
	"buywatch/internal/logging"
	"buywatch/internal/marketdata"
	"buywatch/internal/orchestrator"
	"buywatch/internal/security"
	"buywatch/internal/server"
	"buywatch/internal/solana"
	"buywatch/internal/trending"
	"buywatch/internal/venue"
	"buywatch/internal/watch"
	"buywatch/internal/watch/evmwatch"
	"buywatch/internal/watch/solwatch"
)

const shutdownTimeout = 15 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the configured tokens and report buys",
	Long: `Run resolves a trading venue for every watched token, subscribes to it,
classifies buys, feeds the trending leaderboard and serves the status API.
Edits to the config file's watch list are applied without a restart.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, _ []string) error {
	loader, err := config.NewLoader(cmd.Flags())
	if err != nil {
		return err
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := openStores(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	engine, err := trending.New(cfg.Trending.Model, trending.Options{
		Logger:            logger,
		Store:             st.trending,
		Samples:           st.samples,
		Window:            cfg.Trending.Window,
		Retention:         cfg.Trending.Retention,
		PruneInterval:     cfg.Trending.PruneInterval,
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
	if err := engine.Restore(ctx); err != nil {
		logger.Warn("trending restore failed, starting empty", zap.Error(err))
	}

	scanner := security.NewScanner(security.Options{
		RugCheckURL: cfg.Security.RugCheckURL,
		GoPlusURL:   cfg.Security.GoPlusURL,
		CacheTTL:    cfg.Security.CacheTTL,
		Logger:      logger,
	})
	sink := orchestrator.NewLogSink(logger)

	orch := orchestrator.New(orchestrator.Options{
		Trending: engine,
		Archive:  st.buys,
		Sink:     sink,
		Scanner:  scanner,
		Logger:   logger,
	})

	market := marketdata.NewDexScreener(cfg.Market.DexScreenerURL, logger)

	closeChains, err := startChains(ctx, cfg, orch, market, logger)
	if err != nil {
		return err
	}
	defer closeChains()

	targets, err := cfg.Targets()
	if err != nil {
		return err
	}
	orch.UpdateWatchList(ctx, targets)

	loader.Watch(logger, func(next *config.Config) {
		targets, err := next.Targets()
		if err != nil {
			logger.Warn("ignoring watch list", zap.Error(err))
			return
		}
		orch.UpdateWatchList(ctx, targets)
	})

	var announceScanner orchestrator.Scanner
	if cfg.Announce.Scan {
		announceScanner = scanner
	}
	announcer := orchestrator.NewAnnouncer(engine, sink, orchestrator.AnnouncerOptions{
		Interval: cfg.Announce.Interval,
		TopN:     cfg.Announce.TopN,
		Scanner:  announceScanner,
		Logger:   logger,
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		orch.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		announcer.Run(ctx)
	}()

	if cfg.Server.Addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.New(orch, scanner, logger).Run(ctx, cfg.Server.Addr); err != nil {
				logger.Error("status API stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	logger.Info("buywatch running",
		zap.Int("targets", len(targets)),
		zap.String("trending_model", cfg.Trending.Model),
		zap.String("config_file", loader.ConfigFile()))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := orch.Close(shutdownCtx); err != nil {
		logger.Warn("close watchers", zap.Error(err))
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

// startChains builds a watch manager for every chain with an RPC endpoint
// and registers it with orch. The returned func releases the connections.
func startChains(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, market marketdata.Client, logger *zap.Logger) (func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Ethereum.RPCURL != "" {
		connCfg := ethereum.DefaultConnectorConfig()
		connCfg.Logger = logger.Named("ethereum")
		conn, err := ethereum.Dial(ctx, cfg.Ethereum.RPCURL, connCfg)
		if err != nil {
			return nil, err
		}
		closers = append(closers, conn.Close)

		resolver := venue.NewEVMResolver(market, conn, cfg.Ethereum.WETH, cfg.Ethereum.DexID, logger)
		adapter := evmwatch.New(evmwatch.FromConnector(conn), resolver, market, evmwatch.Config{
			DustFloor: cfg.Ethereum.DustFloor,
			Logger:    logger,
		})
		orch.AddWatcher(watch.NewManager[*ethereum.Swap](adapter, orch.Accept, watch.Options{
			Logger: logger.Named("watch.eth"),
		}))
		logger.Info("ethereum enabled")
	}

	if cfg.Solana.RPCURL != "" {
		rpc := solana.NewHTTPClient(cfg.Solana.RPCURL)

		wsCfg := solana.DefaultWSConfig()
		wsCfg.Logger = logger.Named("solana.ws")
		ws, err := solana.NewWSClient(ctx, cfg.Solana.WSURL, &wsCfg)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("connect solana websocket: %w", err)
		}
		closers = append(closers, func() { _ = ws.Close() })

		resolver := venue.NewSolanaResolver(market, rpc, cfg.Solana.CurveProgram, logger)
		adapter := solwatch.New(rpc, ws, resolver, market, solwatch.Config{
			DustFloor:       cfg.Solana.DustFloor,
			SignatureWindow: cfg.Solana.SignatureWindow,
			SubscribeLogs:   cfg.Solana.SubscribeLogs,
			Guard:           dedup.New(cfg.Dedup.HighWater, cfg.Dedup.Evict),
			Logger:          logger,
		})
		orch.AddWatcher(watch.NewManager[solwatch.Notification](adapter, orch.Accept, watch.Options{
			Logger: logger.Named("watch.solana"),
		}))
		logger.Info("solana enabled")
	}

	if len(closers) == 0 {
		logger.Warn("no chain configured; set ethereum.rpc_url or solana.rpc_url")
	}
	return closeAll, nil
}
