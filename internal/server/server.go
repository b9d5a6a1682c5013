// Package server exposes the watcher's status over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/observability"
	"buywatch/internal/orchestrator"
	"buywatch/internal/security"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultLeaderboard    = 10
	MaxLeaderboard        = 100
	DefaultBuysLimit      = 50
	MaxBuysLimit          = 500

	ServiceName         = "buywatch"
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"

	shutdownTimeout = 10 * time.Second
)

// Core is the read side of the orchestrator.
type Core interface {
	Status() []orchestrator.WatchStatus
	Leaderboard(ctx context.Context, limit int, scan bool) []orchestrator.LeaderboardEntry
	RecentBuys(ctx context.Context, target domain.WatchTarget, limit int) ([]*domain.BuyEvent, error)
}

// Scanner rates a single token.
type Scanner interface {
	Scan(ctx context.Context, chain domain.Chain, address string) security.Result
}

// Server is the status API.
type Server struct {
	core    Core
	scanner Scanner
	logger  *zap.Logger
	started time.Time
	now     func() time.Time
}

// New creates a server. scanner may be nil, which disables /scan.
func New(core Core, scanner Scanner, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		core:    core,
		scanner: scanner,
		logger:  logger.Named("server"),
		started: time.Now(),
		now:     time.Now,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(loggerMiddleware(s.logger))
	router.Use(gin.Recovery())

	router.GET("/health", s.health)
	router.GET("/metrics", gin.WrapH(observability.Handler()))
	router.GET("/leaderboard", s.leaderboard)
	router.GET("/watch", s.watch)
	router.GET("/scan/:chain/:address", s.scan)
	router.GET("/buys/:chain/:address", s.buys)

	return router
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
