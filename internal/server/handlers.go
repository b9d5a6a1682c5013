package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"buywatch/internal/domain"
	"buywatch/internal/orchestrator"
	"buywatch/internal/security"
)

type tokenView struct {
	Rank         int           `json:"rank"`
	Chain        string        `json:"chain"`
	TokenAddress string        `json:"token_address"`
	Symbol       string        `json:"symbol"`
	Score        float64       `json:"score"`
	LastUpdate   int64         `json:"last_update_ms"`
	Security     *securityView `json:"security,omitempty"`
}

type securityView struct {
	Verdict string   `json:"verdict"`
	Badge   string   `json:"badge,omitempty"`
	Summary string   `json:"summary"`
	Source  string   `json:"source,omitempty"`
	Risks   []string `json:"risks"`
}

type venueView struct {
	Token   string `json:"token"`
	Address string `json:"venue"`
	Kind    string `json:"kind"`
	Dex     string `json:"dex"`
}

type watchView struct {
	Chain   string      `json:"chain"`
	Desired []string    `json:"desired"`
	Watched []venueView `json:"watched"`
}

type buyView struct {
	TxID          string  `json:"tx_id"`
	LogIndex      int     `json:"log_index"`
	Buyer         string  `json:"buyer"`
	Symbol        string  `json:"symbol"`
	NativeSpent   float64 `json:"native_spent"`
	NativeSymbol  string  `json:"native_symbol"`
	TokenReceived float64 `json:"token_received"`
	AmountUSD     float64 `json:"amount_usd"`
	MarketCap     string  `json:"market_cap"`
	Dex           string  `json:"dex"`
	Venue         string  `json:"venue"`
	Slot          int64   `json:"slot"`
	Timestamp     int64   `json:"timestamp_ms"`
	IsNewHolder   bool    `json:"is_new_holder"`
}

func newSecurityView(r security.Result) *securityView {
	v := &securityView{
		Verdict: string(r.Verdict),
		Badge:   r.Badge(),
		Summary: r.Summary,
		Source:  r.Source,
		Risks:   make([]string, 0, len(r.Risks)),
	}
	for _, risk := range r.Risks {
		v.Risks = append(v.Risks, risk.Name)
	}
	return v
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   ServiceName,
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    s.now().Sub(s.started).Round(time.Second).String(),
	})
}

func (s *Server) leaderboard(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultRequestTimeout)
	defer cancel()

	limit, err := parseLimit(c.Query("limit"), DefaultLeaderboard, MaxLeaderboard)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	scan := c.Query("scan") == "1" || c.Query("scan") == "true"

	entries := s.core.Leaderboard(ctx, limit, scan)
	out := make([]tokenView, 0, len(entries))
	for _, e := range entries {
		out = append(out, newTokenView(e))
	}
	c.JSON(http.StatusOK, gin.H{"tokens": out})
}

func newTokenView(e orchestrator.LeaderboardEntry) tokenView {
	v := tokenView{
		Rank:         e.Rank,
		Chain:        string(e.Chain),
		TokenAddress: e.TokenAddress,
		Symbol:       e.Symbol,
		Score:        e.Score,
		LastUpdate:   e.LastUpdate,
	}
	if e.Security != nil {
		v.Security = newSecurityView(*e.Security)
	}
	return v
}

func (s *Server) watch(c *gin.Context) {
	status := s.core.Status()
	out := make([]watchView, 0, len(status))
	for _, st := range status {
		w := watchView{Chain: string(st.Chain), Desired: st.Desired, Watched: make([]venueView, 0, len(st.Venues))}
		for _, v := range st.Venues {
			w.Watched = append(w.Watched, venueView{
				Token:   v.Target.Address,
				Address: v.Address,
				Kind:    string(v.Kind),
				Dex:     v.Dex,
			})
		}
		out = append(out, w)
	}
	c.JSON(http.StatusOK, gin.H{"chains": out})
}

func (s *Server) scan(c *gin.Context) {
	if s.scanner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "security scanner not configured"})
		return
	}
	target, err := targetParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultRequestTimeout)
	defer cancel()

	res := s.scanner.Scan(ctx, target.Chain, target.Address)
	c.JSON(http.StatusOK, gin.H{
		"chain":         string(target.Chain),
		"token_address": target.Address,
		"security":      newSecurityView(res),
	})
}

func (s *Server) buys(c *gin.Context) {
	target, err := targetParam(c)
	if err != nil {
		s.badRequest(c, err)
		return
	}
	limit, err := parseLimit(c.Query("limit"), DefaultBuysLimit, MaxBuysLimit)
	if err != nil {
		s.badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), DefaultRequestTimeout)
	defer cancel()

	events, err := s.core.RecentBuys(ctx, target, limit)
	if errors.Is(err, orchestrator.ErrNoArchive) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.handleError(c, err, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]buyView, 0, len(events))
	for _, e := range events {
		out = append(out, buyView{
			TxID:          e.TxID,
			LogIndex:      e.LogIndex,
			Buyer:         e.Buyer,
			Symbol:        e.Symbol,
			NativeSpent:   e.NativeSpent,
			NativeSymbol:  e.Chain.NativeSymbol(),
			TokenReceived: e.TokenReceived,
			AmountUSD:     e.AmountUSD,
			MarketCap:     e.MarketCap,
			Dex:           e.Dex,
			Venue:         e.Venue,
			Slot:          e.Slot,
			Timestamp:     e.Timestamp,
			IsNewHolder:   e.IsNewHolder,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"chain":         string(target.Chain),
		"token_address": target.Address,
		"buys":          out,
	})
}

func targetParam(c *gin.Context) (domain.WatchTarget, error) {
	chain, err := domain.ParseChain(c.Param("chain"))
	if err != nil {
		return domain.WatchTarget{}, err
	}
	return domain.NewWatchTarget(chain, c.Param("address"))
}

func parseLimit(raw string, def, upper int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("limit must be a positive integer")
	}
	if n > upper {
		n = upper
	}
	return n, nil
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      err.Error(),
		"request_id": c.GetString(RequestIDContextKey),
	})
}

func (s *Server) handleError(c *gin.Context, err error, status int, message string) {
	requestID := c.GetString(RequestIDContextKey)
	s.logger.Error("API error",
		zap.String("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", status),
		zap.Error(err))
	c.JSON(status, gin.H{"error": message, "request_id": requestID})
}
