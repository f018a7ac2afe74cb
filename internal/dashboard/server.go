// Package dashboard serves a JSON status API over the desk: connection
// state, quotes, volatility with IV rank, and per-expiration greeks tables.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/lmorandi/gateway_desk/internal/contracts"
	"github.com/lmorandi/gateway_desk/internal/gateway"
	"github.com/lmorandi/gateway_desk/internal/greeks"
	"github.com/lmorandi/gateway_desk/internal/marketdata"
	"github.com/lmorandi/gateway_desk/internal/models"
	"github.com/lmorandi/gateway_desk/internal/storage"
)

// ivRankLookback is the journal window used for IV rank.
const ivRankLookback = 365 * 24 * time.Hour

type Config struct {
	ListenAddr string
	AuthToken  string
	// RiskFreeRate feeds the theoretical greeks table.
	RiskFreeRate float64
}

type Server struct {
	router    *chi.Mux
	server    *http.Server
	mgr       *gateway.Manager
	data      *marketdata.Client
	journal   storage.Interface
	logger    *logrus.Logger
	addr      string
	authToken string
	riskFree  float64
	started   time.Time
}

type statusResponse struct {
	State            string    `json:"state"`
	Ready            bool      `json:"ready"`
	PermissionDenied bool      `json:"permission_denied"`
	MarketOpen       bool      `json:"market_open"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
	Timestamp        time.Time `json:"timestamp"`
}

// quoteResponse carries bid/ask as pointers: unpopulated sides are NaN in
// the snapshot, which json cannot encode.
type quoteResponse struct {
	Symbol    string    `json:"symbol"`
	Bid       *float64  `json:"bid,omitempty"`
	Ask       *float64  `json:"ask,omitempty"`
	Mid       *float64  `json:"mid,omitempty"`
	Valid     bool      `json:"valid"`
	Timestamp time.Time `json:"timestamp"`
}

type volatilityResponse struct {
	Symbol     string   `json:"symbol"`
	Implied    *float64 `json:"implied,omitempty"`
	Historical *float64 `json:"historical,omitempty"`
	Average    *float64 `json:"average,omitempty"`
	IVRank     *float64 `json:"iv_rank,omitempty"`
}

type greeksResponse struct {
	Symbol string            `json:"symbol"`
	Expiry string            `json:"expiry"`
	Spot   float64           `json:"spot"`
	Sigma  float64           `json:"sigma"`
	Rows   []greeks.TableRow `json:"rows"`
}

func NewServer(cfg Config, mgr *gateway.Manager, data *marketdata.Client, journal storage.Interface, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		mgr:       mgr,
		data:      data,
		journal:   journal,
		logger:    logger,
		addr:      cfg.ListenAddr,
		authToken: cfg.AuthToken,
		riskFree:  cfg.RiskFreeRate,
		started:   time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/quote/{symbol}", s.handleQuote)
	s.router.Get("/api/chain/{symbol}", s.handleChain)
	s.router.Get("/api/volatility/{symbol}", s.handleVolatility)
	s.router.Get("/api/greeks/{symbol}/{expiry}", s.handleGreeks)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.WithField("addr", s.addr).Info("starting dashboard server")
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, statusResponse{
		State:            s.mgr.State().String(),
		Ready:            s.mgr.IsReady(),
		PermissionDenied: s.mgr.Filter().PermissionDenied(),
		MarketOpen:       isMarketOpen(),
		UptimeSeconds:    int64(time.Since(s.started).Seconds()),
		Timestamp:        time.Now(),
	})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	quote, _, err := s.data.GetQuoteForSpec(models.StockSpec(symbol))
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Error("quote lookup failed")
		s.writeError(w, err)
		return
	}

	resp := quoteResponse{
		Symbol:    symbol,
		Valid:     quote.Valid,
		Timestamp: quote.Timestamp,
	}
	if models.ValidPrice(quote.Bid) {
		resp.Bid = &quote.Bid
	}
	if models.ValidPrice(quote.Ask) {
		resp.Ask = &quote.Ask
	}
	if mid, ok := quote.Mid(); ok {
		resp.Mid = &mid
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	chain, err := s.data.GetOptionChain(symbol)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Error("chain lookup failed")
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, chain)
}

// handleVolatility estimates the underlying's volatility, journals the
// implied level and reports its rank against the journal history.
func (s *Server) handleVolatility(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	est, err := s.data.GetImpliedVolatility(symbol, nil)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Error("volatility lookup failed")
		s.writeError(w, err)
		return
	}

	resp := volatilityResponse{
		Symbol:     symbol,
		Implied:    est.Implied,
		Historical: est.Historical,
		Average:    est.Average,
	}

	if est.Implied != nil && s.journal != nil {
		if err := s.journal.StoreIVReading(&models.IVReading{Symbol: symbol, IV: *est.Implied}); err != nil {
			s.logger.WithError(err).Warn("failed to journal iv reading")
		}
		history, err := s.journal.IVValues(symbol, ivRankLookback)
		if err == nil && len(history) >= 2 {
			rank := greeks.IVRank(*est.Implied, history)
			resp.IVRank = &rank
		}
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleGreeks(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	expiry := chi.URLParam(r, "expiry")

	strikes, err := s.data.GetStrikesForExpiration(symbol, expiry)
	if err != nil {
		s.logger.WithError(err).WithField("symbol", symbol).Error("strike lookup failed")
		s.writeError(w, err)
		return
	}

	quote, _, err := s.data.GetQuoteForSpec(models.StockSpec(symbol))
	if err != nil {
		s.writeError(w, err)
		return
	}
	spot, ok := quote.Mid()
	if !ok {
		http.Error(w, "no valid underlying quote", http.StatusServiceUnavailable)
		return
	}

	sigma := greeks.DefaultVolatility
	if est, err := s.data.GetImpliedVolatility(symbol, nil); err == nil {
		switch {
		case est.Average != nil:
			sigma = *est.Average
		case est.Implied != nil:
			sigma = *est.Implied
		case est.Historical != nil:
			sigma = *est.Historical
		}
	}

	rows := s.data.GreeksTable(symbol, expiry, strikes, spot, s.riskFree, sigma)
	s.writeJSON(w, greeksResponse{
		Symbol: symbol,
		Expiry: expiry,
		Spot:   spot,
		Sigma:  sigma,
		Rows:   rows,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, gateway.ErrNotConnected):
		code = http.StatusServiceUnavailable
	case errors.Is(err, marketdata.ErrChainNotFound):
		code = http.StatusNotFound
	}
	if errors.Is(err, contracts.ErrNotFound) {
		code = http.StatusNotFound
	}
	http.Error(w, err.Error(), code)
}

func isMarketOpen() bool {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return false
	}
	ny := time.Now().In(loc)

	if ny.Weekday() == time.Saturday || ny.Weekday() == time.Sunday {
		return false
	}

	minutes := ny.Hour()*60 + ny.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}
