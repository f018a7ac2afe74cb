// Package marketdata fetches option chain metadata, per-strike quotes, and
// volatility estimates under bounded waits. The venue API is push-based;
// every field fetched here follows the same pattern: subscribe, poll with
// an explicit ceiling, cancel.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/lmorandi/gateway_desk/internal/contracts"
	"github.com/lmorandi/gateway_desk/internal/gateway"
	"github.com/lmorandi/gateway_desk/internal/greeks"
	"github.com/lmorandi/gateway_desk/internal/models"
)

// ErrChainNotFound means the venue returned no option chain definition for
// the underlying.
var ErrChainNotFound = errors.New("marketdata: option chain not found")

// Generic tick lists requested alongside quote subscriptions.
const (
	ticksOptionIV      = "106"
	ticksUnderlyingVol = "104,106"
)

// Config tunes the bounded polls. Zero values take the defaults below.
type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultConfig matches the venue's observed tick latency: 100ms polls
// capped at 2s.
var DefaultConfig = Config{
	PollInterval: 100 * time.Millisecond,
	PollTimeout:  2 * time.Second,
}

// Client is the market data front end. All methods acquire the session per
// call so the dispatcher check runs on every venue interaction.
type Client struct {
	mgr      *gateway.Manager
	resolver *contracts.Resolver
	logger   *log.Logger
	config   Config
}

// NewClient builds a client. A nil logger defaults to stderr; zero config
// fields take defaults.
func NewClient(mgr *gateway.Manager, resolver *contracts.Resolver, logger *log.Logger, cfg Config) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[marketdata] ", log.LstdFlags)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig.PollTimeout
	}
	if mgr == nil {
		panic("marketdata.NewClient: manager must not be nil")
	}
	if resolver == nil {
		panic("marketdata.NewClient: resolver must not be nil")
	}
	return &Client{mgr: mgr, resolver: resolver, logger: logger, config: cfg}
}

// OptionChain is the unioned chain definition for one underlying.
type OptionChain struct {
	Symbol      string
	Expirations []string
	Strikes     []float64
}

// GetOptionChain qualifies the underlying and returns the expirations and
// strikes unioned across every trading class the venue offers, sorted.
func (c *Client) GetOptionChain(symbol string) (OptionChain, error) {
	qc, err := c.resolver.Resolve(models.StockSpec(symbol))
	if err != nil {
		return OptionChain{}, fmt.Errorf("qualify underlying %s: %w", symbol, err)
	}

	sess, err := c.mgr.Acquire()
	if err != nil {
		return OptionChain{}, err
	}

	underlying := gateway.ContractFromSpec(qc.Spec)
	underlying.ConID = qc.ConID
	params, err := sess.ChainParams(underlying)
	if err != nil {
		return OptionChain{}, fmt.Errorf("chain params for %s: %w", symbol, err)
	}
	if len(params) == 0 {
		return OptionChain{}, fmt.Errorf("%w: %s", ErrChainNotFound, symbol)
	}

	expirySet := map[string]bool{}
	strikeSet := map[float64]bool{}
	for _, p := range params {
		for _, e := range p.Expirations {
			expirySet[e] = true
		}
		for _, k := range p.Strikes {
			strikeSet[k] = true
		}
	}

	chain := OptionChain{Symbol: symbol}
	for e := range expirySet {
		chain.Expirations = append(chain.Expirations, e)
	}
	for k := range strikeSet {
		chain.Strikes = append(chain.Strikes, k)
	}
	sort.Strings(chain.Expirations)
	sort.Float64s(chain.Strikes)
	return chain, nil
}

// GetStrikesForExpiration returns the strikes valid for exactly one expiry.
// Trading classes whose expiration list does not include the expiry are
// excluded, so weekly strike granularity never leaks into a monthly cycle.
func (c *Client) GetStrikesForExpiration(symbol, expiry string) ([]float64, error) {
	qc, err := c.resolver.Resolve(models.StockSpec(symbol))
	if err != nil {
		return nil, fmt.Errorf("qualify underlying %s: %w", symbol, err)
	}

	sess, err := c.mgr.Acquire()
	if err != nil {
		return nil, err
	}

	underlying := gateway.ContractFromSpec(qc.Spec)
	underlying.ConID = qc.ConID
	params, err := sess.ChainParams(underlying)
	if err != nil {
		return nil, fmt.Errorf("chain params for %s: %w", symbol, err)
	}

	strikeSet := map[float64]bool{}
	for _, p := range params {
		if !containsString(p.Expirations, expiry) {
			continue
		}
		for _, k := range p.Strikes {
			strikeSet[k] = true
		}
	}
	if len(strikeSet) == 0 {
		return nil, fmt.Errorf("%w: %s expiry %s", ErrChainNotFound, symbol, expiry)
	}

	strikes := make([]float64, 0, len(strikeSet))
	for k := range strikeSet {
		strikes = append(strikes, k)
	}
	sort.Float64s(strikes)
	return strikes, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// GetQuote subscribes to a qualified contract and polls until both bid and
// ask are valid or the ceiling is reached. The subscription is always
// cancelled on exit. A snapshot with Valid=false is the steady-state answer
// for "no data within the ceiling"; it is not an error.
func (c *Client) GetQuote(qc models.QualifiedContract) (models.QuoteSnapshot, error) {
	sess, err := c.mgr.Acquire()
	if err != nil {
		return models.QuoteSnapshot{}, err
	}

	contract := gateway.ContractFromSpec(qc.Spec)
	contract.ConID = qc.ConID
	t, err := sess.SubscribeMarketData(contract, "")
	if err != nil {
		return models.QuoteSnapshot{}, fmt.Errorf("subscribe %s: %w", qc.Spec, err)
	}
	defer func() {
		if cerr := sess.CancelMarketData(t); cerr != nil {
			c.logger.Printf("WARN: cancel market data for %s: %v", qc.Spec, cerr)
		}
	}()

	populated := c.pollUntil(func() bool {
		return models.ValidPrice(t.Bid()) && models.ValidPrice(t.Ask())
	})

	return models.QuoteSnapshot{
		Bid:       t.Bid(),
		Ask:       t.Ask(),
		Timestamp: time.Now(),
		Valid:     populated,
	}, nil
}

// GetQuoteForSpec resolves a spec through the shared fallback ladder and
// quotes the resolved contract.
func (c *Client) GetQuoteForSpec(spec models.InstrumentSpec) (models.QuoteSnapshot, models.QualifiedContract, error) {
	qc, err := c.resolver.Resolve(spec)
	if err != nil {
		return models.QuoteSnapshot{}, models.QualifiedContract{}, err
	}
	snap, err := c.GetQuote(qc)
	return snap, qc, err
}

// OptionRef narrows an implied volatility request to a specific contract.
type OptionRef struct {
	Expiry string
	Strike float64
	Right  models.Right
}

// GetImpliedVolatility walks a three-tier fallback ladder:
//
//  1. the specific option's live IV tick, when an OptionRef is given and
//     the contract resolves;
//  2. the underlying's 30-day IV/HV tick pair, averaged when both valid;
//  3. a historical daily implied-volatility bar series, latest close.
//
// Each tier runs only if the previous one produced no valid number within
// its poll ceiling. Missing data is a steady-state condition: the estimate's
// fields may individually be nil and no error is returned for absence.
func (c *Client) GetImpliedVolatility(symbol string, ref *OptionRef) (models.VolatilityEstimate, error) {
	if _, err := c.mgr.Acquire(); err != nil {
		return models.VolatilityEstimate{}, err
	}

	var est models.VolatilityEstimate

	if ref != nil {
		if iv, ok := c.pollOptionIV(symbol, *ref); ok {
			est.Implied = models.Float64Ptr(iv)
		}
	}

	if est.Implied == nil {
		iv, hv := c.pollUnderlyingVols(symbol)
		if iv != nil {
			est.Implied = iv
		}
		est.Historical = hv
	}

	if est.Implied == nil {
		if iv, ok := c.historicalIV(symbol); ok {
			est.Implied = models.Float64Ptr(iv)
		}
	}

	if est.Implied != nil && est.Historical != nil {
		est.Average = models.Float64Ptr((*est.Implied + *est.Historical) / 2)
	}
	return est, nil
}

// pollOptionIV resolves the specific option and polls its IV tick.
func (c *Client) pollOptionIV(symbol string, ref OptionRef) (float64, bool) {
	qc, err := c.resolver.Resolve(models.OptionSpec(symbol, ref.Expiry, ref.Strike, ref.Right))
	if err != nil {
		c.logger.Printf("DEBUG: specific option IV unavailable for %s: %v", symbol, err)
		return 0, false
	}

	sess, err := c.mgr.Acquire()
	if err != nil {
		return 0, false
	}

	contract := gateway.ContractFromSpec(qc.Spec)
	contract.ConID = qc.ConID
	t, err := sess.SubscribeMarketData(contract, ticksOptionIV)
	if err != nil {
		return 0, false
	}
	defer func() { _ = sess.CancelMarketData(t) }()

	ok := c.pollUntil(func() bool { return validVol(t.ImpliedVol()) })
	if !ok {
		return 0, false
	}
	return t.ImpliedVol(), true
}

// pollUnderlyingVols polls the underlying's 30-day IV and HV index ticks.
func (c *Client) pollUnderlyingVols(symbol string) (iv, hv *float64) {
	qc, err := c.resolver.Resolve(models.StockSpec(symbol))
	if err != nil {
		return nil, nil
	}

	sess, err := c.mgr.Acquire()
	if err != nil {
		return nil, nil
	}

	contract := gateway.ContractFromSpec(qc.Spec)
	contract.ConID = qc.ConID
	t, err := sess.SubscribeMarketData(contract, ticksUnderlyingVol)
	if err != nil {
		return nil, nil
	}
	defer func() { _ = sess.CancelMarketData(t) }()

	c.pollUntil(func() bool { return validVol(t.ImpliedVol()) && validVol(t.HistVol()) })

	if validVol(t.ImpliedVol()) {
		iv = models.Float64Ptr(t.ImpliedVol())
	}
	if validVol(t.HistVol()) {
		hv = models.Float64Ptr(t.HistVol())
	}
	return iv, hv
}

// historicalIV fetches a daily implied-volatility bar series and returns
// the latest close.
func (c *Client) historicalIV(symbol string) (float64, bool) {
	bars, err := c.GetHistoricalData(models.StockSpec(symbol), HistoricalQuery{
		Duration:   "1 M",
		BarSize:    "1 day",
		WhatToShow: "OPTION_IMPLIED_VOLATILITY",
		UseRTH:     true,
	})
	if err != nil || len(bars) == 0 {
		c.logger.Printf("DEBUG: historical IV series unavailable for %s: %v", symbol, err)
		return 0, false
	}
	last := bars[len(bars)-1].Close
	if !validVol(last) {
		return 0, false
	}
	return last, true
}

func validVol(v float64) bool { return models.ValidPrice(v) && v < 10 }

// HistoricalQuery selects a bar series.
type HistoricalQuery struct {
	Duration   string
	BarSize    string
	WhatToShow string
	UseRTH     bool
}

// GetHistoricalData resolves the instrument and fetches a bar series.
// TRADES data is not published for options; such requests are switched to
// MIDPOINT.
func (c *Client) GetHistoricalData(spec models.InstrumentSpec, q HistoricalQuery) ([]models.Bar, error) {
	qc, err := c.resolver.Resolve(spec)
	if err != nil {
		return nil, err
	}

	sess, err := c.mgr.Acquire()
	if err != nil {
		return nil, err
	}

	if spec.SecType == models.SecurityOption && (q.WhatToShow == "" || q.WhatToShow == "TRADES") {
		q.WhatToShow = "MIDPOINT"
	}
	if q.WhatToShow == "" {
		q.WhatToShow = "TRADES"
	}
	if q.Duration == "" {
		q.Duration = "1 Y"
	}
	if q.BarSize == "" {
		q.BarSize = "1 day"
	}

	contract := gateway.ContractFromSpec(qc.Spec)
	contract.ConID = qc.ConID
	bars, err := sess.HistoricalBars(gateway.HistoricalRequest{
		Contract:   contract,
		Duration:   q.Duration,
		BarSize:    q.BarSize,
		WhatToShow: q.WhatToShow,
		UseRTH:     q.UseRTH,
	})
	if err != nil {
		return nil, fmt.Errorf("historical bars for %s: %w", spec, err)
	}
	return bars, nil
}

// HistoricalVolatility computes the annualized HV from daily closes, using
// the documented default when the series is too short.
func (c *Client) HistoricalVolatility(symbol string, window int) (float64, error) {
	bars, err := c.GetHistoricalData(models.StockSpec(symbol), HistoricalQuery{
		Duration: "6 M", BarSize: "1 day", WhatToShow: "TRADES", UseRTH: true,
	})
	if err != nil {
		return 0, err
	}
	return greeks.HistoricalVolatility(bars, window), nil
}

// GreeksTable builds per-strike call/put rows for one expiry, merging live
// mid quotes when available. If the venue reports a market data permission
// error once, remaining strikes skip their subscriptions entirely and fall
// back to theoretical pricing, turning an O(strikes) wait into O(1).
func (c *Client) GreeksTable(symbol, expiry string, strikes []float64, spot, riskFree, sigma float64) []greeks.TableRow {
	days := greeks.DaysToExpiry(expiry, time.Now())
	filter := c.mgr.Filter()
	filter.ResetPermission()

	quote := func(strike float64, right models.Right) (float64, bool) {
		if filter.PermissionDenied() {
			return 0, false
		}
		qc, err := c.resolver.Resolve(models.OptionSpec(symbol, expiry, strike, right))
		if err != nil {
			return 0, false
		}
		snap, err := c.GetQuote(qc)
		if err != nil || !snap.Valid {
			return 0, false
		}
		return snap.Mid()
	}

	return greeks.ComputeGreeksTable(strikes, spot, days, riskFree, sigma, quote)
}

// pollUntil runs the bounded sleep-and-check loop shared by every tick
// fetch: check at PollInterval, give up at PollTimeout. Returns whether the
// condition became true.
func (c *Client) pollUntil(done func() bool) bool {
	if done() {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return done()
		case <-ticker.C:
			if done() {
				return true
			}
		}
	}
}
