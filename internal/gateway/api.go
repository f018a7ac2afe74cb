// Package gateway owns the persistent session to the brokerage gateway: the
// venue-facing Session abstraction, the connection manager that keeps one
// session alive across host execution-context swaps, and the error filter
// that demotes informational venue noise.
package gateway

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/lmorandi/gateway_desk/internal/models"
)

// Contract is the venue-level instrument description. ConID is zero until
// the venue qualifies the contract; after qualification it is the
// authoritative identity.
type Contract struct {
	ConID        int64
	Symbol       string
	SecType      models.SecurityType
	Expiry       string
	Strike       float64
	Right        models.Right
	Exchange     string
	Currency     string
	TradingClass string
	ComboLegs    []ComboLeg
}

// ComboLeg is one leg of a combo (BAG) contract, referencing an already
// qualified contract id.
type ComboLeg struct {
	ConID    int64
	Ratio    int
	Action   models.OrderAction
	Exchange string
}

// ContractFromSpec maps a caller-level instrument spec onto the wire shape.
func ContractFromSpec(s models.InstrumentSpec) Contract {
	return Contract{
		Symbol:   s.Symbol,
		SecType:  s.SecType,
		Expiry:   s.Expiry,
		Strike:   s.Strike,
		Right:    s.Right,
		Exchange: s.Exchange,
		Currency: s.Currency,
	}
}

// Spec maps a contract back to the caller-level description.
func (c Contract) Spec() models.InstrumentSpec {
	return models.InstrumentSpec{
		Symbol:   c.Symbol,
		SecType:  c.SecType,
		Exchange: c.Exchange,
		Currency: c.Currency,
		Expiry:   c.Expiry,
		Strike:   c.Strike,
		Right:    c.Right,
	}
}

// Order is a venue order ticket.
type Order struct {
	Action        models.OrderAction
	OrderType     models.OrderType
	TotalQuantity int
	LimitPrice    float64
	Tag           string
}

// OrderStatus is the venue's view of a submitted order. LogLines carries any
// diagnostic text the venue attached (margin, permission issues).
type OrderStatus struct {
	OrderID   int64
	Status    string
	Filled    float64
	Remaining float64
	AvgPrice  float64
	LogLines  []string
}

// Terminal order status strings as the venue reports them.
const (
	StatusFilled        = "Filled"
	StatusCancelled     = "Cancelled"
	StatusInactive      = "Inactive"
	StatusPendingSubmit = "PendingSubmit"
	StatusSubmitted     = "Submitted"
)

// ChainParams is one trading class worth of option chain definition for an
// underlying.
type ChainParams struct {
	TradingClass string
	Multiplier   string
	Expirations  []string
	Strikes      []float64
}

// HistoricalRequest describes a bar-series query.
type HistoricalRequest struct {
	Contract   Contract
	Duration   string // venue duration string, e.g. "1 Y", "30 D"
	BarSize    string // e.g. "1 day", "1 hour"
	WhatToShow string // TRADES, MIDPOINT, OPTION_IMPLIED_VOLATILITY, ...
	UseRTH     bool
}

// VenueError is an asynchronous error/notice pushed by the venue. ReqID is
// negative for session-level notices.
type VenueError struct {
	Code    int
	Message string
	ReqID   int64
}

func (e VenueError) Error() string {
	return fmt.Sprintf("venue error %d (req %d): %s", e.Code, e.ReqID, e.Message)
}

// ErrorHandler receives every inbound venue error callback.
type ErrorHandler func(VenueError)

// Market data type codes accepted by SetMarketDataType.
const (
	MarketDataRealTime = 1
	MarketDataFrozen   = 2
	MarketDataDelayed  = 3
)

// Session is the venue API surface this subsystem consumes. One Session is
// one socket to the gateway; callers issue requests sequentially. The wire
// protocol behind it belongs to the venue and is consumed as-is.
type Session interface {
	Connect(ctx context.Context, host string, port, clientID int) error
	Disconnect()
	IsConnected() bool

	SetErrorHandler(h ErrorHandler)
	SetMarketDataType(dataType int) error

	// QualifyContract resolves a contract description to its venue
	// identity. An error means the venue lists no such contract.
	QualifyContract(c Contract) (Contract, error)

	// ChainParams returns the option chain definition for a qualified
	// underlying, one entry per trading class.
	ChainParams(underlying Contract) ([]ChainParams, error)

	// SubscribeMarketData starts a push subscription and returns the
	// Ticker its fields populate into. Every subscribe must be paired
	// with exactly one CancelMarketData.
	SubscribeMarketData(c Contract, genericTicks string) (*Ticker, error)
	CancelMarketData(t *Ticker) error

	HistoricalBars(req HistoricalRequest) ([]models.Bar, error)

	PlaceOrder(c Contract, o Order) (int64, error)
	OrderStatus(orderID int64) (OrderStatus, error)
}

// Ticker is the push-updated tick state for one market data subscription.
// The session's reader goroutine writes it; pollers read it concurrently.
// Unpopulated fields are NaN.
type Ticker struct {
	mu       sync.RWMutex
	contract Contract
	reqID    int64

	bid, ask, last float64
	impliedVol     float64
	histVol        float64
	updated        time.Time
}

func newTicker(c Contract, reqID int64) *Ticker {
	return &Ticker{
		contract:   c,
		reqID:      reqID,
		bid:        math.NaN(),
		ask:        math.NaN(),
		last:       math.NaN(),
		impliedVol: math.NaN(),
		histVol:    math.NaN(),
	}
}

// NewTestTicker builds a detached ticker for tests and mock sessions.
func NewTestTicker(c Contract) *Ticker { return newTicker(c, 0) }

// Contract returns the contract this subscription tracks.
func (t *Ticker) Contract() Contract {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.contract
}

// Bid returns the current bid, NaN when not populated.
func (t *Ticker) Bid() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bid
}

// Ask returns the current ask, NaN when not populated.
func (t *Ticker) Ask() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ask
}

// Last returns the last trade price, NaN when not populated.
func (t *Ticker) Last() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last
}

// ImpliedVol returns the venue-computed implied volatility tick, NaN when
// not populated.
func (t *Ticker) ImpliedVol() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.impliedVol
}

// HistVol returns the venue-computed historical volatility tick, NaN when
// not populated.
func (t *Ticker) HistVol() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.histVol
}

// Updated returns the time of the last field update.
func (t *Ticker) Updated() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.updated
}

// SetBidAsk updates both quote sides.
func (t *Ticker) SetBidAsk(bid, ask float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bid, t.ask = bid, ask
	t.updated = time.Now()
}

// SetLast updates the last trade price.
func (t *Ticker) SetLast(last float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = last
	t.updated = time.Now()
}

// SetVols updates the implied and historical volatility ticks.
func (t *Ticker) SetVols(implied, hist float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.impliedVol, t.histVol = implied, hist
	t.updated = time.Now()
}
