package models

import (
	"math"
	"time"
)

// ValidPrice reports whether p is a usable quoted price: finite and > 0.
// The venue publishes 0 or NaN for fields that have not populated yet.
func ValidPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

// QuoteSnapshot is a point-in-time bid/ask observation. Valid is false when
// the poll ceiling was reached before both sides populated.
type QuoteSnapshot struct {
	Bid       float64
	Ask       float64
	Timestamp time.Time
	Valid     bool
}

// Mid returns (bid+ask)/2. The second return is false unless both sides are
// valid; the mid is undefined otherwise.
func (q QuoteSnapshot) Mid() (float64, bool) {
	if !ValidPrice(q.Bid) || !ValidPrice(q.Ask) {
		return 0, false
	}
	return (q.Bid + q.Ask) / 2, true
}

// VolatilityEstimate carries annualized decimal volatilities. Fields are nil
// when the corresponding source produced no valid number; absence of market
// data is a steady-state condition, not an error.
type VolatilityEstimate struct {
	Implied    *float64
	Historical *float64
	Average    *float64
}

// Float64Ptr is a convenience for building estimates and test fixtures.
func Float64Ptr(v float64) *float64 { return &v }

// Greeks holds a Black-Scholes price and sensitivities. Theta is per day;
// Vega is per 1 percentage point of volatility.
type Greeks struct {
	Price float64
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
}

// Bar is a single time-indexed OHLCV observation from the historical data
// collaborator. For implied-volatility series, Close carries the IV level.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// IVReading represents a single implied volatility reading for a symbol on a
// specific date, journaled for IV-rank computation.
type IVReading struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Date       time.Time `json:"date"`
	IV         float64   `json:"iv"` // Implied volatility as decimal (0.20 = 20%)
	Historical float64   `json:"historical,omitempty"`
	Timestamp  time.Time `json:"timestamp"` // When this reading was recorded
}
