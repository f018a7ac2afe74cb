// Package models defines the shared value types exchanged between the
// gateway, contract resolution, market data, and order packages.
package models

import (
	"fmt"
	"math"
	"time"
)

const sharesPerContract = 100.0

// SecurityType identifies the class of a tradeable instrument.
type SecurityType string

const (
	// SecurityStock is a plain equity instrument.
	SecurityStock SecurityType = "STK"
	// SecurityOption is a listed equity option.
	SecurityOption SecurityType = "OPT"
	// SecurityCombo is a synthetic multi-leg instrument (BAG order).
	SecurityCombo SecurityType = "BAG"
)

// Right identifies the option right.
type Right string

const (
	// RightCall is a call option.
	RightCall Right = "C"
	// RightPut is a put option.
	RightPut Right = "P"
)

// Opposite returns the flipped right (call <-> put).
func (r Right) Opposite() Right {
	if r == RightCall {
		return RightPut
	}
	return RightCall
}

// Valid reports whether r is one of the two known rights.
func (r Right) Valid() bool {
	return r == RightCall || r == RightPut
}

// OrderAction is the direction of an order or leg.
type OrderAction string

const (
	// ActionBuy opens or increases a long exposure.
	ActionBuy OrderAction = "BUY"
	// ActionSell opens or increases a short exposure.
	ActionSell OrderAction = "SELL"
)

// OrderType selects how an order is priced.
type OrderType string

const (
	// OrderMarket executes at the prevailing market price.
	OrderMarket OrderType = "MKT"
	// OrderLimit executes at the limit price or better.
	OrderLimit OrderType = "LMT"
)

// InstrumentSpec is a caller-supplied description of an instrument. It may
// not correspond to a contract the venue actually lists; resolution turns it
// into a QualifiedContract, possibly with corrected fields.
type InstrumentSpec struct {
	Symbol   string
	SecType  SecurityType
	Exchange string
	Currency string
	Expiry   string // YYYYMMDD, options only
	Strike   float64
	Right    Right
}

// StockSpec builds an InstrumentSpec for an equity on the default
// SMART/USD routing.
func StockSpec(symbol string) InstrumentSpec {
	return InstrumentSpec{
		Symbol:   symbol,
		SecType:  SecurityStock,
		Exchange: "SMART",
		Currency: "USD",
	}
}

// OptionSpec builds an InstrumentSpec for a listed option on the default
// SMART/USD routing.
func OptionSpec(symbol, expiry string, strike float64, right Right) InstrumentSpec {
	return InstrumentSpec{
		Symbol:   symbol,
		SecType:  SecurityOption,
		Exchange: "SMART",
		Currency: "USD",
		Expiry:   expiry,
		Strike:   strike,
		Right:    right,
	}
}

// Validate checks the spec is internally consistent.
func (s InstrumentSpec) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("instrument symbol is required")
	}
	switch s.SecType {
	case SecurityStock:
		return nil
	case SecurityOption:
		if s.Expiry == "" {
			return fmt.Errorf("option %s: expiry is required", s.Symbol)
		}
		if _, err := time.Parse("20060102", s.Expiry); err != nil {
			return fmt.Errorf("option %s: invalid expiry %q: %w", s.Symbol, s.Expiry, err)
		}
		if s.Strike <= 0 {
			return fmt.Errorf("option %s: strike must be > 0, got %.4f", s.Symbol, s.Strike)
		}
		if !s.Right.Valid() {
			return fmt.Errorf("option %s: right must be C or P, got %q", s.Symbol, s.Right)
		}
		return nil
	default:
		return fmt.Errorf("unsupported security type: %s", s.SecType)
	}
}

// String renders a compact human-readable description, e.g.
// "AAPL 20250620 150C" or "AAPL STK".
func (s InstrumentSpec) String() string {
	if s.SecType == SecurityOption {
		return fmt.Sprintf("%s %s %s%s", s.Symbol, s.Expiry, FormatStrike(s.Strike), s.Right)
	}
	return fmt.Sprintf("%s %s", s.Symbol, s.SecType)
}

// FormatStrike renders a strike without a trailing ".0" for whole numbers,
// matching how the venue lists integer strikes.
func FormatStrike(strike float64) string {
	if strike == math.Trunc(strike) {
		return fmt.Sprintf("%d", int64(strike))
	}
	return fmt.Sprintf("%g", strike)
}

// QualifiedContract is the venue's authoritative identity for an instrument.
// Spec holds the resolved fields, which may differ from the InstrumentSpec
// the caller supplied; callers must treat these values as authoritative.
type QualifiedContract struct {
	ConID           int64
	Spec            InstrumentSpec
	RightCorrected  bool
	StrikeCorrected bool
}

// Corrected reports whether resolution changed any field of the original spec.
func (q QualifiedContract) Corrected() bool {
	return q.RightCorrected || q.StrikeCorrected
}
