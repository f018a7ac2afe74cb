package models

import "fmt"

// StrategyLeg is one option leg of a Strategy. Quantity is the per-leg ratio
// and must be a positive integer.
type StrategyLeg struct {
	Action   OrderAction
	Quantity int
	Option   InstrumentSpec
}

// Validate checks the leg can be submitted.
func (l StrategyLeg) Validate() error {
	if l.Action != ActionBuy && l.Action != ActionSell {
		return fmt.Errorf("leg action must be BUY or SELL, got %q", l.Action)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("leg quantity must be > 0, got %d", l.Quantity)
	}
	if l.Option.SecType != SecurityOption {
		return fmt.Errorf("strategy legs must be options, got %s", l.Option.SecType)
	}
	return l.Option.Validate()
}

// Strategy describes a single- or multi-leg option order to be built and
// submitted. One leg maps to a plain option order; more than one leg maps to
// a combo (BAG) order. Quantity multiplies the whole strategy.
type Strategy struct {
	Legs       []StrategyLeg
	OrderType  OrderType
	LimitPrice float64
	Quantity   int
}

// ResultStatus is the outcome class of an order submission.
type ResultStatus string

const (
	// ResultSuccess means the order was accepted; Status may still be
	// non-terminal (e.g. PendingSubmit).
	ResultSuccess ResultStatus = "SUCCESS"
	// ResultError means the order was not placed or was cancelled/inactive.
	ResultError ResultStatus = "ERROR"
)

// LegCorrection records a resolution-time change to one leg so callers can
// see that the traded contract differs from the one they described.
type LegCorrection struct {
	LegIndex int
	Original InstrumentSpec
	Resolved InstrumentSpec
}

// OrderResult is the structured outcome of a strategy submission.
type OrderResult struct {
	Status      ResultStatus
	Message     string
	OrderID     int64
	OrderStatus string
	Corrections []LegCorrection
}
