// Package orders turns caller strategies into submitted venue orders. Legs
// are resolved through the shared contract resolver so the contract traded
// is always the contract that was priced.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lmorandi/gateway_desk/internal/contracts"
	"github.com/lmorandi/gateway_desk/internal/gateway"
	"github.com/lmorandi/gateway_desk/internal/models"
	"github.com/lmorandi/gateway_desk/internal/util"
)

// priceTick is the minimum option price increment accepted by the venue.
const priceTick = 0.01

// Pre-venue validation failures. These are returned before any venue call.
var (
	ErrNoLegs            = errors.New("orders: strategy has no legs")
	ErrMissingLimitPrice = errors.New("orders: limit order requires a limit price")
)

// LegQualificationError reports which leg failed resolution. Any leg
// failure aborts the whole strategy.
type LegQualificationError struct {
	LegIndex int
	Spec     models.InstrumentSpec
	Err      error
}

func (e *LegQualificationError) Error() string {
	return fmt.Sprintf("leg %d (%s) failed qualification: %v", e.LegIndex, e.Spec, e.Err)
}

func (e *LegQualificationError) Unwrap() error { return e.Err }

// Config tunes the post-submit status poll.
type Config struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// DefaultConfig polls briefly after submission; callers needing a final
// fill confirmation keep polling on their own.
var DefaultConfig = Config{
	PollInterval: 500 * time.Millisecond,
	PollTimeout:  3 * time.Second,
}

// Builder constructs and submits single-leg and combo orders.
type Builder struct {
	mgr      *gateway.Manager
	resolver *contracts.Resolver
	logger   *log.Logger
	config   Config
}

// NewBuilder creates a builder. A nil logger defaults to stderr; zero
// config fields take defaults.
func NewBuilder(mgr *gateway.Manager, resolver *contracts.Resolver, logger *log.Logger, cfg Config) *Builder {
	if logger == nil {
		logger = log.New(os.Stderr, "[orders] ", log.LstdFlags)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultConfig.PollTimeout
	}
	if mgr == nil {
		panic("orders.NewBuilder: manager must not be nil")
	}
	if resolver == nil {
		panic("orders.NewBuilder: resolver must not be nil")
	}
	return &Builder{mgr: mgr, resolver: resolver, logger: logger, config: cfg}
}

// Submit validates, resolves, builds and submits a strategy, then polls the
// order status for a bounded interval.
//
// Validation and qualification failures return typed errors before or
// instead of contacting the venue. Transport failures during submission are
// converted into an ERROR result rather than propagated; nothing is retried
// here. Right corrections made during leg resolution are surfaced on the
// result so a silently flipped right cannot invert the intended payoff
// unnoticed.
func (b *Builder) Submit(s models.Strategy) (models.OrderResult, error) {
	if err := validate(s); err != nil {
		return models.OrderResult{}, err
	}
	multiplier := s.Quantity
	if multiplier <= 0 {
		multiplier = 1
	}

	sess, err := b.mgr.Acquire()
	if err != nil {
		return models.OrderResult{}, err
	}

	resolved, corrections, err := b.resolveLegs(s.Legs)
	if err != nil {
		return models.OrderResult{}, err
	}

	contract, order := build(s, resolved, multiplier)
	order.Tag = "desk-" + uuid.New().String()[:8]

	orderID, err := sess.PlaceOrder(contract, order)
	if err != nil {
		b.logger.Printf("order submission failed: %v", err)
		return models.OrderResult{
			Status:      models.ResultError,
			Message:     fmt.Sprintf("submission failed: %v", err),
			Corrections: corrections,
		}, nil
	}
	b.logger.Printf("order %d submitted (%s, %d leg(s), tag %s)", orderID, order.OrderType, len(s.Legs), order.Tag)

	status := b.pollStatus(sess, orderID)
	result := models.OrderResult{
		OrderID:     orderID,
		OrderStatus: status.Status,
		Corrections: corrections,
	}

	switch status.Status {
	case gateway.StatusCancelled, gateway.StatusInactive:
		result.Status = models.ResultError
		result.Message = fmt.Sprintf("order %s", status.Status)
		if len(status.LogLines) > 0 {
			// venue log lines usually name the actionable cause
			result.Message += ": " + strings.Join(status.LogLines, " | ")
		}
	default:
		result.Status = models.ResultSuccess
		result.Message = fmt.Sprintf("order %d status %s", orderID, status.Status)
	}
	return result, nil
}

func validate(s models.Strategy) error {
	if len(s.Legs) == 0 {
		return ErrNoLegs
	}
	for i, leg := range s.Legs {
		if err := leg.Validate(); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
	}
	if s.OrderType == models.OrderLimit && s.LimitPrice <= 0 {
		return ErrMissingLimitPrice
	}
	return nil
}

// resolveLegs runs every leg through the shared fallback ladder and
// collects the corrections resolution made.
func (b *Builder) resolveLegs(legs []models.StrategyLeg) ([]models.QualifiedContract, []models.LegCorrection, error) {
	resolved := make([]models.QualifiedContract, 0, len(legs))
	var corrections []models.LegCorrection

	for i, leg := range legs {
		qc, err := b.resolver.Resolve(leg.Option)
		if err != nil {
			return nil, nil, &LegQualificationError{LegIndex: i, Spec: leg.Option, Err: err}
		}
		if qc.Corrected() {
			b.logger.Printf("WARN: leg %d corrected during resolution: %s -> %s", i, leg.Option, qc.Spec)
			corrections = append(corrections, models.LegCorrection{
				LegIndex: i,
				Original: leg.Option,
				Resolved: qc.Spec,
			})
		}
		resolved = append(resolved, qc)
	}
	return resolved, corrections, nil
}

// build maps a strategy onto a venue contract and order ticket. One leg
// becomes a plain option order; several become a combo (BAG) whose
// top-level action is BUY with the net direction encoded in the legs.
func build(s models.Strategy, resolved []models.QualifiedContract, multiplier int) (gateway.Contract, gateway.Order) {
	order := gateway.Order{
		OrderType:  s.OrderType,
		LimitPrice: util.RoundToTick(s.LimitPrice, priceTick),
	}

	if len(resolved) == 1 {
		contract := gateway.ContractFromSpec(resolved[0].Spec)
		contract.ConID = resolved[0].ConID
		order.Action = s.Legs[0].Action
		order.TotalQuantity = s.Legs[0].Quantity * multiplier
		return contract, order
	}

	first := resolved[0].Spec
	contract := gateway.Contract{
		Symbol:   first.Symbol,
		SecType:  models.SecurityCombo,
		Exchange: first.Exchange,
		Currency: first.Currency,
	}
	for i, qc := range resolved {
		contract.ComboLegs = append(contract.ComboLegs, gateway.ComboLeg{
			ConID:    qc.ConID,
			Ratio:    s.Legs[i].Quantity,
			Action:   s.Legs[i].Action,
			Exchange: first.Exchange,
		})
	}
	order.Action = models.ActionBuy
	order.TotalQuantity = multiplier
	return contract, order
}

// pollStatus checks the order status at a fixed interval until a terminal
// status or the ceiling. The last observed status is returned either way.
func (b *Builder) pollStatus(sess gateway.Session, orderID int64) gateway.OrderStatus {
	last := gateway.OrderStatus{OrderID: orderID, Status: gateway.StatusPendingSubmit}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(b.config.PollInterval)
	defer ticker.Stop()

	for {
		st, err := sess.OrderStatus(orderID)
		if err != nil {
			b.logger.Printf("order %d status check failed: %v", orderID, err)
		} else {
			last = st
			if terminal(st.Status) {
				return last
			}
		}

		select {
		case <-ctx.Done():
			return last
		case <-ticker.C:
		}
	}
}

func terminal(status string) bool {
	switch status {
	case gateway.StatusFilled, gateway.StatusCancelled, gateway.StatusInactive:
		return true
	}
	return false
}
