package orders

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmorandi/gateway_desk/internal/contracts"
	"github.com/lmorandi/gateway_desk/internal/gateway"
	"github.com/lmorandi/gateway_desk/internal/models"
)

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

var fastPoll = Config{PollInterval: time.Millisecond, PollTimeout: 20 * time.Millisecond}

func newTestBuilder(t *testing.T) (*Builder, *gateway.MockSession) {
	t.Helper()
	mgr, sess := gateway.ConnectedMock()
	sess.StatusFunc = func(id int64) (gateway.OrderStatus, error) {
		return gateway.OrderStatus{OrderID: id, Status: gateway.StatusFilled}, nil
	}
	return NewBuilder(mgr, contracts.NewResolver(mgr, testLogger()), testLogger(), fastPoll), sess
}

func strangle(orderType models.OrderType, limit float64) models.Strategy {
	return models.Strategy{
		Legs: []models.StrategyLeg{
			{Action: models.ActionSell, Quantity: 1, Option: models.OptionSpec("AAPL", "20250620", 140, models.RightPut)},
			{Action: models.ActionSell, Quantity: 1, Option: models.OptionSpec("AAPL", "20250620", 160, models.RightCall)},
		},
		OrderType:  orderType,
		LimitPrice: limit,
		Quantity:   1,
	}
}

func TestSubmitSingleLeg(t *testing.T) {
	b, sess := newTestBuilder(t)

	result, err := b.Submit(models.Strategy{
		Legs: []models.StrategyLeg{
			{Action: models.ActionBuy, Quantity: 2, Option: models.OptionSpec("AAPL", "20250620", 150, models.RightCall)},
		},
		OrderType: models.OrderMarket,
		Quantity:  3,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ResultSuccess, result.Status)
	assert.Equal(t, gateway.StatusFilled, result.OrderStatus)

	placed := sess.Placed()
	require.Len(t, placed, 1)
	assert.Equal(t, models.SecurityOption, placed[0].Contract.SecType)
	assert.Empty(t, placed[0].Contract.ComboLegs)
	assert.Equal(t, models.ActionBuy, placed[0].Order.Action)
	assert.Equal(t, 6, placed[0].Order.TotalQuantity, "leg quantity times strategy multiplier")
	assert.NotEmpty(t, placed[0].Order.Tag)
}

func TestSubmitComboOrder(t *testing.T) {
	b, sess := newTestBuilder(t)

	result, err := b.Submit(strangle(models.OrderLimit, 2.50))
	require.NoError(t, err)
	assert.Equal(t, models.ResultSuccess, result.Status)

	placed := sess.Placed()
	require.Len(t, placed, 1)
	contract, order := placed[0].Contract, placed[0].Order

	assert.Equal(t, models.SecurityCombo, contract.SecType)
	require.Len(t, contract.ComboLegs, 2)
	for _, leg := range contract.ComboLegs {
		assert.Equal(t, models.ActionSell, leg.Action, "net direction lives in the legs")
		assert.Equal(t, 1, leg.Ratio)
		assert.NotZero(t, leg.ConID)
	}
	assert.Equal(t, models.ActionBuy, order.Action, "combo top-level action is BUY by convention")
	assert.Equal(t, models.OrderLimit, order.OrderType)
	assert.Equal(t, 2.50, order.LimitPrice)
	assert.Equal(t, 1, order.TotalQuantity)
}

func TestSubmitRejectsNoLegs(t *testing.T) {
	b, sess := newTestBuilder(t)

	_, err := b.Submit(models.Strategy{OrderType: models.OrderMarket})
	assert.ErrorIs(t, err, ErrNoLegs)
	assert.Empty(t, sess.Placed())
}

func TestSubmitRejectsMissingLimitPrice(t *testing.T) {
	b, sess := newTestBuilder(t)
	qualifies := 0
	sess.QualifyFunc = func(c gateway.Contract) (gateway.Contract, error) {
		qualifies++
		c.ConID = 1
		return c, nil
	}

	_, err := b.Submit(strangle(models.OrderLimit, 0))
	assert.ErrorIs(t, err, ErrMissingLimitPrice)
	assert.Zero(t, qualifies, "validation failures must not contact the venue")
	assert.Empty(t, sess.Placed())
}

func TestSubmitLegQualificationFailureAborts(t *testing.T) {
	b, sess := newTestBuilder(t)
	sess.QualifyFunc = func(c gateway.Contract) (gateway.Contract, error) {
		if c.Right == models.RightCall || c.Right == models.RightPut {
			if c.Strike == 160 {
				return gateway.Contract{}, errors.New("no security definition")
			}
		}
		c.ConID = 7
		return c, nil
	}

	_, err := b.Submit(strangle(models.OrderMarket, 0))
	require.Error(t, err)

	var lqe *LegQualificationError
	require.ErrorAs(t, err, &lqe)
	assert.Equal(t, 1, lqe.LegIndex, "the failing leg is named")
	assert.ErrorIs(t, err, contracts.ErrNotFound)
	assert.Empty(t, sess.Placed(), "any leg failure aborts the whole strategy")
}

func TestSubmitSurfacesRightCorrection(t *testing.T) {
	b, sess := newTestBuilder(t)
	// Only calls are listed at 140; the put leg resolves via the flipped
	// right rung.
	sess.QualifyFunc = func(c gateway.Contract) (gateway.Contract, error) {
		if c.Strike == 140 && c.Right == models.RightPut {
			return gateway.Contract{}, errors.New("no security definition")
		}
		c.ConID = 9
		return c, nil
	}

	result, err := b.Submit(strangle(models.OrderMarket, 0))
	require.NoError(t, err)
	require.Len(t, result.Corrections, 1)
	assert.Equal(t, 0, result.Corrections[0].LegIndex)
	assert.Equal(t, models.RightPut, result.Corrections[0].Original.Right)
	assert.Equal(t, models.RightCall, result.Corrections[0].Resolved.Right)
}

func TestSubmitCancelledSurfacesVenueLogLines(t *testing.T) {
	b, sess := newTestBuilder(t)
	sess.StatusFunc = func(id int64) (gateway.OrderStatus, error) {
		return gateway.OrderStatus{
			OrderID:  id,
			Status:   gateway.StatusCancelled,
			LogLines: []string{"201: order rejected - insufficient margin"},
		}, nil
	}

	result, err := b.Submit(strangle(models.OrderMarket, 0))
	require.NoError(t, err)
	assert.Equal(t, models.ResultError, result.Status)
	assert.Contains(t, result.Message, "insufficient margin", "venue diagnostics surface verbatim")
	assert.Equal(t, gateway.StatusCancelled, result.OrderStatus)
}

func TestSubmitTransportFailureBecomesErrorResult(t *testing.T) {
	b, sess := newTestBuilder(t)
	sess.PlaceFunc = func(gateway.Contract, gateway.Order) (int64, error) {
		return 0, errors.New("socket write failed")
	}

	result, err := b.Submit(strangle(models.OrderMarket, 0))
	require.NoError(t, err, "transport failures convert to ERROR results")
	assert.Equal(t, models.ResultError, result.Status)
	assert.Contains(t, result.Message, "socket write failed")
}

func TestSubmitNonTerminalStatusIsSuccess(t *testing.T) {
	b, sess := newTestBuilder(t)
	sess.StatusFunc = func(id int64) (gateway.OrderStatus, error) {
		return gateway.OrderStatus{OrderID: id, Status: gateway.StatusPendingSubmit}, nil
	}

	result, err := b.Submit(strangle(models.OrderMarket, 0))
	require.NoError(t, err)
	assert.Equal(t, models.ResultSuccess, result.Status)
	assert.Equal(t, gateway.StatusPendingSubmit, result.OrderStatus,
		"a still-pending order is the caller's to keep polling")
}
