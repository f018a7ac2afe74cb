package marketdata

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

var fastPoll = Config{PollInterval: time.Millisecond, PollTimeout: 25 * time.Millisecond}

func newTestClient(t *testing.T) (*Client, *gateway.MockSession) {
	t.Helper()
	mgr, sess := gateway.ConnectedMock()
	resolver := contracts.NewResolver(mgr, testLogger())
	return NewClient(mgr, resolver, testLogger(), fastPoll), sess
}

func TestGetOptionChainUnionsTradingClasses(t *testing.T) {
	c, sess := newTestClient(t)
	sess.ChainFunc = func(u gateway.Contract) ([]gateway.ChainParams, error) {
		return []gateway.ChainParams{
			{TradingClass: "AAPL", Expirations: []string{"20250620", "20250718"}, Strikes: []float64{150, 155}},
			{TradingClass: "AAPLW", Expirations: []string{"20250613", "20250620"}, Strikes: []float64{152.5, 150}},
		}, nil
	}

	chain, err := c.GetOptionChain("AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"20250613", "20250620", "20250718"}, chain.Expirations)
	assert.Equal(t, []float64{150, 152.5, 155}, chain.Strikes)
}

func TestGetOptionChainNotFound(t *testing.T) {
	c, sess := newTestClient(t)
	sess.ChainFunc = func(u gateway.Contract) ([]gateway.ChainParams, error) { return nil, nil }

	_, err := c.GetOptionChain("AAPL")
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestGetStrikesForExpirationFiltersListingCycle(t *testing.T) {
	c, sess := newTestClient(t)
	sess.ChainFunc = func(u gateway.Contract) ([]gateway.ChainParams, error) {
		return []gateway.ChainParams{
			// monthly cycle: 5-point strikes
			{TradingClass: "SPY", Expirations: []string{"20250620"}, Strikes: []float64{450, 455, 460}},
			// weekly cycle: finer strikes, different expiry
			{TradingClass: "SPYW", Expirations: []string{"20250613"}, Strikes: []float64{452.5, 457.5}},
		}, nil
	}

	strikes, err := c.GetStrikesForExpiration("SPY", "20250620")
	require.NoError(t, err)
	assert.Equal(t, []float64{450, 455, 460}, strikes, "weekly strikes must not leak into the monthly expiry")

	_, err = c.GetStrikesForExpiration("SPY", "20991231")
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestGetQuotePopulated(t *testing.T) {
	c, sess := newTestClient(t)
	sess.TickFunc = func(ct gateway.Contract, tk *gateway.Ticker) {
		tk.SetBidAsk(4.90, 5.10)
	}

	snap, qc, err := c.GetQuoteForSpec(models.OptionSpec("AAPL", "20250620", 150, models.RightPut))
	require.NoError(t, err)
	assert.True(t, snap.Valid)
	assert.NotZero(t, qc.ConID)

	mid, ok := snap.Mid()
	require.True(t, ok)
	assert.InDelta(t, 5.0, mid, 1e-9)

	assert.Equal(t, 1, sess.SubscribeCount())
	assert.Equal(t, 1, sess.CancelCount(), "exactly one cancel per subscribe")
}

func TestGetQuoteCeilingReached(t *testing.T) {
	c, sess := newTestClient(t)
	// no ticks ever arrive

	snap, _, err := c.GetQuoteForSpec(models.StockSpec("AAPL"))
	require.NoError(t, err, "an empty quote is a steady-state answer, not an error")
	assert.False(t, snap.Valid)

	_, ok := snap.Mid()
	assert.False(t, ok)
	assert.Equal(t, sess.SubscribeCount(), sess.CancelCount())
}

func TestGetQuoteLatePopulate(t *testing.T) {
	c, sess := newTestClient(t)
	sess.TickFunc = func(ct gateway.Contract, tk *gateway.Ticker) {
		go func() {
			time.Sleep(5 * time.Millisecond)
			tk.SetBidAsk(99.5, 100.5)
		}()
	}

	snap, _, err := c.GetQuoteForSpec(models.StockSpec("AAPL"))
	require.NoError(t, err)
	assert.True(t, snap.Valid, "poll loop must pick up ticks arriving mid-wait")
}

func TestImpliedVolatilitySpecificOption(t *testing.T) {
	c, sess := newTestClient(t)
	sess.TickFunc = func(ct gateway.Contract, tk *gateway.Ticker) {
		if ct.SecType == models.SecurityOption {
			tk.SetVols(0.42, 0)
		}
	}

	est, err := c.GetImpliedVolatility("AAPL", &OptionRef{Expiry: "20250620", Strike: 150, Right: models.RightPut})
	require.NoError(t, err)
	require.NotNil(t, est.Implied)
	assert.InDelta(t, 0.42, *est.Implied, 1e-9)
}

func TestImpliedVolatilityFallsBackToUnderlying(t *testing.T) {
	c, sess := newTestClient(t)
	// no option contract resolves, only the stock
	sess.QualifyFunc = func(ct gateway.Contract) (gateway.Contract, error) {
		if ct.SecType != models.SecurityStock {
			return gateway.Contract{}, errors.New("no security definition")
		}
		ct.ConID = 42
		return ct, nil
	}
	sess.TickFunc = func(ct gateway.Contract, tk *gateway.Ticker) {
		tk.SetVols(0.30, 0.20)
	}

	est, err := c.GetImpliedVolatility("AAPL", &OptionRef{Expiry: "20250620", Strike: 150, Right: models.RightPut})
	require.NoError(t, err)
	require.NotNil(t, est.Implied)
	require.NotNil(t, est.Historical)
	require.NotNil(t, est.Average)
	assert.InDelta(t, 0.30, *est.Implied, 1e-9)
	assert.InDelta(t, 0.20, *est.Historical, 1e-9)
	assert.InDelta(t, 0.25, *est.Average, 1e-9)
}

func TestImpliedVolatilityFallsBackToHistoricalSeries(t *testing.T) {
	c, sess := newTestClient(t)
	// ticks never populate anywhere; only the bar series answers
	sess.BarsFunc = func(req gateway.HistoricalRequest) ([]models.Bar, error) {
		require.Equal(t, "OPTION_IMPLIED_VOLATILITY", req.WhatToShow)
		return []models.Bar{
			{Time: time.Now().AddDate(0, 0, -2), Close: 0.33},
			{Time: time.Now().AddDate(0, 0, -1), Close: 0.35},
		}, nil
	}

	est, err := c.GetImpliedVolatility("AAPL", nil)
	require.NoError(t, err)
	require.NotNil(t, est.Implied)
	assert.InDelta(t, 0.35, *est.Implied, 1e-9, "latest close of the IV series")
	assert.Nil(t, est.Historical)
	assert.Nil(t, est.Average)
}

func TestImpliedVolatilityAllTiersEmpty(t *testing.T) {
	c, _ := newTestClient(t)

	est, err := c.GetImpliedVolatility("AAPL", nil)
	require.NoError(t, err, "missing market data must never raise")
	assert.Nil(t, est.Implied)
	assert.Nil(t, est.Historical)
	assert.Nil(t, est.Average)
}

func TestHistoricalDataOptionSwitchesToMidpoint(t *testing.T) {
	c, sess := newTestClient(t)
	var got gateway.HistoricalRequest
	sess.BarsFunc = func(req gateway.HistoricalRequest) ([]models.Bar, error) {
		got = req
		return []models.Bar{{Close: 5.0}}, nil
	}

	_, err := c.GetHistoricalData(models.OptionSpec("AAPL", "20250620", 150, models.RightCall),
		HistoricalQuery{WhatToShow: "TRADES"})
	require.NoError(t, err)
	assert.Equal(t, "MIDPOINT", got.WhatToShow, "venue publishes no TRADES bars for options")

	_, err = c.GetHistoricalData(models.StockSpec("AAPL"), HistoricalQuery{WhatToShow: "TRADES"})
	require.NoError(t, err)
	assert.Equal(t, "TRADES", got.WhatToShow)
}

func TestGreeksTablePermissionFastFail(t *testing.T) {
	c, sess := newTestClient(t)
	sess.TickFunc = func(ct gateway.Contract, tk *gateway.Ticker) {
		// first subscription triggers the no-permission error; no ticks
		sess.EmitError(gateway.VenueError{Code: 354, Message: "not subscribed", ReqID: 1})
	}

	strikes := []float64{145, 150, 155, 160}
	rows := c.GreeksTable("AAPL", "20250620", strikes, 150, 0.05, 0.25)
	require.Len(t, rows, len(strikes))

	assert.Equal(t, 1, sess.SubscribeCount(),
		"after the first permission error, remaining strikes must skip subscriptions")
	for _, row := range rows {
		assert.Nil(t, row.CallQuoted)
		assert.Nil(t, row.PutQuoted)
		assert.Greater(t, row.CallPrice(), 0.0, "theoretical fallback price")
	}
}

func TestGreeksTableMergesQuotes(t *testing.T) {
	c, sess := newTestClient(t)
	sess.TickFunc = func(ct gateway.Contract, tk *gateway.Ticker) {
		if ct.Strike == 150 && ct.Right == models.RightCall {
			tk.SetBidAsk(5.00, 5.50)
		}
	}

	rows := c.GreeksTable("AAPL", "20250620", []float64{150}, 150, 0.05, 0.25)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].CallQuoted)
	assert.InDelta(t, 5.25, *rows[0].CallQuoted, 1e-9)
	assert.Nil(t, rows[0].PutQuoted)
	assert.Equal(t, sess.SubscribeCount(), sess.CancelCount())
}
