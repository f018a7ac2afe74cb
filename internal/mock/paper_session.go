// Package mock provides a scripted venue session for paper mode: the desk
// runs end to end against synthetic quotes and chains without a gateway.
package mock

import (
	"crypto/rand"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/lmorandi/gateway_desk/internal/gateway"
	"github.com/lmorandi/gateway_desk/internal/greeks"
	"github.com/lmorandi/gateway_desk/internal/models"
)

// secureFloat64 generates a cryptographically secure random float64 between 0 and 1
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		// Fallback to a reasonable default if crypto/rand fails
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// PaperMarket simulates one underlying with a slow random walk and prices
// its options with the pricing model.
type PaperMarket struct {
	mu    sync.Mutex
	price float64
	iv    float64
}

// NewPaperMarket seeds a synthetic underlying around a base price.
func NewPaperMarket() *PaperMarket {
	return &PaperMarket{
		price: 450.0 + secureFloat64()*10, // index-like level
		iv:    0.12 + secureFloat64()*0.18,
	}
}

// Price advances the walk and returns the current underlying price.
func (p *PaperMarket) Price() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.price += (secureFloat64() - 0.5) * 2
	return p.price
}

// IV drifts the volatility level within a plausible band.
func (p *PaperMarket) IV() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.iv += (secureFloat64() - 0.5) * 0.01
	p.iv = math.Max(0.08, math.Min(0.60, p.iv))
	return p.iv
}

// NewPaperSession builds a mock session scripted against a synthetic
// market: contracts qualify, chains list monthly expirations at 5-point
// strikes, quotes tick immediately, and orders fill.
func NewPaperSession() *gateway.MockSession {
	market := NewPaperMarket()
	sess := gateway.NewMockSession()

	sess.ChainFunc = func(u gateway.Contract) ([]gateway.ChainParams, error) {
		spot := market.Price()
		base := 5 * math.Round(spot/5)

		var strikes []float64
		for k := base - 50; k <= base+50; k += 5 {
			strikes = append(strikes, k)
		}
		var expirations []string
		now := time.Now()
		for m := 1; m <= 3; m++ {
			expirations = append(expirations, thirdFriday(now.AddDate(0, m, 0)).Format("20060102"))
		}
		return []gateway.ChainParams{{
			TradingClass: u.Symbol,
			Multiplier:   "100",
			Expirations:  expirations,
			Strikes:      strikes,
		}}, nil
	}

	sess.TickFunc = func(c gateway.Contract, t *gateway.Ticker) {
		spot := market.Price()
		iv := market.IV()

		if c.SecType == models.SecurityOption {
			days := greeks.DaysToExpiry(c.Expiry, time.Now())
			g := greeks.PriceAndGreeks(spot, c.Strike, days, 0.05, iv, c.Right)
			mid := math.Max(g.Price, 0.05)
			t.SetBidAsk(mid*0.98, mid*1.02)
			t.SetVols(iv, iv*0.9)
			return
		}
		t.SetBidAsk(spot-0.01, spot+0.01)
		t.SetLast(spot)
		t.SetVols(iv, iv*0.9)
	}

	sess.BarsFunc = func(req gateway.HistoricalRequest) ([]models.Bar, error) {
		n := 60
		bars := make([]models.Bar, 0, n)
		level := market.Price()
		iv := market.IV()
		for i := n - 1; i >= 0; i-- {
			day := time.Now().AddDate(0, 0, -i).Truncate(24 * time.Hour)
			level *= 1 + (secureFloat64()-0.5)*0.01
			close := level
			if req.WhatToShow == "OPTION_IMPLIED_VOLATILITY" {
				close = iv * (1 + (secureFloat64()-0.5)*0.1)
			}
			bars = append(bars, models.Bar{
				Time:  day,
				Open:  close * 0.999,
				High:  close * 1.004,
				Low:   close * 0.996,
				Close: close,
			})
		}
		return bars, nil
	}

	sess.StatusFunc = func(orderID int64) (gateway.OrderStatus, error) {
		return gateway.OrderStatus{OrderID: orderID, Status: gateway.StatusFilled}, nil
	}

	return sess
}

// thirdFriday returns the monthly option expiration for t's month.
func thirdFriday(t time.Time) time.Time {
	d := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	fridays := 0
	for {
		if d.Weekday() == time.Friday {
			fridays++
			if fridays == 3 {
				return d
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}
