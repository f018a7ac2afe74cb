// Package greeks provides Black-Scholes pricing and sensitivities plus a
// historical-volatility estimator. Everything here is pure and stateless.
package greeks

import (
	"math"
	"sort"
	"time"

	"github.com/lmorandi/gateway_desk/internal/models"
)

const (
	// DefaultVolatility is returned by HistoricalVolatility when the bar
	// series is too short to estimate from.
	DefaultVolatility = 0.30

	tradingDaysPerYear  = 252.0
	tradingHoursPerDay  = 6.5
	daysPerYearCalendar = 365.0
)

// normCDF is the standard normal cumulative distribution function.
func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

// normPDF is the standard normal density.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}

// PriceAndGreeks computes the Black-Scholes price and sensitivities for a
// European option. Theta is expressed per day, vega per 1 percentage point
// of volatility. Degenerate inputs (daysToExpiry <= 0, S <= 0, K <= 0,
// sigma <= 0) return all-zero Greeks so downstream tables stay well-formed.
func PriceAndGreeks(s, k float64, daysToExpiry int, r, sigma float64, right models.Right) models.Greeks {
	if daysToExpiry <= 0 || s <= 0 || k <= 0 || sigma <= 0 {
		return models.Greeks{}
	}

	t := float64(daysToExpiry) / daysPerYearCalendar
	sqrtT := math.Sqrt(t)

	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT

	nd1 := normPDF(d1)
	discount := math.Exp(-r * t)

	var price, delta, theta float64
	if right == models.RightCall {
		price = s*normCDF(d1) - k*discount*normCDF(d2)
		delta = normCDF(d1)
		theta = -(s*nd1*sigma)/(2*sqrtT) - r*k*discount*normCDF(d2)
	} else {
		price = k*discount*normCDF(-d2) - s*normCDF(-d1)
		delta = normCDF(d1) - 1
		theta = -(s*nd1*sigma)/(2*sqrtT) + r*k*discount*normCDF(-d2)
	}

	gamma := nd1 / (s * sigma * sqrtT)
	vega := s * nd1 * sqrtT / 100 // per 1% change in vol

	return models.Greeks{
		Price: price,
		Delta: delta,
		Gamma: gamma,
		Theta: theta / daysPerYearCalendar, // daily theta
		Vega:  vega,
	}
}

// VectorizedPrice applies the Black-Scholes formula across a slice of
// underlying prices for payoff-curve plotting. Results are clamped to the
// intrinsic-value floor; daysToExpiry <= 0 returns the intrinsic payoff.
func VectorizedPrice(spots []float64, k float64, daysToExpiry int, r, sigma float64, right models.Right) []float64 {
	out := make([]float64, len(spots))
	for i, s := range spots {
		intrinsic := intrinsicValue(s, k, right)
		if daysToExpiry <= 0 {
			out[i] = intrinsic
			continue
		}
		g := PriceAndGreeks(s, k, daysToExpiry, r, sigma, right)
		out[i] = math.Max(g.Price, intrinsic)
	}
	return out
}

func intrinsicValue(s, k float64, right models.Right) float64 {
	if right == models.RightCall {
		return math.Max(s-k, 0)
	}
	return math.Max(k-s, 0)
}

// HistoricalVolatility computes an annualized volatility estimate from the
// closing prices of a bar series: log returns over the window, standard
// deviation at the latest point, annualized by the square root of the
// estimated periods per year. The annualization factor is derived from the
// observed median spacing between bars so intraday series scale by trading
// hours rather than a flat 252. Returns DefaultVolatility when fewer than
// window+1 usable observations exist.
func HistoricalVolatility(bars []models.Bar, window int) float64 {
	if window <= 0 || len(bars) < window+1 {
		return DefaultVolatility
	}

	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1].Close, bars[i].Close
		if prev <= 0 || cur <= 0 {
			continue
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) < window {
		return DefaultVolatility
	}

	// Standard deviation of the most recent window of returns.
	tail := returns[len(returns)-window:]
	var sum float64
	for _, r := range tail {
		sum += r
	}
	mean := sum / float64(len(tail))
	var ss float64
	for _, r := range tail {
		d := r - mean
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(tail)-1))

	annualized := sd * math.Sqrt(periodsPerYear(bars))
	if math.IsNaN(annualized) || math.IsInf(annualized, 0) {
		return DefaultVolatility
	}
	return annualized
}

// periodsPerYear estimates the number of bar periods per year from the
// median time delta between consecutive bars. Intraday bars scale by
// trading hours per day; a flat 252 on hourly data would understate
// volatility by a factor of sqrt(6.5).
func periodsPerYear(bars []models.Bar) float64 {
	if len(bars) < 2 {
		return tradingDaysPerYear
	}

	deltas := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		d := bars[i].Time.Sub(bars[i-1].Time).Hours()
		if d > 0 {
			deltas = append(deltas, d)
		}
	}
	if len(deltas) == 0 {
		return tradingDaysPerYear
	}
	sort.Float64s(deltas)
	median := deltas[len(deltas)/2]

	switch {
	case median < 2: // sub-hourly or hourly bars
		return tradingDaysPerYear * tradingHoursPerDay / median
	case median < 24: // multi-hour bars within a session
		return tradingDaysPerYear * (tradingHoursPerDay / math.Min(median, tradingHoursPerDay))
	case median <= 4*24: // daily bars (weekend gaps push the mean, not the median)
		return tradingDaysPerYear
	default: // weekly or sparser
		return daysPerYearCalendar * 24 / median
	}
}

// DaysToExpiry returns the whole days from now until a YYYYMMDD expiry,
// clamped to at least 1. Unparseable expiries fall back to 30 days.
func DaysToExpiry(expiry string, now time.Time) int {
	exp, err := time.Parse("20060102", expiry)
	if err != nil {
		return 30
	}
	d := int(exp.Sub(now).Hours() / 24)
	if d < 1 {
		return 1
	}
	return d
}

// IVRank places a current IV reading within its historical range as a
// percentage: (current - low) / (high - low) * 100, clamped to [0, 100].
// Invalid readings are filtered; an empty or flat history yields 0.
func IVRank(currentIV float64, historicalIVs []float64) float64 {
	if math.IsNaN(currentIV) || math.IsInf(currentIV, 0) {
		return 0
	}

	clean := make([]float64, 0, len(historicalIVs))
	for _, v := range historicalIVs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0
	}

	low, high := clean[0], clean[0]
	for _, iv := range clean {
		if iv < low {
			low = iv
		}
		if iv > high {
			high = iv
		}
	}
	if high == low {
		return 0
	}
	r := ((currentIV - low) / (high - low)) * 100
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}
