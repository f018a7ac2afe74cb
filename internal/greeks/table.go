package greeks

import (
	"sort"

	"github.com/lmorandi/gateway_desk/internal/models"
)

// TableRow is one strike's worth of call and put analytics. Quoted prices
// are mid quotes when a live quote was valid for that contract; Theoretical*
// always carries the model price so rows stay comparable when quotes are
// missing.
type TableRow struct {
	Strike float64

	Call       models.Greeks
	Put        models.Greeks
	CallQuoted *float64
	PutQuoted  *float64
}

// QuoteFunc supplies a mid quote for one option contract. The bool result
// is false when no valid quote exists; the table falls back to the model
// price in that case.
type QuoteFunc func(strike float64, right models.Right) (float64, bool)

// ComputeGreeksTable builds per-strike call and put rows for one expiry.
// Sensitivities are always model-computed; prices prefer the quote source
// when it yields a valid mid. Strikes are returned sorted ascending.
// A nil quotes function produces a purely theoretical table.
func ComputeGreeksTable(strikes []float64, spot float64, daysToExpiry int, r, sigma float64, quotes QuoteFunc) []TableRow {
	sorted := make([]float64, len(strikes))
	copy(sorted, strikes)
	sort.Float64s(sorted)

	rows := make([]TableRow, 0, len(sorted))
	for _, k := range sorted {
		row := TableRow{
			Strike: k,
			Call:   PriceAndGreeks(spot, k, daysToExpiry, r, sigma, models.RightCall),
			Put:    PriceAndGreeks(spot, k, daysToExpiry, r, sigma, models.RightPut),
		}
		if quotes != nil {
			if mid, ok := quotes(k, models.RightCall); ok {
				row.CallQuoted = models.Float64Ptr(mid)
			}
			if mid, ok := quotes(k, models.RightPut); ok {
				row.PutQuoted = models.Float64Ptr(mid)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// CallPrice returns the quoted call mid when present, the model price
// otherwise.
func (t TableRow) CallPrice() float64 {
	if t.CallQuoted != nil {
		return *t.CallQuoted
	}
	return t.Call.Price
}

// PutPrice returns the quoted put mid when present, the model price
// otherwise.
func (t TableRow) PutPrice() float64 {
	if t.PutQuoted != nil {
		return *t.PutQuoted
	}
	return t.Put.Price
}
