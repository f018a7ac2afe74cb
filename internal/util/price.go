// Package util provides price and strike tick-rounding helpers. Venue
// limit prices must land on a tick boundary or the order is rejected.
package util

import "math"

// tickEpsilon absorbs float division noise at tick boundaries. It must stay
// well below the smallest meaningful price fraction or floor and ceil snap
// across real boundaries.
const tickEpsilon = 1e-12

// RoundToTick rounds x to the nearest tick increment, ties away from zero.
// A zero tick or non-finite x is returned unchanged; a negative tick is
// treated as its absolute value.
func RoundToTick(x, tick float64) float64 {
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	tick = math.Abs(tick)
	q := math.Floor(math.Abs(x)/tick + 0.5 + tickEpsilon)
	return math.Copysign(q*tick, x)
}

// FloorToTick rounds x down to a tick boundary.
func FloorToTick(x, tick float64) float64 {
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	tick = math.Abs(tick)
	return math.Floor(x/tick+tickEpsilon) * tick
}

// CeilToTick rounds x up to a tick boundary.
func CeilToTick(x, tick float64) float64 {
	if tick == 0 || math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	tick = math.Abs(tick)
	return math.Ceil(x/tick-tickEpsilon) * tick
}
