package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"option premium to cent", 5.2549, 0.01, 5.25},
		{"rounds up past midpoint", 5.2551, 0.01, 5.26},
		{"midpoint away from zero", 2.475, 0.01, 2.48},
		{"negative midpoint away from zero", -2.475, 0.01, -2.48},
		{"nickel tick", 1.27, 0.05, 1.25},
		{"strike to five points", 452.3, 5, 450},
		{"already on tick", 1.25, 0.05, 1.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, RoundToTick(tt.x, tt.tick), 1e-10)
		})
	}
}

func TestFloorToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"basic floor", 1.237, 0.01, 1.23},
		{"on tick stays", 1.30, 0.05, 1.30},
		{"noise below boundary stays down", 1.2999999999999, 0.05, 1.25},
		{"noise above boundary stays down", 1.2500000000001, 0.05, 1.25},
		{"negative floors away from zero", -1.237, 0.01, -1.24},
		{"negative on tick stays", -1.25, 0.05, -1.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FloorToTick(tt.x, tt.tick), 1e-10)
		})
	}
}

func TestCeilToTick(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		tick float64
		want float64
	}{
		{"basic ceil", 1.231, 0.01, 1.24},
		{"on tick stays", 1.30, 0.05, 1.30},
		{"noise above boundary rounds up", 1.2500000000001, 0.05, 1.30},
		{"noise below boundary rounds up", 1.2999999999999, 0.05, 1.30},
		{"negative ceils toward zero", -1.231, 0.01, -1.23},
		{"negative on tick stays", -1.25, 0.05, -1.25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CeilToTick(tt.x, tt.tick), 1e-10)
		})
	}
}

// Non-finite inputs and degenerate ticks pass through unchanged so a bad
// quote upstream cannot turn into a plausible-looking price here.
func TestTickPassthrough(t *testing.T) {
	funcs := map[string]func(x, tick float64) float64{
		"RoundToTick": RoundToTick,
		"FloorToTick": FloorToTick,
		"CeilToTick":  CeilToTick,
	}

	for name, fn := range funcs {
		t.Run(name, func(t *testing.T) {
			assert.True(t, math.IsNaN(fn(math.NaN(), 0.01)), "NaN passes through")
			assert.Equal(t, math.Inf(1), fn(math.Inf(1), 0.01))
			assert.Equal(t, math.Inf(-1), fn(math.Inf(-1), 0.01))
			assert.Equal(t, 1.2345, fn(1.2345, 0), "zero tick returns input")
		})
	}
}

func TestNegativeTickUsesMagnitude(t *testing.T) {
	assert.InDelta(t, 5.25, RoundToTick(5.2549, -0.01), 1e-10)
	assert.InDelta(t, 1.23, FloorToTick(1.237, -0.01), 1e-10)
	assert.InDelta(t, 1.24, CeilToTick(1.231, -0.01), 1e-10)
}
