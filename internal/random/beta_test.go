package random

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestBetaQuantileClosedForms(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want func(p float64) float64
	}{
		{"uniform", 1, 1, func(p float64) float64 { return p }},
		{"beta(2,1)", 2, 1, math.Sqrt},
		{"beta(1,2)", 1, 2, func(p float64) float64 { return 1 - math.Sqrt(1-p) }},
		{"arcsine", 0.5, 0.5, func(p float64) float64 {
			s := math.Sin(math.Pi * p / 2)
			return s * s
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, p := range []float64{0.01, 0.1, 0.25, 0.5, 0.75, 0.9, 0.99} {
				assert.InDelta(t, tt.want(p), BetaQuantile(tt.a, tt.b, p), 1e-6, "p=%v", p)
			}
		})
	}
}

func TestBetaQuantileEdges(t *testing.T) {
	assert.Equal(t, 0.0, BetaQuantile(2, 3, 0))
	assert.Equal(t, 0.0, BetaQuantile(2, 3, -1))
	assert.Equal(t, 1.0, BetaQuantile(2, 3, 1))
	assert.True(t, math.IsNaN(BetaQuantile(0, 3, 0.5)))
	assert.True(t, math.IsNaN(BetaQuantile(2, -1, 0.5)))
}

func TestRegularizedIncompleteBeta(t *testing.T) {
	assert.Equal(t, 0.0, RegularizedIncompleteBeta(2, 3, 0))
	assert.Equal(t, 1.0, RegularizedIncompleteBeta(2, 3, 1))
	// Beta(2,2) CDF: 3x^2 - 2x^3
	for _, x := range []float64{0.1, 0.3, 0.5, 0.8} {
		assert.InDelta(t, 3*x*x-2*x*x*x, RegularizedIncompleteBeta(2, 2, x), 1e-9)
	}
	// symmetry I_x(a,b) = 1 - I_{1-x}(b,a)
	assert.InDelta(t, 1-RegularizedIncompleteBeta(5, 2, 0.6), RegularizedIncompleteBeta(2, 5, 0.4), 1e-9)
}

func TestBetaProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("quantile inverts the CDF", prop.ForAll(
		func(a, b, p float64) bool {
			x := BetaQuantile(a, b, p)
			return x >= 0 && x <= 1 && math.Abs(RegularizedIncompleteBeta(a, b, x)-p) < 1e-6
		},
		gen.Float64Range(0.5, 20),
		gen.Float64Range(0.5, 20),
		gen.Float64Range(0.001, 0.999),
	))

	properties.Property("quantile is monotone in p", prop.ForAll(
		func(a, b, p float64) bool {
			return BetaQuantile(a, b, p) <= BetaQuantile(a, b, math.Min(p+0.05, 1))
		},
		gen.Float64Range(0.5, 20),
		gen.Float64Range(0.5, 20),
		gen.Float64Range(0, 1),
	))

	properties.TestingRun(t)
}
