// Package random provides the seeded random stream shared by every generator of a run
// and the amount synthesis built on top of it.
package random

import (
	"math"
	"math/rand/v2"
)

// roundUnit is the granularity of round amounts.
const roundUnit = 100.0

// Stream is a deterministic pseudo-random source.
// A Stream is not safe for concurrent use; a run owns exactly one.
type Stream struct {
	r *rand.Rand
}

// New creates a stream from a seed. Equal seeds yield equal sequences.
func New(seed int64) *Stream {
	s := uint64(seed)
	return &Stream{r: rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))}
}

// Float64 returns a value in [0, 1).
func (s *Stream) Float64() float64 {
	return s.r.Float64()
}

// Uniform returns a value in [min, max).
func (s *Stream) Uniform(min, max float64) float64 {
	return min + s.r.Float64()*(max-min)
}

// IntN returns a value in [0, n). n <= 0 returns 0.
func (s *Stream) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return s.r.IntN(n)
}

// Int64N returns a value in [0, n). n <= 0 returns 0.
func (s *Stream) Int64N(n int64) int64 {
	if n <= 0 {
		return 0
	}
	return s.r.Int64N(n)
}

// Exponential returns an exponentially distributed value with the given mean.
func (s *Stream) Exponential(mean float64) float64 {
	return -math.Log(1-s.r.Float64()) * mean
}

// Beta draws from Beta(alpha, beta) by inverting the CDF at one uniform draw.
func (s *Stream) Beta(alpha, beta float64) float64 {
	return BetaQuantile(alpha, beta, s.r.Float64())
}

// Affinity returns the round-amount probability of a new actor.
// It is drawn from Beta(alpha, beta) when both parameters are positive,
// otherwise the fallback probability is used without consuming randomness.
func (s *Stream) Affinity(alpha, beta, fallback float64) float64 {
	if alpha <= 0 || beta <= 0 {
		return fallback
	}
	return s.Beta(alpha, beta)
}

// RealisticAmount multiplies base by a factor in [1-variance, 1+variance)
// and, with probability roundProbability, floors the result to a multiple of 100.
// The result is non-positive only when base is, or when rounding floors a small amount to 0.
func (s *Stream) RealisticAmount(base, variance, roundProbability float64) float64 {
	amount := base * s.Uniform(1-variance, 1+variance)
	if s.r.Float64() < roundProbability {
		amount = math.Floor(amount/roundUnit) * roundUnit
	}
	return amount
}

// IsRound reports whether an amount is a multiple of 100.
func IsRound(amount float64) bool {
	return amount != 0 && math.Mod(amount, roundUnit) == 0
}
