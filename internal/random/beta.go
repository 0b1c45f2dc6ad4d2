package random

import (
	"math"
)

const (
	betaEpsilon    = 1e-14
	betaTiny       = 1e-300
	betaIterations = 300
	bisectionSteps = 100
)

// RegularizedIncompleteBeta returns I_x(a, b), the CDF of Beta(a, b) at x.
// It returns NaN for non-positive shape parameters.
func RegularizedIncompleteBeta(a, b, x float64) float64 {
	switch {
	case a <= 0 || b <= 0 || math.IsNaN(x):
		return math.NaN()
	case x <= 0:
		return 0
	case x >= 1:
		return 1
	}

	la, _ := math.Lgamma(a + b)
	lb, _ := math.Lgamma(a)
	lc, _ := math.Lgamma(b)
	front := math.Exp(la - lb - lc + a*math.Log(x) + b*math.Log1p(-x))

	// The continued fraction converges fast only below the mean; use the symmetry otherwise.
	if x < (a+1)/(a+b+2) {
		return front * betaContinuedFraction(a, b, x) / a
	}
	return 1 - front*betaContinuedFraction(b, a, 1-x)/b
}

// betaContinuedFraction evaluates the continued fraction of the incomplete beta
// function with the modified Lentz method.
func betaContinuedFraction(a, b, x float64) float64 {
	qab := a + b
	qap := a + 1
	qam := a - 1

	c := 1.0
	d := 1 - qab*x/qap
	if math.Abs(d) < betaTiny {
		d = betaTiny
	}
	d = 1 / d
	h := d

	for m := 1; m <= betaIterations; m++ {
		fm := float64(m)
		m2 := 2 * fm

		aa := fm * (b - fm) * x / ((qam + m2) * (a + m2))
		d = 1 + aa*d
		if math.Abs(d) < betaTiny {
			d = betaTiny
		}
		c = 1 + aa/c
		if math.Abs(c) < betaTiny {
			c = betaTiny
		}
		d = 1 / d
		h *= d * c

		aa = -(a + fm) * (qab + fm) * x / ((a + m2) * (qap + m2))
		d = 1 + aa*d
		if math.Abs(d) < betaTiny {
			d = betaTiny
		}
		c = 1 + aa/c
		if math.Abs(c) < betaTiny {
			c = betaTiny
		}
		d = 1 / d
		del := d * c
		h *= del
		if math.Abs(del-1) < betaEpsilon {
			break
		}
	}
	return h
}

// BetaQuantile returns x such that I_x(a, b) = p.
// p <= 0 yields 0 and p >= 1 yields 1; non-positive shape parameters yield NaN.
func BetaQuantile(a, b, p float64) float64 {
	switch {
	case a <= 0 || b <= 0 || math.IsNaN(p):
		return math.NaN()
	case p <= 0:
		return 0
	case p >= 1:
		return 1
	}

	lo, hi := 0.0, 1.0
	for i := 0; i < bisectionSteps; i++ {
		mid := (lo + hi) / 2
		if RegularizedIncompleteBeta(a, b, mid) < p {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < betaEpsilon {
			break
		}
	}
	return (lo + hi) / 2
}
