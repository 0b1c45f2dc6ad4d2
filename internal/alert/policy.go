package alert

import (
	"fmt"
	"strconv"
	"strings"
)

// Policy selects how typology legs are spread over the window.
type Policy int

const (
	// Simultaneous fires every leg on one random step.
	Simultaneous Policy = 1
	// FixedInterval spreads legs evenly from a randomly offset start.
	FixedInterval Policy = 2
	// RandomRange draws every leg step independently.
	RandomRange Policy = 3
	// FixedIntervalBiasedStart spreads legs evenly from an exponentially drawn start.
	FixedIntervalBiasedStart Policy = 4
)

var policyNames = map[Policy]string{
	Simultaneous:             "simultaneous",
	FixedInterval:            "fixed_interval",
	RandomRange:              "random_range",
	FixedIntervalBiasedStart: "fixed_interval_biased_start",
}

func (p Policy) String() string {
	if n, ok := policyNames[p]; ok {
		return n
	}
	return "Policy(" + strconv.Itoa(int(p)) + ")"
}

// ParsePolicy accepts a policy name or its numeric identifier.
func ParsePolicy(s string) (Policy, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		p := Policy(n)
		if _, ok := policyNames[p]; ok {
			return p, nil
		}
	}
	for p, name := range policyNames {
		if name == strings.ReplaceAll(s, "-", "_") {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown scheduling policy %q", ErrMalformedSchedule, s)
}
