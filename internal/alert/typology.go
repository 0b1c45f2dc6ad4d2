package alert

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/opensource-finance/osprey-sim/internal/account"
)

// Kind is the laundering pattern a typology generates.
type Kind int

const (
	FanIn Kind = iota
	FanOut
	Cycle
	ScatterGather
)

var kindNames = map[Kind]string{
	FanIn:         "fan_in",
	FanOut:        "fan_out",
	Cycle:         "cycle",
	ScatterGather: "scatter_gather",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a typology name such as "fan_in", "FanIn" or "scatter-gather".
func ParseKind(s string) (Kind, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(s))
	norm = strings.TrimSuffix(norm, "typology")
	for k, n := range kindNames {
		if strings.ReplaceAll(n, "_", "") == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown typology %q", ErrMalformedSchedule, s)
}

// Leg is one scheduled transaction of a typology.
type Leg struct {
	Step     int64
	Orig     *account.Account
	Bene     *account.Account
	Amount   float64
	Variance float64
}

// Typology generates the transactions of one alert group.
type Typology struct {
	kind      Kind
	minAmount float64
	maxAmount float64
	startStep int64
	endStep   int64

	// Round-amount affinity, fixed at construction
	roundProbability float64

	group *Group
	legs  []Leg
}

// New creates a typology generator over [start, end]. A negative bound is unbounded
// and resolves to the first or last simulated step. The SAR round-amount affinity is drawn here.
func New(kind Kind, minAmount, maxAmount float64, start, end int64, env *account.Env) (*Typology, error) {
	if _, ok := kindNames[kind]; !ok {
		return nil, fmt.Errorf("%w: unknown typology %d", ErrMalformedSchedule, kind)
	}
	if minAmount > maxAmount {
		return nil, fmt.Errorf("%w: min amount %v above max amount %v", ErrMalformedSchedule, minAmount, maxAmount)
	}
	if start < 0 {
		start = 0
	}
	if end < 0 {
		end = env.Config.TotalSteps - 1
	}
	if end < start {
		return nil, fmt.Errorf("%w: window [%d, %d]", ErrMalformedSchedule, start, end)
	}

	cfg := env.Config
	return &Typology{
		kind:             kind,
		minAmount:        minAmount,
		maxAmount:        maxAmount,
		startStep:        start,
		endStep:          end,
		roundProbability: env.Rand.Affinity(cfg.SARRoundAmountAlpha, cfg.SARRoundAmountBeta, cfg.SARRoundAmountProbability),
	}, nil
}

// Kind returns the typology kind.
func (t *Typology) Kind() Kind { return t.kind }

// Window returns the scheduling window. The biased-start policy moves its start.
func (t *Typology) Window() (start, end int64) { return t.startStep, t.endStep }

// RoundProbability returns the group's round-amount affinity.
func (t *Typology) RoundProbability() float64 { return t.roundProbability }

// Legs returns the precomputed schedule.
func (t *Typology) Legs() []Leg { return t.legs }

// SetParameters assigns the group's roles and computes the schedule.
func (t *Typology) SetParameters(policy Policy, g *Group, env *account.Env) error {
	if _, ok := policyNames[policy]; !ok && t.kind != ScatterGather {
		return fmt.Errorf("%w: unknown scheduling policy %d", ErrMalformedSchedule, policy)
	}
	main := g.MainAccount()
	if main == nil {
		return fmt.Errorf("%w: %s group has no members", ErrMalformedSchedule, t.kind)
	}
	others := make([]*account.Account, 0, len(g.Members))
	for _, m := range g.Members {
		if m != main {
			others = append(others, m)
		}
	}

	var err error
	switch t.kind {
	case FanIn:
		err = t.setupFan(policy, main, others, env, true)
	case FanOut:
		err = t.setupFan(policy, main, others, env, false)
	case Cycle:
		err = t.setupCycle(policy, main, others, env)
	case ScatterGather:
		err = t.setupScatterGather(main, others, env)
	}
	if err != nil {
		return err
	}
	t.group = g
	return nil
}

// SendTransactions fires every leg scheduled at step, in schedule order.
func (t *Typology) SendTransactions(step int64, env *account.Env) {
	if t.group == nil {
		return
	}
	for _, leg := range t.legs {
		if leg.Step != step {
			continue
		}
		amount := env.Rand.RealisticAmount(leg.Amount, leg.Variance, t.roundProbability)
		env.MakeTransaction(step, amount, leg.Orig, leg.Bene, t.group.SAR, t.group.ID)
	}
}

func (t *Typology) setupFan(policy Policy, pivot *account.Account, others []*account.Account, env *account.Env, gather bool) error {
	n := len(others)
	if n == 0 {
		return fmt.Errorf("%w: %s group needs at least 2 members", ErrMalformedSchedule, t.kind)
	}
	steps := t.schedule(policy, n, env)
	amount := env.Rand.Uniform(t.minAmount, t.maxAmount)

	t.legs = make([]Leg, n)
	for i, other := range others {
		leg := Leg{Step: steps[i], Amount: amount}
		if gather {
			leg.Orig, leg.Bene, leg.Variance = other, pivot, env.Config.GatherVariance
		} else {
			leg.Orig, leg.Bene, leg.Variance = pivot, other, env.Config.ScatterVariance
		}
		t.legs[i] = leg
	}
	return nil
}

func (t *Typology) setupCycle(policy Policy, main *account.Account, others []*account.Account, env *account.Env) error {
	ring := append([]*account.Account{main}, others...)
	n := len(ring)
	if n < 2 {
		return fmt.Errorf("%w: cycle group needs at least 2 members", ErrMalformedSchedule)
	}
	steps := t.schedule(policy, n, env)
	// hops happen in ring order
	slices.Sort(steps)

	margin := env.Config.MarginRatio
	t.legs = make([]Leg, n)
	for i := range ring {
		t.legs[i] = Leg{
			Step:     steps[i],
			Orig:     ring[i],
			Bene:     ring[(i+1)%n],
			Amount:   math.Max(t.maxAmount*math.Pow(1-margin, float64(i)), t.minAmount),
			Variance: env.Config.ScatterVariance,
		}
	}
	return nil
}

func (t *Typology) setupScatterGather(orig *account.Account, others []*account.Account, env *account.Env) error {
	if len(others) < 2 {
		return fmt.Errorf("%w: scatter-gather group needs at least 3 members", ErrMalformedSchedule)
	}
	if t.endStep-t.startStep < 1 {
		return fmt.Errorf("%w: scatter-gather window [%d, %d] shorter than 2 steps", ErrMalformedSchedule, t.startStep, t.endStep)
	}
	bene := others[0]
	intermediates := others[1:]

	scatterAmount := t.maxAmount
	gatherAmount := math.Max(scatterAmount*(1-env.Config.MarginRatio), t.minAmount)

	mid := (t.startStep + t.endStep) / 2
	t.legs = make([]Leg, 0, 2*len(intermediates))
	for i, im := range intermediates {
		scatterStep, gatherStep := t.startStep, t.endStep
		if i > 0 {
			scatterStep = t.stepIn(t.startStep+1, mid, t.startStep, env)
			gatherStep = t.stepIn(mid+1, t.endStep-1, t.endStep, env)
		}
		t.legs = append(t.legs,
			Leg{Step: scatterStep, Orig: orig, Bene: im, Amount: scatterAmount, Variance: env.Config.ScatterVariance},
			Leg{Step: gatherStep, Orig: im, Bene: bene, Amount: gatherAmount, Variance: env.Config.GatherVariance},
		)
	}
	return nil
}

// stepIn draws a step uniformly from [lo, hi], or returns fallback when the range is empty.
func (t *Typology) stepIn(lo, hi, fallback int64, env *account.Env) int64 {
	if hi < lo {
		return fallback
	}
	return lo + env.Rand.Int64N(hi-lo+1)
}

// schedule returns n leg steps under policy, all within the window.
func (t *Typology) schedule(policy Policy, n int, env *account.Env) []int64 {
	steps := make([]int64, n)
	switch policy {
	case Simultaneous:
		step := t.stepIn(t.startStep, t.endStep, t.startStep, env)
		for i := range steps {
			steps[i] = step
		}

	case FixedInterval, FixedIntervalBiasedStart:
		if policy == FixedIntervalBiasedStart {
			offset := int64(math.Floor(env.Rand.Exponential(env.Config.StartBiasRange)))
			t.startStep = min(t.startStep+offset, t.endStep)
		} else {
			total := t.endStep - t.startStep + 1
			t.startStep += env.Rand.Int64N(max(total/int64(n), 1))
		}

		span := t.endStep - t.startStep + 1
		if int64(n) < span {
			interval := span / int64(n)
			for i := range steps {
				steps[i] = t.startStep + interval*int64(i)
			}
		} else {
			// more legs than steps: consecutive legs share a step
			for i := range steps {
				steps[i] = t.startStep + int64(i)*span/int64(n)
			}
		}

	case RandomRange:
		for i := range steps {
			steps[i] = t.stepIn(t.startStep, t.endStep, t.startStep, env)
		}
	}
	return steps
}
