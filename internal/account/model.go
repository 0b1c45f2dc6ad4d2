package account

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/osprey-sim/internal/domain"
)

// Kind is the behavior of a per-account transaction model.
type Kind int

const (
	Single Kind = iota
	FanOut
	FanIn
	Forward
	Periodical
)

var kindNames = map[Kind]string{
	Single:     "Single",
	FanOut:     "FanOut",
	FanIn:      "FanIn",
	Forward:    "Forward",
	Periodical: "Periodical",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a model name such as "FanOut", "fan_out" or "fan-out".
func ParseKind(s string) (Kind, error) {
	norm := strings.NewReplacer("_", "", "-", "", " ", "").Replace(strings.ToLower(s))
	for k, n := range kindNames {
		if strings.ToLower(n) == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown model %q", ErrInvalidParameters, s)
}

// Model generates the normal activity of one account.
type Model struct {
	kind     Kind
	interval int64
	balance  float64

	startStep int64
	endStep   int64

	// Round-amount affinity and amount bound, fixed at construction
	roundProbability float64
	maxAmount        float64

	// Round-robin cursor
	index int

	// Next fire step of a Single model
	txStep int64
}

// NewModel creates a model. The actor's round-amount affinity and its maximum amount
// are drawn here, in that order.
func NewModel(kind Kind, env *Env) *Model {
	cfg := env.Config
	m := &Model{
		kind:      kind,
		interval:  1,
		startStep: -1,
		endStep:   -1,
		txStep:    -1,
	}
	m.roundProbability = env.Rand.Affinity(cfg.NormalRoundAmountAlpha, cfg.NormalRoundAmountBeta, cfg.NormalRoundAmountProbability)
	m.maxAmount = cfg.MaxAmount + cfg.MaxAmountRange*env.Rand.Float64()
	return m
}

// Kind returns the model kind.
func (m *Model) Kind() Kind { return m.kind }

// Interval returns the step interval between activity.
func (m *Model) Interval() int64 { return m.interval }

// Window returns the resolved active window.
func (m *Model) Window() (start, end int64) { return m.startStep, m.endStep }

// RoundProbability returns the actor's round-amount affinity.
func (m *Model) RoundProbability() float64 { return m.roundProbability }

// MaxAmount returns the actor's upper amount bound.
func (m *Model) MaxAmount() float64 { return m.maxAmount }

// InitialBalance returns the balance the model was configured with.
func (m *Model) InitialBalance() float64 { return m.balance }

// TxStep returns the next step a Single model fires at.
func (m *Model) TxStep() int64 { return m.txStep }

// SetParameters configures the model. A negative start or end is unbounded:
// end resolves to the horizon, start to 0 for Single and to a random offset
// below interval otherwise, so periodic accounts do not all fire together.
func (m *Model) SetParameters(interval int64, balance float64, start, end int64, env *Env) error {
	if interval < 1 {
		return fmt.Errorf("%w: interval %d for %s model", ErrInvalidParameters, interval, m.kind)
	}
	m.interval = interval
	m.balance = balance

	if end < 0 {
		end = env.Config.TotalSteps
	}
	if start < 0 {
		if m.kind == Single {
			start = 0
		} else {
			start = env.Rand.Int64N(interval)
		}
	}
	if end < start {
		return fmt.Errorf("%w: window [%d, %d] for %s model", ErrInvalidParameters, start, end, m.kind)
	}
	m.startStep, m.endStep = start, end

	if m.kind == Single {
		m.drawTxStep(env)
	}
	return nil
}

func (m *Model) drawTxStep(env *Env) {
	m.txStep = m.startStep + env.Rand.Int64N(m.endStep-m.startStep+1)
}

// IsValidStep reports whether the model is due at a step.
func (m *Model) IsValidStep(step int64) bool {
	if m.kind == Single {
		return step == m.txStep
	}
	if step < m.startStep || step > m.endStep {
		return false
	}
	return (step-m.startStep)%m.interval == 0
}

// SuggestAmount returns a base amount uniform in [min_amount, max).
func (m *Model) SuggestAmount(env *Env, max float64) float64 {
	return env.Rand.Uniform(env.Config.MinAmount, max)
}

func (m *Model) baseAmount(env *Env) float64 {
	return m.SuggestAmount(env, m.maxAmount)
}

func (m *Model) realistic(env *Env, amount float64) float64 {
	return env.Rand.RealisticAmount(amount, env.Config.NormalVariance, m.roundProbability)
}

// MakeTransactions emits the account's transactions for a step, if any are due.
func (m *Model) MakeTransactions(step int64, acct *Account, env *Env) {
	if !m.IsValidStep(step) {
		return
	}
	switch m.kind {
	case Single:
		m.single(step, acct, env)
	case FanOut:
		m.fanOut(step, acct, env)
	case FanIn:
		m.fanIn(step, acct, env)
	case Forward:
		m.forward(step, acct, env)
	case Periodical:
		m.periodical(step, acct, env)
	}
}

func (m *Model) single(step int64, acct *Account, env *Env) {
	benes := acct.Beneficiaries()
	if len(benes) == 0 {
		return
	}
	amount := m.baseAmount(env)
	bene := benes[env.Rand.IntN(len(benes))]
	env.MakeTransaction(step, m.realistic(env, amount), acct, bene, false, domain.NoAlert)

	// Single models fire again at a fresh step of the window.
	m.drawTxStep(env)
}

func (m *Model) fanOut(step int64, acct *Account, env *Env) {
	benes := acct.Beneficiaries()
	if len(benes) == 0 {
		return
	}
	if m.index >= len(benes) {
		m.index = 0
	}
	bene := benes[m.index]
	m.index++

	amount := env.Adjuster.Adjust(acct, bene, m.baseAmount(env))
	if amount <= 0 {
		env.Logger.Debug("fan-out amount adjusted away",
			"step", step,
			"orig_id", acct.ID(),
			"bene_id", bene.ID(),
		)
		return
	}
	env.MakeTransaction(step, m.realistic(env, amount), acct, bene, false, domain.NoAlert)
}

func (m *Model) fanIn(step int64, acct *Account, env *Env) {
	origs := acct.Originators()
	if len(origs) == 0 {
		return
	}
	if m.index >= len(origs) {
		m.index = 0
	}
	orig := origs[m.index]
	m.index++

	sizer := orig.Model()
	if sizer == nil {
		sizer = m
	}
	amount := sizer.SuggestAmount(env, m.maxAmount)
	env.MakeTransaction(step, m.realistic(env, amount), orig, acct, false, domain.NoAlert)
}

func (m *Model) forward(step int64, acct *Account, env *Env) {
	benes := acct.Beneficiaries()
	if len(benes) == 0 {
		return
	}
	if m.index >= len(benes) {
		m.index = 0
	}
	bene := benes[m.index]
	m.index++

	env.MakeTransaction(step, m.realistic(env, m.baseAmount(env)), acct, bene, false, domain.NoAlert)
}

func (m *Model) periodical(step int64, acct *Account, env *Env) {
	benes := acct.Beneficiaries()
	if len(benes) == 0 {
		return
	}
	if m.index >= len(benes) {
		m.index = 0
	}

	burst := env.Rand.IntN(len(benes)) + 1
	for i := 0; i < burst && m.index < len(benes); i++ {
		bene := benes[m.index]
		env.MakeTransaction(step, m.realistic(env, m.baseAmount(env)), acct, bene, false, domain.NoAlert)
		m.index++
	}
	m.index = 0
}
