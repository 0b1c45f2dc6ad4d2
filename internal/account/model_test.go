package account

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/opensource-finance/osprey-sim/internal/domain"
)

type recorder struct {
	postings []Posting
}

func (r *recorder) Post(p Posting) { r.postings = append(r.postings, p) }

// testConfig returns a configuration with deterministic, unrounded amounts.
func testConfig() domain.SimulationConfig {
	cfg := domain.DefaultConfig().Simulation
	cfg.Seed = 11
	cfg.TotalSteps = 10
	cfg.NormalVariance = 0
	cfg.NormalRoundAmountAlpha = 0
	cfg.NormalRoundAmountBeta = 0
	cfg.NormalRoundAmountProbability = 0
	return cfg
}

func newTestEnv(cfg domain.SimulationConfig) (*Env, *recorder) {
	rec := &recorder{}
	env := NewEnv(cfg, rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return env, rec
}

func newModelAccount(t *testing.T, env *Env, kind Kind, interval, start, end int64) *Account {
	t.Helper()
	a := New("A", false, 1000)
	m := NewModel(kind, env)
	if err := m.SetParameters(interval, 1000, start, end, env); err != nil {
		t.Fatalf("SetParameters failed: %v", err)
	}
	a.AttachModel(m)
	return a
}

func linkBenes(t *testing.T, a *Account, n int) []*Account {
	t.Helper()
	benes := make([]*Account, n)
	for i := range benes {
		benes[i] = New(string(rune('B'+i)), false, 0)
		if err := a.AddBeneficiary(benes[i], ""); err != nil {
			t.Fatalf("AddBeneficiary failed: %v", err)
		}
	}
	return benes
}

func run(a *Account, env *Env) {
	for step := int64(0); step < env.Config.TotalSteps; step++ {
		a.MakeTransactions(step, env)
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"Single", Single},
		{"fan_out", FanOut},
		{"FanIn", FanIn},
		{"forward", Forward},
		{"PERIODICAL", Periodical},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if err != nil {
				t.Fatalf("ParseKind failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}

	if _, err := ParseKind("mutual"); !errors.Is(err, ErrInvalidParameters) {
		t.Errorf("Expected ErrInvalidParameters, got %v", err)
	}
}

func TestSetParameters(t *testing.T) {
	env, _ := newTestEnv(testConfig())

	t.Run("interval below one", func(t *testing.T) {
		m := NewModel(FanOut, env)
		if err := m.SetParameters(0, 0, 0, 5, env); !errors.Is(err, ErrInvalidParameters) {
			t.Errorf("Expected ErrInvalidParameters, got %v", err)
		}
	})

	t.Run("inverted window", func(t *testing.T) {
		m := NewModel(Forward, env)
		if err := m.SetParameters(1, 0, 6, 2, env); !errors.Is(err, ErrInvalidParameters) {
			t.Errorf("Expected ErrInvalidParameters, got %v", err)
		}
	})

	t.Run("unbounded end resolves to horizon", func(t *testing.T) {
		m := NewModel(Forward, env)
		if err := m.SetParameters(3, 0, 1, -1, env); err != nil {
			t.Fatalf("SetParameters failed: %v", err)
		}
		if _, end := m.Window(); end != env.Config.TotalSteps {
			t.Errorf("Expected end %d, got %d", env.Config.TotalSteps, end)
		}
	})

	t.Run("unbounded start is decentralized", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			m := NewModel(Periodical, env)
			if err := m.SetParameters(4, 0, -1, -1, env); err != nil {
				t.Fatalf("SetParameters failed: %v", err)
			}
			if start, _ := m.Window(); start < 0 || start >= 4 {
				t.Fatalf("Expected start in [0,4), got %d", start)
			}
		}
	})

	t.Run("single starts at zero", func(t *testing.T) {
		m := NewModel(Single, env)
		if err := m.SetParameters(4, 0, -1, -1, env); err != nil {
			t.Fatalf("SetParameters failed: %v", err)
		}
		start, end := m.Window()
		if start != 0 {
			t.Errorf("Expected start 0, got %d", start)
		}
		if m.TxStep() < start || m.TxStep() > end {
			t.Errorf("txStep %d outside [%d,%d]", m.TxStep(), start, end)
		}
	})
}

func TestNewModelDrawsBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAmountRange = 500
	env, _ := newTestEnv(cfg)

	m := NewModel(Forward, env)
	if m.MaxAmount() < cfg.MaxAmount || m.MaxAmount() >= cfg.MaxAmount+cfg.MaxAmountRange {
		t.Errorf("max amount %v outside [%v,%v)", m.MaxAmount(), cfg.MaxAmount, cfg.MaxAmount+cfg.MaxAmountRange)
	}
	if m.RoundProbability() != 0 {
		t.Errorf("Expected fallback affinity 0, got %v", m.RoundProbability())
	}
}

func TestFanOutRoundRobin(t *testing.T) {
	env, rec := newTestEnv(testConfig())
	a := newModelAccount(t, env, FanOut, 2, 0, -1)
	benes := linkBenes(t, a, 3)

	run(a, env)

	wantSteps := []int64{0, 2, 4, 6, 8}
	wantBenes := []*Account{benes[0], benes[1], benes[2], benes[0], benes[1]}
	if len(rec.postings) != len(wantSteps) {
		t.Fatalf("Expected %d transactions, got %d", len(wantSteps), len(rec.postings))
	}
	for i, p := range rec.postings {
		if p.Step != wantSteps[i] {
			t.Errorf("tx %d: expected step %d, got %d", i, wantSteps[i], p.Step)
		}
		if p.Bene != wantBenes[i] {
			t.Errorf("tx %d: expected bene %s, got %s", i, wantBenes[i].ID(), p.Bene.ID())
		}
		if p.Orig != a || p.SAR || p.AlertID != domain.NoAlert {
			t.Errorf("tx %d: unexpected posting %+v", i, p)
		}
		if p.Amount < env.Config.MinAmount || p.Amount >= env.Config.MaxAmount {
			t.Errorf("tx %d: amount %v out of range", i, p.Amount)
		}
	}
}

func TestFanOutBalanceLimited(t *testing.T) {
	cfg := testConfig()
	cfg.BalanceLimited = true
	env, rec := newTestEnv(cfg)

	a := New("A", false, 0)
	m := NewModel(FanOut, env)
	if err := m.SetParameters(1, 0, 0, -1, env); err != nil {
		t.Fatalf("SetParameters failed: %v", err)
	}
	a.AttachModel(m)
	benes := linkBenes(t, a, 2)

	a.MakeTransactions(0, env)
	a.MakeTransactions(1, env)
	if len(rec.postings) != 0 {
		t.Fatalf("Expected no transactions from an empty account, got %d", len(rec.postings))
	}

	// the cursor still advanced past both beneficiaries
	a.Deposit(1e9)
	a.MakeTransactions(2, env)
	if len(rec.postings) != 1 || rec.postings[0].Bene != benes[0] {
		t.Errorf("Expected wraparound to the first beneficiary, got %+v", rec.postings)
	}
}

func TestFanInRoundRobin(t *testing.T) {
	env, rec := newTestEnv(testConfig())
	a := newModelAccount(t, env, FanIn, 1, 0, -1)

	origs := make([]*Account, 2)
	for i := range origs {
		origs[i] = New(string(rune('X'+i)), false, 1000)
		origs[i].AttachModel(NewModel(Forward, env))
		if err := origs[i].AddBeneficiary(a, ""); err != nil {
			t.Fatalf("AddBeneficiary failed: %v", err)
		}
	}

	for step := int64(0); step < 4; step++ {
		a.MakeTransactions(step, env)
	}

	if len(rec.postings) != 4 {
		t.Fatalf("Expected 4 transactions, got %d", len(rec.postings))
	}
	for i, p := range rec.postings {
		if p.Orig != origs[i%2] || p.Bene != a {
			t.Errorf("tx %d: expected %s -> A, got %s -> %s", i, origs[i%2].ID(), p.Orig.ID(), p.Bene.ID())
		}
	}
}

func TestForwardRoundRobin(t *testing.T) {
	env, rec := newTestEnv(testConfig())
	a := newModelAccount(t, env, Forward, 3, 1, 7)
	benes := linkBenes(t, a, 2)

	run(a, env)

	// steps 1, 4, 7
	if len(rec.postings) != 3 {
		t.Fatalf("Expected 3 transactions, got %d", len(rec.postings))
	}
	for i, want := range []*Account{benes[0], benes[1], benes[0]} {
		if rec.postings[i].Bene != want {
			t.Errorf("tx %d: expected bene %s", i, want.ID())
		}
		if rec.postings[i].Step != int64(1+3*i) {
			t.Errorf("tx %d: expected step %d, got %d", i, 1+3*i, rec.postings[i].Step)
		}
	}
}

func TestPeriodicalBursts(t *testing.T) {
	env, rec := newTestEnv(testConfig())
	a := newModelAccount(t, env, Periodical, 5, 0, -1)
	benes := linkBenes(t, a, 4)

	run(a, env)

	byStep := map[int64][]Posting{}
	for _, p := range rec.postings {
		byStep[p.Step] = append(byStep[p.Step], p)
	}
	for _, step := range []int64{0, 5} {
		burst := byStep[step]
		if len(burst) < 1 || len(burst) > len(benes) {
			t.Fatalf("step %d: burst size %d outside [1,%d]", step, len(burst), len(benes))
		}
		// the cursor resets after every burst
		for i, p := range burst {
			if p.Bene != benes[i] {
				t.Errorf("step %d: tx %d expected bene %s, got %s", step, i, benes[i].ID(), p.Bene.ID())
			}
		}
	}
	if len(byStep) != 2 {
		t.Errorf("Expected activity on 2 steps, got %d", len(byStep))
	}
}

func TestSingleFiresOncePerDraw(t *testing.T) {
	env, rec := newTestEnv(testConfig())
	a := newModelAccount(t, env, Single, 1, 3, 3)
	linkBenes(t, a, 3)

	run(a, env)

	if len(rec.postings) != 1 {
		t.Fatalf("Expected exactly 1 transaction, got %d", len(rec.postings))
	}
	if rec.postings[0].Step != 3 {
		t.Errorf("Expected step 3, got %d", rec.postings[0].Step)
	}
	if a.Model().TxStep() != 3 {
		t.Errorf("Expected redrawn txStep 3, got %d", a.Model().TxStep())
	}
}

func TestEmptyNeighborsConsumeNoRandomness(t *testing.T) {
	for _, kind := range []Kind{Single, FanOut, FanIn, Forward, Periodical} {
		t.Run(kind.String(), func(t *testing.T) {
			env, rec := newTestEnv(testConfig())
			a := newModelAccount(t, env, kind, 1, 0, 0)
			twinEnv, _ := newTestEnv(testConfig())
			newModelAccount(t, twinEnv, kind, 1, 0, 0)

			a.MakeTransactions(0, env)

			if len(rec.postings) != 0 {
				t.Errorf("Expected no transactions, got %d", len(rec.postings))
			}
			if env.Rand.Float64() != twinEnv.Rand.Float64() {
				t.Error("Expected the random stream to be untouched")
			}
		})
	}
}

func TestScheduleProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("due steps lie in the window and are spaced by the interval", prop.ForAll(
		func(seed int64, interval, start, length int64) bool {
			cfg := testConfig()
			cfg.Seed = seed
			cfg.TotalSteps = 200
			env := NewEnv(cfg, PosterFunc(func(Posting) {}), slog.New(slog.NewTextHandler(io.Discard, nil)))

			m := NewModel(Forward, env)
			if err := m.SetParameters(interval, 0, start, start+length, env); err != nil {
				return false
			}
			last := int64(-1)
			for step := int64(0); step < cfg.TotalSteps; step++ {
				if !m.IsValidStep(step) {
					continue
				}
				if step < start || step > start+length {
					return false
				}
				if last >= 0 && step-last != interval {
					return false
				}
				last = step
			}
			return true
		},
		gen.Int64(),
		gen.Int64Range(1, 20),
		gen.Int64Range(0, 100),
		gen.Int64Range(0, 100),
	))

	properties.TestingRun(t)
}
