package topology

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/osprey-sim/internal/account"
	"github.com/opensource-finance/osprey-sim/internal/alert"
	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/sim"
)

const sampleYAML = `
accounts:
  - {id: A, balance: 1000, model: fan_out, interval: 2}
  - {id: B, balance: 1000, model: fan_in, interval: 3, start: 1}
  - {id: C, sar: true, balance: 500, model: single}
  - {id: D, sar: true, balance: 500, model: forward, end: 10}
  - {id: E, sar: true, balance: 500, model: periodical}
transactions:
  - {orig: A, bene: B}
  - {orig: A, bene: C, type: WIRE}
  - {orig: C, bene: D}
  - {orig: D, bene: E}
alerts:
  - id: 1
    typology: scatter_gather
    sar: true
    min_amount: 100
    max_amount: 900
    start: 2
    end: 12
    main: C
    members: [C, D, E, A]
  - id: 2
    typology: fan_in
    sar: true
    policy: "1"
    min_amount: 100
    max_amount: 200
    members: [E, C, D]
`

func newSim(seed int64) *sim.Simulator {
	cfg := domain.DefaultConfig().Simulation
	cfg.Seed = seed
	cfg.TotalSteps = 20
	return sim.New(cfg, nil, sim.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestParseAndBuild(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	st := doc.Stats()
	assert.Equal(t, Stats{Accounts: 5, SARAccounts: 3, Edges: 4, Alerts: 2}, st)

	s := newSim(1)
	require.NoError(t, Build(doc, s))

	require.Len(t, s.Accounts(), 5)
	require.Len(t, s.Groups(), 2)

	a, _ := s.Account("A")
	c, _ := s.Account("C")
	assert.Equal(t, account.FanOut, a.Model().Kind())
	assert.Equal(t, int64(2), a.Model().Interval())
	assert.Equal(t, "WIRE", a.TxType(c))

	b, _ := s.Account("B")
	start, end := b.Model().Window()
	assert.Equal(t, int64(1), start)
	assert.Equal(t, int64(20), end)

	// an interval left out falls back to the configured default
	assert.Equal(t, s.Config().TransactionInterval, c.Model().Interval())

	sg := s.Groups()[0]
	assert.Same(t, c, sg.MainAccount())
	assert.Equal(t, alert.ScatterGather, sg.Typology().Kind())

	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, summary.SARTransactions, int64(0))
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.json")
	body := `{"accounts":[{"id":"x","model":"Forward","interval":1},{"id":"y","model":"Single"}],
"transactions":[{"orig":"x","bene":"y"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	doc, err := Load(path)
	require.NoError(t, err)
	require.Len(t, doc.Accounts, 2)
	require.NoError(t, Build(doc, newSim(1)))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no accounts", `accounts: []`},
		{"missing model", `accounts: [{id: A}]`},
		{"self edge", "accounts: [{id: A, model: single}]\ntransactions: [{orig: A, bene: A}]"},
		{"alert without members", "accounts: [{id: A, model: single}]\nalerts: [{id: 1, typology: fan_in, members: []}]"},
		{"min above max", "accounts: [{id: A, model: single}]\nalerts: [{id: 1, typology: fan_in, min_amount: 5, max_amount: 1, members: [A]}]"},
		{"not yaml", `{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown model", `accounts: [{id: A, model: mutual}]`, account.ErrInvalidParameters},
		{"unknown edge account", "accounts: [{id: A, model: single}]\ntransactions: [{orig: A, bene: Z}]", ErrUnknownAccount},
		{"inverted window", `accounts: [{id: A, model: forward, start: 9, end: 2}]`, account.ErrInvalidParameters},
		{"duplicate account", `accounts: [{id: A, model: single}, {id: A, model: single}]`, sim.ErrDuplicateAccount},
		{"small scatter gather", "accounts: [{id: A, model: single}, {id: B, model: single}]\n" +
			"alerts: [{id: 1, typology: scatter_gather, max_amount: 10, members: [A, B]}]", alert.ErrMalformedSchedule},
		{"main outside group", "accounts: [{id: A, model: single}, {id: B, model: single}]\n" +
			"alerts: [{id: 1, typology: fan_in, max_amount: 10, main: C, members: [A, B]}]", ErrUnknownAccount},
		{"unknown policy", "accounts: [{id: A, model: single}, {id: B, model: single}]\n" +
			"alerts: [{id: 1, typology: fan_in, policy: burst, max_amount: 10, members: [A, B]}]", alert.ErrMalformedSchedule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Parse([]byte(tt.body))
			require.NoError(t, err)
			assert.ErrorIs(t, Build(doc, newSim(1)), tt.want)
		})
	}
}

func TestGenerate(t *testing.T) {
	opts := GenerateOptions{
		Accounts:    200,
		Degree:      3,
		Alerts:      10,
		AlertSize:   5,
		SARFraction: 0.2,
		Balance:     10000,
		MinAmount:   100,
		MaxAmount:   1000,
		Seed:        9,
	}
	doc := Generate(opts)
	assert.Equal(t, doc, Generate(opts))

	st := doc.Stats()
	assert.Equal(t, 200, st.Accounts)
	assert.Equal(t, 600, st.Edges)
	assert.Equal(t, 10, st.Alerts)
	for _, e := range doc.Transactions {
		assert.NotEqual(t, e.Orig, e.Bene)
	}

	s := newSim(9)
	require.NoError(t, Build(doc, s))
	summary, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Greater(t, summary.Transactions, int64(0))
}
