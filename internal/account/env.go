package account

import (
	"log/slog"

	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/random"
)

// Posting is a transaction handed to the driver for validation, numbering and posting.
type Posting struct {
	Step    int64
	Type    string
	Amount  float64
	Orig    *Account
	Bene    *Account
	SAR     bool
	AlertID int64
}

// Poster receives the transactions generated during a step.
type Poster interface {
	Post(p Posting)
}

// PosterFunc adapts a function to the Poster interface.
type PosterFunc func(p Posting)

// Post calls f(p).
func (f PosterFunc) Post(p Posting) { f(p) }

// Env is the shared state every generator of a run works against.
// It is owned by a single goroutine.
type Env struct {
	Rand     *random.Stream
	Config   domain.SimulationConfig
	Adjuster AmountAdjuster
	Poster   Poster
	Logger   *slog.Logger

	skipped int64
}

// NewEnv builds an environment with the adjuster selected by the configuration.
func NewEnv(cfg domain.SimulationConfig, poster Poster, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	var adjuster AmountAdjuster = NoAdjust{}
	if cfg.BalanceLimited {
		adjuster = BalanceLimit{}
	}
	return &Env{
		Rand:     random.New(cfg.Seed),
		Config:   cfg,
		Adjuster: adjuster,
		Poster:   poster,
		Logger:   logger,
	}
}

// Skipped returns the number of transactions dropped for an invalid amount or endpoints.
func (e *Env) Skipped() int64 { return e.skipped }

// MakeTransaction validates a generated transaction and posts it.
// It reports false when the transaction was skipped.
func (e *Env) MakeTransaction(step int64, amount float64, orig, bene *Account, sar bool, alertID int64) bool {
	if amount <= 0 {
		e.skipped++
		e.Logger.Warn("invalid transaction amount",
			"step", step,
			"amount", amount,
			"orig_id", orig.ID(),
			"bene_id", bene.ID(),
			"alert_id", alertID,
		)
		return false
	}
	if orig == bene {
		e.skipped++
		e.Logger.Warn("transaction to self skipped", "step", step, "account_id", orig.ID(), "alert_id", alertID)
		return false
	}
	if sar {
		e.Logger.Debug("sar transaction", "step", step, "orig_id", orig.ID(), "bene_id", bene.ID(), "alert_id", alertID)
	}
	e.Poster.Post(Posting{
		Step:    step,
		Type:    orig.TxType(bene),
		Amount:  amount,
		Orig:    orig,
		Bene:    bene,
		SAR:     sar,
		AlertID: alertID,
	})
	return true
}

// AmountAdjuster lets the account state shape a fan-out amount before noise is applied.
type AmountAdjuster interface {
	Adjust(orig, bene *Account, amount float64) float64
}

// NoAdjust returns amounts unchanged.
type NoAdjust struct{}

// Adjust implements AmountAdjuster.
func (NoAdjust) Adjust(_, _ *Account, amount float64) float64 { return amount }

// BalanceLimit caps amounts by the originator's balance. An empty account sends nothing.
type BalanceLimit struct{}

// Adjust implements AmountAdjuster.
func (BalanceLimit) Adjust(orig, _ *Account, amount float64) float64 {
	if b := orig.Balance(); b <= 0 {
		return 0
	} else if amount > b {
		return b
	}
	return amount
}
