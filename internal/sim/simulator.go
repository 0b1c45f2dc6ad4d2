// Package sim drives a simulation: it steps every account model and alert
// typology in a fixed order and hands the resulting transactions to a sink.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/osprey-sim/internal/account"
	"github.com/opensource-finance/osprey-sim/internal/alert"
	"github.com/opensource-finance/osprey-sim/internal/domain"
)

var (
	// ErrDuplicateAccount is returned when two accounts share an ID.
	ErrDuplicateAccount = errors.New("duplicate account")

	// ErrAlreadyRun is returned when Run is called twice on one simulator.
	ErrAlreadyRun = errors.New("simulation already run")
)

var tracer = otel.Tracer("osprey-sim")

// Simulator owns the accounts, alert groups and random stream of one run.
// It is not safe for concurrent use.
type Simulator struct {
	cfg    domain.SimulationConfig
	runID  string
	sink   domain.Sink
	logger *slog.Logger
	env    *account.Env

	accounts []*account.Account
	byID     map[string]*account.Account
	groups   []*alert.Group
	groupIDs map[int64]struct{}

	nextID  int64
	batch   []domain.Transaction
	summary domain.RunSummary
	ran     bool
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// WithRunID sets the run identifier stamped on every transaction. Defaults to a new UUID.
func WithRunID(id string) Option {
	return func(s *Simulator) { s.runID = id }
}

// New creates a simulator. A nil sink discards transactions.
func New(cfg domain.SimulationConfig, sink domain.Sink, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:      cfg,
		sink:     sink,
		logger:   slog.Default(),
		byID:     make(map[string]*account.Account),
		groupIDs: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runID == "" {
		s.runID = uuid.New().String()
	}
	if s.sink == nil {
		s.sink = discard{}
	}
	s.env = account.NewEnv(cfg, s, s.logger)
	return s
}

// RunID returns the run identifier.
func (s *Simulator) RunID() string { return s.runID }

// Config returns the simulation parameters.
func (s *Simulator) Config() domain.SimulationConfig { return s.cfg }

// Env returns the environment models and typologies are built against.
// Everything must be constructed through it, in a fixed order, for a run to be reproducible.
func (s *Simulator) Env() *account.Env { return s.env }

// Account returns an account by ID.
func (s *Simulator) Account(id string) (*account.Account, bool) {
	a, ok := s.byID[id]
	return a, ok
}

// Accounts returns the accounts in step order.
func (s *Simulator) Accounts() []*account.Account { return s.accounts }

// Groups returns the alert groups in step order.
func (s *Simulator) Groups() []*alert.Group { return s.groups }

// AddAccount registers an account. It must already carry a model.
func (s *Simulator) AddAccount(a *account.Account) error {
	if a.Model() == nil {
		return fmt.Errorf("account %s: %w", a.ID(), account.ErrNoModel)
	}
	if _, exists := s.byID[a.ID()]; exists {
		return fmt.Errorf("account %s: %w", a.ID(), ErrDuplicateAccount)
	}
	s.accounts = append(s.accounts, a)
	s.byID[a.ID()] = a
	return nil
}

// AddAlertGroup registers an alert group. It must already carry a scheduled typology.
func (s *Simulator) AddAlertGroup(g *alert.Group) error {
	if g.Typology() == nil {
		return fmt.Errorf("alert %d: %w", g.ID, alert.ErrNoTypology)
	}
	if _, exists := s.groupIDs[g.ID]; exists {
		return fmt.Errorf("alert %d: %w", g.ID, alert.ErrMalformedSchedule)
	}
	s.groups = append(s.groups, g)
	s.groupIDs[g.ID] = struct{}{}
	return nil
}

// Post numbers a generated transaction, applies it to both balances and buffers it for the step's batch.
func (s *Simulator) Post(p account.Posting) {
	p.Orig.Withdraw(p.Amount)
	p.Bene.Deposit(p.Amount)

	s.batch = append(s.batch, domain.Transaction{
		ID:          s.nextID,
		RunID:       s.runID,
		Step:        p.Step,
		Type:        p.Type,
		Amount:      p.Amount,
		OrigID:      p.Orig.ID(),
		BeneID:      p.Bene.ID(),
		OrigBalance: p.Orig.Balance(),
		BeneBalance: p.Bene.Balance(),
		IsSAR:       p.SAR,
		AlertID:     p.AlertID,
	})
	s.nextID++
}

// Run simulates steps 0 .. TotalSteps-1. Cancellation is checked between steps;
// batches already written stay valid. The summary is returned even on failure.
func (s *Simulator) Run(ctx context.Context) (*domain.RunSummary, error) {
	if s.ran {
		return nil, ErrAlreadyRun
	}
	s.ran = true

	ctx, span := tracer.Start(ctx, "simulation.run",
		trace.WithAttributes(
			attribute.String("run.id", s.runID),
			attribute.Int64("run.seed", s.cfg.Seed),
			attribute.Int64("run.total_steps", s.cfg.TotalSteps),
			attribute.Int("run.accounts", len(s.accounts)),
			attribute.Int("run.alert_groups", len(s.groups)),
		),
	)
	defer span.End()

	s.summary = domain.RunSummary{
		ID:          s.runID,
		Name:        s.cfg.Name,
		Seed:        s.cfg.Seed,
		TotalSteps:  s.cfg.TotalSteps,
		Status:      domain.RunStatusRunning,
		Accounts:    len(s.accounts),
		AlertGroups: len(s.groups),
		StepCounts:  make([]int64, max(s.cfg.TotalSteps, 0)),
		StartedAt:   time.Now().UTC(),
	}

	s.logger.Info("simulation started",
		"run_id", s.runID,
		"seed", s.cfg.Seed,
		"total_steps", s.cfg.TotalSteps,
		"accounts", len(s.accounts),
		"alert_groups", len(s.groups),
	)

	err := s.loop(ctx)
	summary := s.finish(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("simulation failed", "run_id", s.runID, "error", err)
		return summary, err
	}

	span.SetAttributes(attribute.Int64("run.transactions", summary.Transactions))
	s.logger.Info("simulation completed",
		"run_id", s.runID,
		"transactions", summary.Transactions,
		"sar_transactions", summary.SARTransactions,
		"skipped", summary.SkippedTransactions,
		"duration_ms", summary.DurationMs,
	)
	return summary, nil
}

func (s *Simulator) loop(ctx context.Context) error {
	for step := int64(0); step < s.cfg.TotalSteps; step++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("step %d: %w", step, err)
		}

		s.batch = make([]domain.Transaction, 0, len(s.batch))
		for _, a := range s.accounts {
			a.MakeTransactions(step, s.env)
		}
		for _, g := range s.groups {
			g.SendTransactions(step, s.env)
		}

		if len(s.batch) == 0 {
			continue
		}
		s.record(step, s.batch)
		if err := s.sink.Write(ctx, s.batch); err != nil {
			return fmt.Errorf("step %d: write transactions: %w", step, err)
		}
	}
	return nil
}

func (s *Simulator) record(step int64, txs []domain.Transaction) {
	s.summary.StepCounts[step] = int64(len(txs))
	for i := range txs {
		s.summary.Transactions++
		s.summary.TotalAmount += txs[i].Amount
		if txs[i].IsSAR {
			s.summary.SARTransactions++
		}
	}
}

func (s *Simulator) finish(err error) *domain.RunSummary {
	s.summary.FinishedAt = time.Now().UTC()
	s.summary.DurationMs = s.summary.FinishedAt.Sub(s.summary.StartedAt).Milliseconds()
	s.summary.SkippedTransactions = s.env.Skipped()
	s.summary.Status = domain.RunStatusCompleted
	if err != nil {
		s.summary.Status = domain.RunStatusFailed
		s.summary.Error = err.Error()
	}
	summary := s.summary
	return &summary
}

type discard struct{}

func (discard) Write(context.Context, []domain.Transaction) error { return nil }
