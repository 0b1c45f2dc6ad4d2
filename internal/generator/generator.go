// Package generator wires a simulation run to its outputs: CSV files, the repository,
// the event bus, cache counters, metrics and dataset screening.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/metrics"
	"github.com/opensource-finance/osprey-sim/internal/repository"
	"github.com/opensource-finance/osprey-sim/internal/rules"
	"github.com/opensource-finance/osprey-sim/internal/sim"
	"github.com/opensource-finance/osprey-sim/internal/sink"
	"github.com/opensource-finance/osprey-sim/internal/topology"
	"github.com/opensource-finance/osprey-sim/internal/worker"
)

var (
	// ErrSetup wraps every error caused by the request itself: a bad topology,
	// invalid model parameters or a malformed alert schedule.
	ErrSetup = errors.New("invalid run setup")

	// ErrRunExists is returned, wrapped in ErrSetup, for a run id that is
	// already executing or already recorded in the repository.
	ErrRunExists = errors.New("run already exists")
)

// drainTimeout bounds how long a run waits for the async worker after the last step.
const drainTimeout = 5 * time.Minute

// Deps are the optional collaborators of a generator. Nil members are skipped.
type Deps struct {
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus
	Worker     *worker.Worker
	Metrics    *metrics.Registry
}

// Generator prepares and executes simulation runs.
type Generator struct {
	cfg    *domain.Config
	deps   Deps
	logger *slog.Logger

	// Run ids between Prepare and the end of Execute
	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a generator. The configuration is expected to be validated.
func New(cfg *domain.Config, deps Deps, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		active: make(map[string]struct{}),
	}
}

// Overrides adjusts the configured simulation for one run.
type Overrides struct {
	RunID      string `json:"runId,omitempty"`
	Name       string `json:"name,omitempty"`
	Seed       *int64 `json:"seed,omitempty"`
	TotalSteps int64  `json:"totalSteps,omitempty"`
}

// Run is a prepared simulation, ready to execute once.
type Run struct {
	gen      *Generator
	id       string
	sim      *sim.Simulator
	screener *rules.Engine
	csv      *sink.CSV
	async    bool
	batches  atomic.Int64
	summary  domain.RunSummary
}

// ID returns the run ID.
func (r *Run) ID() string { return r.id }

// Run prepares and executes a simulation in one call.
func (g *Generator) Run(ctx context.Context, doc *topology.Document, ov Overrides) (*domain.RunSummary, error) {
	run, err := g.Prepare(ctx, doc, ov)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// Prepare builds the topology and opens every output. The run is recorded as RUNNING.
func (g *Generator) Prepare(ctx context.Context, doc *topology.Document, ov Overrides) (*Run, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: topology is required", ErrSetup)
	}

	simCfg := g.cfg.Simulation
	if ov.Name != "" {
		simCfg.Name = ov.Name
	}
	if ov.Seed != nil {
		simCfg.Seed = *ov.Seed
	}
	if ov.TotalSteps != 0 {
		simCfg.TotalSteps = ov.TotalSteps
	}
	if simCfg.TotalSteps < 1 {
		return nil, fmt.Errorf("%w: total steps must be at least 1", ErrSetup)
	}

	runID := ov.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	if err := g.claim(ctx, runID); err != nil {
		return nil, err
	}

	run := &Run{
		gen:   g,
		id:    runID,
		async: g.cfg.Output.Async && g.deps.Worker != nil && g.deps.Bus != nil && g.deps.Repository != nil,
	}

	sinks, err := run.openSinks(runID, simCfg)
	if err != nil {
		run.abort()
		return nil, err
	}

	s := sim.New(simCfg, sink.NewMulti(sinks...),
		sim.WithRunID(runID),
		sim.WithLogger(g.logger),
	)
	run.sim = s

	if err := topology.Build(doc, s); err != nil {
		run.abort()
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}

	run.summary = domain.RunSummary{
		ID:          runID,
		Name:        simCfg.Name,
		Seed:        simCfg.Seed,
		TotalSteps:  simCfg.TotalSteps,
		Status:      domain.RunStatusRunning,
		Accounts:    len(s.Accounts()),
		AlertGroups: len(s.Groups()),
		StartedAt:   time.Now().UTC(),
	}
	if repo := g.deps.Repository; repo != nil {
		if err := repo.SaveRun(ctx, &run.summary); err != nil {
			run.abort()
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	g.logger.Info("run prepared",
		"run_id", runID,
		"name", simCfg.Name,
		"accounts", run.summary.Accounts,
		"alert_groups", run.summary.AlertGroups,
		"async", run.async,
	)
	return run, nil
}

// claim reserves a run id for one Prepare/Execute cycle. A run id already in use
// or already recorded is rejected, so a stored dataset is never mixed with another.
func (g *Generator) claim(ctx context.Context, runID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.active[runID]; ok {
		return fmt.Errorf("%w: %w: %s", ErrSetup, ErrRunExists, runID)
	}
	if repo := g.deps.Repository; repo != nil {
		_, err := repo.GetRun(ctx, runID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %w: %s", ErrSetup, ErrRunExists, runID)
		case !errors.Is(err, repository.ErrNotFound):
			return fmt.Errorf("failed to look up run %s: %w", runID, err)
		}
	}
	g.active[runID] = struct{}{}
	return nil
}

func (g *Generator) release(runID string) {
	g.mu.Lock()
	delete(g.active, runID)
	g.mu.Unlock()
}

// openSinks assembles the outputs of a run in a fixed order:
// screening, files, persistence, bus, counters, metrics.
func (r *Run) openSinks(runID string, simCfg domain.SimulationConfig) ([]domain.Sink, error) {
	g := r.gen
	var sinks []domain.Sink

	if len(g.cfg.Screening.Rules) > 0 {
		engine, err := rules.NewEngine(0, g.deps.Metrics)
		if err != nil {
			return nil, err
		}
		if err := engine.LoadRules(g.cfg.Screening.Rules); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSetup, err)
		}
		r.screener = engine
		sinks = append(sinks, engine)
	}

	if g.cfg.Output.Directory != "" {
		c, err := sink.NewCSV(g.cfg.Output, simCfg.Name, simCfg.TotalSteps)
		if err != nil {
			return nil, err
		}
		r.csv = c
		sinks = append(sinks, c)
	}

	if g.deps.Repository != nil && !r.async {
		sinks = append(sinks, sink.NewRepository(g.deps.Repository, runID))
	}

	if g.deps.Bus != nil {
		if r.async {
			if err := g.deps.Worker.Watch(runID); err != nil {
				return nil, fmt.Errorf("failed to start persistence worker: %w", err)
			}
		}
		sinks = append(sinks, r.countPublished(sink.NewBus(g.deps.Bus, runID)))
	}

	if g.deps.Cache != nil {
		sinks = append(sinks, sink.NewCounter(g.deps.Cache, runID, 0))
	}

	if g.deps.Metrics != nil {
		sinks = append(sinks, sink.NewMetrics(g.deps.Metrics))
	}

	return sinks, nil
}

// countPublished counts the batches that reached the bus, so the worker can be awaited.
func (r *Run) countPublished(next domain.Sink) domain.Sink {
	return sink.Func(func(ctx context.Context, txs []domain.Transaction) error {
		if err := next.Write(ctx, txs); err != nil {
			return err
		}
		r.batches.Add(1)
		return nil
	})
}

// abort releases outputs of a run that never executed.
func (r *Run) abort() {
	if r.csv != nil {
		_ = r.csv.Close()
	}
	if r.async {
		_ = r.gen.deps.Worker.Release(r.id)
	}
	r.gen.release(r.id)
}

// Execute runs the simulation, waits for async persistence and records the summary.
// The summary is returned even when the run fails.
func (r *Run) Execute(ctx context.Context) (*domain.RunSummary, error) {
	g := r.gen
	defer g.release(r.id)
	if g.deps.Metrics != nil {
		g.deps.Metrics.RunsInProgress.Inc()
		defer g.deps.Metrics.RunsInProgress.Dec()
	}

	summary, runErr := r.sim.Run(ctx)
	if summary == nil {
		return nil, runErr
	}
	summary.StartedAt = r.summary.StartedAt

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if r.csv != nil {
		if err := r.csv.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close output files: %w", err))
		}
	}
	if r.async {
		errs = append(errs, r.drain())
	}
	if r.screener != nil {
		summary.Screening = r.screener.Report()
	}

	err := errors.Join(errs...)
	if err != nil {
		summary.Status = domain.RunStatusFailed
		summary.Error = err.Error()
	}
	summary.FinishedAt = time.Now().UTC()
	summary.DurationMs = summary.FinishedAt.Sub(summary.StartedAt).Milliseconds()

	// The run outcome is recorded even if the caller's context was cancelled
	recordCtx := context.WithoutCancel(ctx)
	if repo := g.deps.Repository; repo != nil {
		if saveErr := repo.SaveRun(recordCtx, summary); saveErr != nil {
			g.logger.Error("failed to record run summary", "run_id", summary.ID, "error", saveErr)
			err = errors.Join(err, saveErr)
		}
	}
	if b := g.deps.Bus; b != nil {
		if payload, mErr := json.Marshal(summary); mErr == nil {
			if pubErr := b.Publish(recordCtx, summary.ID, domain.TopicRunCompleted, payload); pubErr != nil {
				g.logger.Warn("failed to publish run completion", "run_id", summary.ID, "error", pubErr)
			}
		}
	}
	if g.deps.Metrics != nil {
		g.deps.Metrics.RecordRun(summary.Status, time.Duration(summary.DurationMs)*time.Millisecond)
	}

	g.logger.Info("run finished",
		"run_id", summary.ID,
		"status", summary.Status,
		"transactions", summary.Transactions,
		"sar_ratio", summary.SARRatio(),
		"duration_ms", summary.DurationMs,
	)
	return summary, err
}

func (r *Run) drain() error {
	w := r.gen.deps.Worker
	runID := r.sim.RunID()
	defer w.Release(runID)

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	return w.Wait(ctx, runID, r.batches.Load())
}
