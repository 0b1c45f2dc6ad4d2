// Package worker persists transactions published on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/metrics"
)

var ErrPersistFailed = errors.New("some transactions could not be persisted")

// pollInterval is how often Wait re-checks progress.
const pollInterval = 5 * time.Millisecond

// Worker consumes generated batches from the EventBus and stores them in the repository.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	metrics *metrics.Registry

	mu            sync.Mutex
	subscriptions map[string]domain.Subscription
	progress      map[string]*Progress
	ctx           context.Context
	cancel        context.CancelFunc
}

// Progress counts the transactions handled for one run.
type Progress struct {
	Batches   int64 `json:"batches"`
	Persisted int64 `json:"persisted"`
	Failed    int64 `json:"failed"`
}

// Config holds worker configuration.
type Config struct {
	// RunIDs to start consuming immediately
	RunIDs []string
}

// NewWorker creates a new async worker. reg may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, reg *metrics.Registry) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:           bus,
		repo:          repo,
		metrics:       reg,
		subscriptions: make(map[string]domain.Subscription),
		progress:      make(map[string]*Progress),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins consuming the configured runs.
func (w *Worker) Start(cfg Config) error {
	for _, runID := range cfg.RunIDs {
		if err := w.Watch(runID); err != nil {
			return fmt.Errorf("failed to watch run %s: %w", runID, err)
		}
	}

	slog.Info("worker started",
		"run_count", len(cfg.RunIDs),
	)
	return nil
}

// Watch subscribes to the transactions of one run. Watching a run twice is a no-op.
func (w *Worker) Watch(runID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.subscriptions[runID]; ok {
		return nil
	}

	sub, err := w.bus.Subscribe(w.ctx, runID, domain.TopicTransactionGenerated, func(ctx context.Context, msg *domain.Message) error {
		return w.persistBatch(ctx, runID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions[runID] = sub
	w.progress[runID] = &Progress{}

	slog.Debug("watching run",
		"run_id", runID,
		"topic", domain.TopicTransactionGenerated,
	)
	return nil
}

// Release stops consuming a run and forgets its progress.
func (w *Worker) Release(runID string) error {
	w.mu.Lock()
	sub, ok := w.subscriptions[runID]
	delete(w.subscriptions, runID)
	delete(w.progress, runID)
	w.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// persistBatch stores one published batch.
func (w *Worker) persistBatch(ctx context.Context, runID string, msg *domain.Message) error {
	var txs []domain.Transaction
	if err := json.Unmarshal(msg.Payload, &txs); err != nil {
		slog.Error("failed to parse transaction batch",
			"run_id", runID,
			"message_id", msg.ID,
			"error", err,
		)
		w.record(runID, 0, 1, false)
		return err
	}

	err := w.repo.SaveTransactions(ctx, runID, txs)
	w.record(runID, int64(len(txs)), 1, err == nil)
	if err != nil {
		slog.Error("failed to persist transactions",
			"run_id", runID,
			"message_id", msg.ID,
			"count", len(txs),
			"error", err,
		)
		return err
	}

	slog.Debug("batch persisted",
		"run_id", runID,
		"count", len(txs),
	)
	return nil
}

func (w *Worker) record(runID string, n, batches int64, ok bool) {
	// A batch handled after Release has no progress entry left to update
	w.mu.Lock()
	if p, found := w.progress[runID]; found {
		p.Batches += batches
		if ok {
			p.Persisted += n
		} else {
			p.Failed += n
		}
	}
	w.mu.Unlock()

	if w.metrics == nil {
		return
	}
	if ok {
		w.metrics.PersistedTotal.Add(float64(n))
	} else {
		w.metrics.PersistErrorsTotal.Inc()
	}
}

// Progress returns a snapshot of a run's progress.
func (w *Worker) Progress(runID string) Progress {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.progress[runID]; ok {
		return *p
	}
	return Progress{}
}

// Wait blocks until the given number of batches of a run has been handled.
// It returns ErrPersistFailed if any of them failed.
func (w *Worker) Wait(ctx context.Context, runID string, batches int64) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		p := w.Progress(runID)
		if p.Batches >= batches {
			if p.Failed > 0 {
				return fmt.Errorf("%w: %d of run %s", ErrPersistFailed, p.Failed, runID)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for run %s: %w", runID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop gracefully stops all subscriptions.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = make(map[string]domain.Subscription)
	w.mu.Unlock()

	for runID, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"run_id", runID,
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	RunIDs            []string `json:"runIds"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	runIDs := make([]string, 0, len(w.subscriptions))
	for runID := range w.subscriptions {
		runIDs = append(runIDs, runID)
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		RunIDs:            runIDs,
	}
}
