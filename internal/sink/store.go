package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/metrics"
)

// Repository persists each batch synchronously.
type Repository struct {
	repo  domain.Repository
	runID string
}

// NewRepository creates a sink saving batches of one run.
func NewRepository(repo domain.Repository, runID string) *Repository {
	return &Repository{repo: repo, runID: runID}
}

// Write saves the batch, failing the step if the repository rejects it.
func (r *Repository) Write(ctx context.Context, txs []domain.Transaction) error {
	if err := r.repo.SaveTransactions(ctx, r.runID, txs); err != nil {
		return fmt.Errorf("failed to save transactions: %w", err)
	}
	return nil
}

// Bus publishes each batch as one JSON message on TopicTransactionGenerated.
type Bus struct {
	bus   domain.EventBus
	runID string
}

// NewBus creates a sink publishing batches of one run.
func NewBus(bus domain.EventBus, runID string) *Bus {
	return &Bus{bus: bus, runID: runID}
}

// Write publishes the batch as a JSON array of transactions.
func (b *Bus) Write(ctx context.Context, txs []domain.Transaction) error {
	payload, err := json.Marshal(txs)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}
	if err := b.bus.Publish(ctx, b.runID, domain.TopicTransactionGenerated, payload); err != nil {
		return fmt.Errorf("failed to publish batch: %w", err)
	}
	return nil
}

// Counter maintains per-run counters in the cache: total, sar, normal,
// one per step and one per alert group.
type Counter struct {
	cache  domain.Cache
	runID  string
	window time.Duration
}

// NewCounter creates a counter sink. A zero window keeps counters for the cache's lifetime.
func NewCounter(cache domain.Cache, runID string, window time.Duration) *Counter {
	return &Counter{cache: cache, runID: runID, window: window}
}

// Write adds the batch to the counters, one increment per distinct key.
func (c *Counter) Write(ctx context.Context, txs []domain.Transaction) error {
	deltas := make(map[string]int64)
	var order []string
	add := func(key string) {
		if _, ok := deltas[key]; !ok {
			order = append(order, key)
		}
		deltas[key]++
	}

	for i := range txs {
		tx := &txs[i]
		add(domain.CounterTotal)
		if tx.IsSAR {
			add(domain.CounterSAR)
		} else {
			add(domain.CounterNormal)
		}
		add(domain.StepCounterKey(tx.Step))
		if tx.HasAlert() {
			add(domain.AlertCounterKey(tx.AlertID))
		}
	}

	for _, key := range order {
		if _, err := c.cache.IncrementCounter(ctx, c.runID, key, deltas[key], c.window); err != nil {
			return fmt.Errorf("failed to increment counter %s: %w", key, err)
		}
	}
	return nil
}

// Metrics records every transaction in the Prometheus registry.
// Only steps with transactions reach a sink, so ActiveStepsTotal counts those.
type Metrics struct {
	reg *metrics.Registry
}

// NewMetrics creates a metrics sink on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{reg: reg}
}

// Write records the batch. An empty batch is not an active step.
func (m *Metrics) Write(_ context.Context, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	for i := range txs {
		m.reg.RecordTransaction(txs[i].IsSAR, txs[i].Amount)
	}
	m.reg.ActiveStepsTotal.Inc()
	return nil
}

var (
	_ domain.Sink = (*CSV)(nil)
	_ domain.Sink = (*Repository)(nil)
	_ domain.Sink = (*Bus)(nil)
	_ domain.Sink = (*Counter)(nil)
	_ domain.Sink = (*Metrics)(nil)
)
