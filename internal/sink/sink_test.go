package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/osprey-sim/internal/bus"
	"github.com/opensource-finance/osprey-sim/internal/cache"
	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/metrics"
)

const testRunID = "run-001"

func batch() []domain.Transaction {
	return []domain.Transaction{
		{ID: 0, RunID: testRunID, Step: 0, Type: "TRANSFER", Amount: 150, OrigID: "A", BeneID: "B", AlertID: domain.NoAlert},
		{ID: 1, RunID: testRunID, Step: 0, Type: "TRANSFER", Amount: 900, OrigID: "C", BeneID: "D", IsSAR: true, AlertID: 7},
		{ID: 2, RunID: testRunID, Step: 0, Type: "WIRE", Amount: 800, OrigID: "E", BeneID: "D", IsSAR: true, AlertID: 7},
	}
}

func TestMulti(t *testing.T) {
	ctx := context.Background()

	t.Run("WritesToAll", func(t *testing.T) {
		var got [][]domain.Transaction
		rec := Func(func(_ context.Context, txs []domain.Transaction) error {
			got = append(got, txs)
			return nil
		})

		m := NewMulti(rec, nil, rec)
		assert.Equal(t, 2, m.Len())
		require.NoError(t, m.Write(ctx, batch()))
		assert.Len(t, got, 2)
	})

	t.Run("JoinsErrors", func(t *testing.T) {
		errA := errors.New("a failed")
		calls := 0
		failing := Func(func(context.Context, []domain.Transaction) error { return errA })
		counting := Func(func(context.Context, []domain.Transaction) error {
			calls++
			return nil
		})

		err := NewMulti(failing, counting).Write(ctx, batch())
		require.Error(t, err)
		assert.ErrorIs(t, err, errA)
		assert.Equal(t, 1, calls, "later sinks still receive the batch")
	})

	t.Run("Discard", func(t *testing.T) {
		assert.NoError(t, Discard{}.Write(ctx, batch()))
	})
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSV(t *testing.T) {
	dir := t.TempDir()
	cfg := domain.OutputConfig{
		Directory:      dir,
		TransactionLog: "tx_log.csv",
		CounterLog:     "tx_count.csv",
	}

	c, err := NewCSV(cfg, "sample", 3)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, c.Write(ctx, batch()))
	require.NoError(t, c.Write(ctx, []domain.Transaction{
		{ID: 3, Step: 2, Type: "TRANSFER", Amount: 42.5, OrigID: "B", BeneID: "A", AlertID: domain.NoAlert},
	}))
	require.NoError(t, c.Close())

	txs := readCSV(t, filepath.Join(dir, "sample", "tx_log.csv"))
	require.Len(t, txs, 5)
	assert.Equal(t, transactionHeader, txs[0])
	assert.Equal(t, []string{"1", "0", "TRANSFER", "900.00", "C", "D", "0.00", "0.00", "true", "7"}, txs[2])
	assert.Equal(t, "42.50", txs[4][3])

	counts := readCSV(t, filepath.Join(dir, "sample", "tx_count.csv"))
	assert.Equal(t, [][]string{
		{"step", "transactions", "sar_transactions"},
		{"0", "3", "2"},
		{"1", "0", "0"},
		{"2", "1", "0"},
	}, counts)
}

func TestCSVWithoutCounterLog(t *testing.T) {
	dir := t.TempDir()
	c, err := NewCSV(domain.OutputConfig{Directory: dir}, "run", 1)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = os.Stat(filepath.Join(dir, "run", "tx_log.csv"))
	assert.NoError(t, err)
	entries, err := os.ReadDir(filepath.Join(dir, "run"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

type recordingRepo struct {
	domain.Repository
	runID string
	saved []domain.Transaction
	err   error
}

func (r *recordingRepo) SaveTransactions(_ context.Context, runID string, txs []domain.Transaction) error {
	if r.err != nil {
		return r.err
	}
	r.runID = runID
	r.saved = append(r.saved, txs...)
	return nil
}

func TestRepository(t *testing.T) {
	repo := &recordingRepo{}
	s := NewRepository(repo, testRunID)

	require.NoError(t, s.Write(context.Background(), batch()))
	assert.Equal(t, testRunID, repo.runID)
	assert.Len(t, repo.saved, 3)

	repo.err = errors.New("disk full")
	err := s.Write(context.Background(), batch())
	assert.ErrorIs(t, err, repo.err)
}

func TestBus(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	ctx := context.Background()
	var (
		mu       sync.Mutex
		received []domain.Transaction
		done     = make(chan struct{})
	)
	_, err := b.Subscribe(ctx, testRunID, domain.TopicTransactionGenerated, func(_ context.Context, msg *domain.Message) error {
		var txs []domain.Transaction
		if err := json.Unmarshal(msg.Payload, &txs); err != nil {
			return err
		}
		mu.Lock()
		received = append(received, txs...)
		mu.Unlock()
		close(done)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, NewBus(b, testRunID).Write(ctx, batch()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("batch not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, batch(), received)
}

func TestCounter(t *testing.T) {
	c := cache.NewLRUCache(100)
	defer c.Close()

	ctx := context.Background()
	s := NewCounter(c, testRunID, 0)
	require.NoError(t, s.Write(ctx, batch()))
	require.NoError(t, s.Write(ctx, []domain.Transaction{
		{ID: 3, Step: 1, Amount: 10, OrigID: "A", BeneID: "B", AlertID: domain.NoAlert},
	}))

	expected := map[string]int64{
		domain.CounterTotal:       4,
		domain.CounterSAR:         2,
		domain.CounterNormal:      2,
		domain.StepCounterKey(0):  3,
		domain.StepCounterKey(1):  1,
		domain.AlertCounterKey(7): 2,
	}
	for key, want := range expected {
		got, err := c.GetCounter(ctx, testRunID, key)
		require.NoError(t, err)
		assert.Equal(t, want, got, key)
	}

	other, err := c.GetCounter(ctx, "run-002", domain.CounterTotal)
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	require.NoError(t, NewMetrics(reg).Write(context.Background(), batch()))

	assert.Equal(t, 2.0, testutil.ToFloat64(reg.TransactionsTotal.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.TransactionsTotal.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ActiveStepsTotal))

	require.NoError(t, NewMetrics(reg).Write(context.Background(), nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.ActiveStepsTotal))
	assert.Equal(t, 2, testutil.CollectAndCount(reg.TransactionsTotal))
}
