package repository

import (
	"context"
	"errors"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/osprey-sim/internal/domain"
)

func newTestRepository(t *testing.T) *SQLRepository {
	t.Helper()

	// Create temp database file
	tmpFile, err := os.CreateTemp("", "amlsim-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func sampleTransactions(runID string) []domain.Transaction {
	return []domain.Transaction{
		{ID: 0, RunID: runID, Step: 0, Type: "TRANSFER", Amount: 250.5, OrigID: "A", BeneID: "B", OrigBalance: 749.5, BeneBalance: 1250.5, AlertID: domain.NoAlert},
		{ID: 1, RunID: runID, Step: 0, Type: "TRANSFER", Amount: 900, OrigID: "C", BeneID: "D", OrigBalance: 100, BeneBalance: 1900, IsSAR: true, AlertID: 3},
		{ID: 2, RunID: runID, Step: 1, Type: "WIRE", Amount: 120, OrigID: "B", BeneID: "A", OrigBalance: 1130.5, BeneBalance: 869.5, AlertID: domain.NoAlert},
		{ID: 3, RunID: runID, Step: 2, Type: "TRANSFER", Amount: 800, OrigID: "D", BeneID: "E", OrigBalance: 1100, BeneBalance: 1800, IsSAR: true, AlertID: 3},
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	runID := "run-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRun", func(t *testing.T) {
		started := time.Now().UTC().Truncate(time.Millisecond)
		run := &domain.RunSummary{
			ID:         runID,
			Name:       "sample",
			Seed:       42,
			TotalSteps: 3,
			Status:     domain.RunStatusRunning,
			StartedAt:  started,
		}
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		retrieved, err := repo.GetRun(ctx, runID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if retrieved.Status != domain.RunStatusRunning {
			t.Errorf("expected Status %s, got %s", domain.RunStatusRunning, retrieved.Status)
		}
		if !retrieved.FinishedAt.IsZero() {
			t.Errorf("expected no FinishedAt, got %v", retrieved.FinishedAt)
		}

		// Completing the run updates the same row
		run.Status = domain.RunStatusCompleted
		run.Transactions = 4
		run.SARTransactions = 2
		run.TotalAmount = 2070.5
		run.StepCounts = []int64{2, 1, 1}
		run.Screening = []domain.ScreeningResult{{RuleID: "high-value", TruePositives: 2, TrueNegatives: 2, Precision: 1, Recall: 1, F1: 1}}
		run.FinishedAt = started.Add(time.Second)
		run.DurationMs = 1000
		if err := repo.SaveRun(ctx, run); err != nil {
			t.Fatalf("SaveRun update failed: %v", err)
		}

		retrieved, err = repo.GetRun(ctx, runID)
		if err != nil {
			t.Fatalf("GetRun failed: %v", err)
		}
		if retrieved.Status != domain.RunStatusCompleted {
			t.Errorf("expected Status %s, got %s", domain.RunStatusCompleted, retrieved.Status)
		}
		if retrieved.Transactions != 4 || retrieved.SARTransactions != 2 {
			t.Errorf("unexpected counters: %d/%d", retrieved.Transactions, retrieved.SARTransactions)
		}
		if len(retrieved.StepCounts) != 3 || retrieved.StepCounts[0] != 2 {
			t.Errorf("unexpected step counts: %v", retrieved.StepCounts)
		}
		if len(retrieved.Screening) != 1 || retrieved.Screening[0].RuleID != "high-value" {
			t.Errorf("unexpected screening results: %+v", retrieved.Screening)
		}
		if retrieved.FinishedAt.IsZero() {
			t.Error("expected FinishedAt to be set")
		}
	})

	t.Run("ListRuns", func(t *testing.T) {
		second := &domain.RunSummary{
			ID:        "run-002",
			Name:      "other",
			Status:    domain.RunStatusFailed,
			Error:     "sink failed",
			StartedAt: time.Now().UTC().Add(time.Hour),
		}
		if err := repo.SaveRun(ctx, second); err != nil {
			t.Fatalf("SaveRun failed: %v", err)
		}

		runs, err := repo.ListRuns(ctx, 10)
		if err != nil {
			t.Fatalf("ListRuns failed: %v", err)
		}
		if len(runs) != 2 {
			t.Fatalf("expected 2 runs, got %d", len(runs))
		}
		if runs[0].ID != "run-002" {
			t.Errorf("expected most recent run first, got %s", runs[0].ID)
		}
		if runs[0].Error != "sink failed" {
			t.Errorf("expected error to round-trip, got %q", runs[0].Error)
		}
	})

	t.Run("SaveAndListTransactions", func(t *testing.T) {
		txs := sampleTransactions(runID)
		if err := repo.SaveTransactions(ctx, runID, txs); err != nil {
			t.Fatalf("SaveTransactions failed: %v", err)
		}

		// Redelivery is ignored
		if err := repo.SaveTransactions(ctx, runID, txs[:2]); err != nil {
			t.Fatalf("SaveTransactions redelivery failed: %v", err)
		}

		n, err := repo.CountTransactions(ctx, runID)
		if err != nil {
			t.Fatalf("CountTransactions failed: %v", err)
		}
		if n != int64(len(txs)) {
			t.Errorf("expected %d transactions, got %d", len(txs), n)
		}

		all, err := repo.ListTransactions(ctx, runID, domain.TransactionFilter{})
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(all) != len(txs) {
			t.Fatalf("expected %d transactions, got %d", len(txs), len(all))
		}
		for i, tx := range all {
			if tx != txs[i] {
				t.Errorf("transaction %d: expected %+v, got %+v", i, txs[i], tx)
			}
		}
	})

	t.Run("FilterTransactions", func(t *testing.T) {
		step := int64(0)
		byStep, err := repo.ListTransactions(ctx, runID, domain.TransactionFilter{Step: &step})
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(byStep) != 2 {
			t.Errorf("expected 2 transactions in step 0, got %d", len(byStep))
		}

		alertID := int64(3)
		byAlert, err := repo.ListTransactions(ctx, runID, domain.TransactionFilter{AlertID: &alertID})
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(byAlert) != 2 {
			t.Errorf("expected 2 transactions of alert 3, got %d", len(byAlert))
		}

		sar, err := repo.ListTransactions(ctx, runID, domain.TransactionFilter{SAROnly: true})
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		for _, tx := range sar {
			if !tx.IsSAR {
				t.Errorf("expected only SAR transactions, got %+v", tx)
			}
		}

		page, err := repo.ListTransactions(ctx, runID, domain.TransactionFilter{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(page) != 2 || page[0].ID != 1 || page[1].ID != 2 {
			t.Errorf("unexpected page: %+v", page)
		}
	})

	t.Run("RunIsolation", func(t *testing.T) {
		txs, err := repo.ListTransactions(ctx, "run-002", domain.TransactionFilter{})
		if err != nil {
			t.Fatalf("ListTransactions failed: %v", err)
		}
		if len(txs) != 0 {
			t.Errorf("expected no transactions for run-002, got %d", len(txs))
		}
	})

	t.Run("RequiresRunID", func(t *testing.T) {
		if err := repo.SaveTransactions(ctx, "", sampleTransactions("")); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if _, err := repo.ListTransactions(ctx, "", domain.TransactionFilter{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
		if err := repo.SaveRun(ctx, &domain.RunSummary{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetRun(ctx, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN("/tmp/runs.db")

	if !strings.HasPrefix(dsn, "file:/tmp/runs.db?") {
		t.Fatalf("unexpected DSN prefix: %s", dsn)
	}

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("failed to parse DSN: %v", err)
	}
	pragmas := u.Query()["_pragma"]
	if len(pragmas) != len(sqlitePragmas) {
		t.Fatalf("expected %d pragmas, got %v", len(sqlitePragmas), pragmas)
	}
	for i, p := range sqlitePragmas {
		if pragmas[i] != p {
			t.Errorf("pragma %d = %q, want %q", i, pragmas[i], p)
		}
	}
}

func TestPostgresDSN(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		dsn := postgresDSN(domain.RepositoryConfig{PostgresUser: "sim"})
		for _, want := range []string{"host=localhost", "port=5432", "user=sim", "dbname=amlsim", "sslmode=disable", "application_name=osprey-sim"} {
			if !strings.Contains(dsn, want) {
				t.Errorf("expected %q in %q", want, dsn)
			}
		}
	})

	t.Run("Configured", func(t *testing.T) {
		dsn := postgresDSN(domain.RepositoryConfig{
			PostgresHost:    "db",
			PostgresPort:    6432,
			PostgresDB:      "datasets",
			PostgresSSLMode: "require",
		})
		for _, want := range []string{"host=db", "port=6432", "dbname=datasets", "sslmode=require"} {
			if !strings.Contains(dsn, want) {
				t.Errorf("expected %q in %q", want, dsn)
			}
		}
	})
}
