// Package repository persists generated datasets and run summaries.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/osprey-sim/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

const (
	defaultListLimit = 1000
	maxListLimit     = 100000
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun inserts or updates a run summary.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.RunSummary) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run ID is required", ErrInvalidInput)
	}

	stepCounts, err := json.Marshal(run.StepCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal step counts: %w", err)
	}
	screening, err := json.Marshal(run.Screening)
	if err != nil {
		return fmt.Errorf("failed to marshal screening results: %w", err)
	}

	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt, Valid: true}
	}

	query := `
		INSERT INTO runs (
			id, name, seed, total_steps, status, accounts, alert_groups,
			transactions, sar_transactions, skipped_transactions, total_amount,
			step_counts, screening, started_at, finished_at, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			accounts = excluded.accounts,
			alert_groups = excluded.alert_groups,
			transactions = excluded.transactions,
			sar_transactions = excluded.sar_transactions,
			skipped_transactions = excluded.skipped_transactions,
			total_amount = excluded.total_amount,
			step_counts = excluded.step_counts,
			screening = excluded.screening,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms,
			error = excluded.error
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Name, run.Seed, run.TotalSteps, run.Status,
		run.Accounts, run.AlertGroups,
		run.Transactions, run.SARTransactions, run.SkippedTransactions, run.TotalAmount,
		string(stepCounts), string(screening),
		run.StartedAt.UTC(), finishedAt, run.DurationMs, run.Error,
	)
	return err
}

const runColumns = `
	id, name, seed, total_steps, status, accounts, alert_groups,
	transactions, sar_transactions, skipped_transactions, total_amount,
	step_counts, screening, started_at, finished_at, duration_ms, error
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunSummary, error) {
	var run domain.RunSummary
	var stepCounts, screening, runErr sql.NullString
	var finishedAt sql.NullTime

	if err := row.Scan(
		&run.ID, &run.Name, &run.Seed, &run.TotalSteps, &run.Status,
		&run.Accounts, &run.AlertGroups,
		&run.Transactions, &run.SARTransactions, &run.SkippedTransactions, &run.TotalAmount,
		&stepCounts, &screening, &run.StartedAt, &finishedAt, &run.DurationMs, &runErr,
	); err != nil {
		return nil, err
	}

	if stepCounts.Valid && stepCounts.String != "" {
		if err := json.Unmarshal([]byte(stepCounts.String), &run.StepCounts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step counts: %w", err)
		}
	}
	if screening.Valid && screening.String != "" {
		if err := json.Unmarshal([]byte(screening.String), &run.Screening); err != nil {
			return nil, fmt.Errorf("failed to unmarshal screening results: %w", err)
		}
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	run.Error = runErr.String

	return &run, nil
}

// GetRun retrieves a run summary by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.RunSummary, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.RunSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.RunSummary
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// SaveTransactions stores a batch of transactions in one database transaction.
// Transactions already stored for the run are left untouched, so a batch may be redelivered.
func (r *SQLRepository) SaveTransactions(ctx context.Context, runID string, txs []domain.Transaction) error {
	if runID == "" {
		return fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}
	if len(txs) == 0 {
		return nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	query := `
		INSERT INTO transactions (
			run_id, id, step, type, amount, orig_id, bene_id,
			orig_balance, bene_balance, is_sar, alert_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO NOTHING
	`

	stmt, err := dbTx.PrepareContext(ctx, r.rebind(query))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range txs {
		tx := &txs[i]
		sar := 0
		if tx.IsSAR {
			sar = 1
		}
		if _, err := stmt.ExecContext(ctx,
			runID, tx.ID, tx.Step, tx.Type, tx.Amount, tx.OrigID, tx.BeneID,
			tx.OrigBalance, tx.BeneBalance, sar, tx.AlertID,
		); err != nil {
			return fmt.Errorf("failed to insert transaction %d: %w", tx.ID, err)
		}
	}

	return dbTx.Commit()
}

// ListTransactions returns a run's transactions in generation order.
func (r *SQLRepository) ListTransactions(ctx context.Context, runID string, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	if runID == "" {
		return nil, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	var b strings.Builder
	b.WriteString(`
		SELECT run_id, id, step, type, amount, orig_id, bene_id,
			   orig_balance, bene_balance, is_sar, alert_id
		FROM transactions
		WHERE run_id = ?`)
	args := []any{runID}

	if filter.Step != nil {
		b.WriteString(` AND step = ?`)
		args = append(args, *filter.Step)
	}
	if filter.AlertID != nil {
		b.WriteString(` AND alert_id = ?`)
		args = append(args, *filter.AlertID)
	}
	if filter.SAROnly {
		b.WriteString(` AND is_sar = 1`)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)
	b.WriteString(` ORDER BY id LIMIT ? OFFSET ?`)
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := r.db.QueryContext(ctx, r.rebind(b.String()), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []domain.Transaction
	for rows.Next() {
		var tx domain.Transaction
		var sar int

		if err := rows.Scan(
			&tx.RunID, &tx.ID, &tx.Step, &tx.Type, &tx.Amount, &tx.OrigID, &tx.BeneID,
			&tx.OrigBalance, &tx.BeneBalance, &sar, &tx.AlertID,
		); err != nil {
			return nil, err
		}
		tx.IsSAR = sar == 1
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// CountTransactions returns the number of stored transactions of a run.
func (r *SQLRepository) CountTransactions(ctx context.Context, runID string) (int64, error) {
	if runID == "" {
		return 0, fmt.Errorf("%w: runID is required", ErrInvalidInput)
	}

	var n int64
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT COUNT(*) FROM transactions WHERE run_id = ?`), runID).Scan(&n)
	return n, err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

var _ domain.Repository = (*SQLRepository)(nil)
