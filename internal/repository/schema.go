package repository

// Schema definitions for the simulator database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    seed BIGINT NOT NULL,
    total_steps BIGINT NOT NULL,
    status TEXT NOT NULL,
    accounts INTEGER NOT NULL DEFAULT 0,
    alert_groups INTEGER NOT NULL DEFAULT 0,
    transactions BIGINT NOT NULL DEFAULT 0,
    sar_transactions BIGINT NOT NULL DEFAULT 0,
    skipped_transactions BIGINT NOT NULL DEFAULT 0,
    total_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    step_counts TEXT,
    screening TEXT,
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// schemaTransactions stores generated transactions, keyed by run and sequence number.
const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    run_id TEXT NOT NULL,
    id BIGINT NOT NULL,
    step BIGINT NOT NULL,
    type TEXT NOT NULL,
    amount DOUBLE PRECISION NOT NULL,
    orig_id TEXT NOT NULL,
    bene_id TEXT NOT NULL,
    orig_balance DOUBLE PRECISION NOT NULL,
    bene_balance DOUBLE PRECISION NOT NULL,
    is_sar INTEGER NOT NULL DEFAULT 0,
    alert_id BIGINT NOT NULL DEFAULT -1,
    PRIMARY KEY (run_id, id)
);

CREATE INDEX IF NOT EXISTS idx_transactions_step ON transactions(run_id, step);
CREATE INDEX IF NOT EXISTS idx_transactions_alert ON transactions(run_id, alert_id);
CREATE INDEX IF NOT EXISTS idx_transactions_sar ON transactions(run_id, is_sar);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaTransactions,
	}
}
