// Package domain defines the core interfaces and types for the simulator.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for dataset persistence.
type Repository interface {
	// Run operations
	SaveRun(ctx context.Context, run *RunSummary) error
	GetRun(ctx context.Context, runID string) (*RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]*RunSummary, error)

	// Transaction operations
	SaveTransactions(ctx context.Context, runID string, txs []Transaction) error
	ListTransactions(ctx context.Context, runID string, filter TransactionFilter) ([]Transaction, error)
	CountTransactions(ctx context.Context, runID string) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite", "postgres" or "none"
	Driver string `json:"driver" yaml:"driver" env:"AMLSIM_DB_DRIVER" validate:"omitempty,oneof=sqlite postgres none"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath" env:"AMLSIM_SQLITE_PATH"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgresHost" env:"AMLSIM_POSTGRES_HOST"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgresPort" env:"AMLSIM_POSTGRES_PORT"`
	PostgresUser     string `json:"postgresUser" yaml:"postgresUser" env:"AMLSIM_POSTGRES_USER"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgresPassword" env:"AMLSIM_POSTGRES_PASSWORD"`
	PostgresDB       string `json:"postgresDB" yaml:"postgresDB" env:"AMLSIM_POSTGRES_DB"`
	PostgresSSLMode  string `json:"postgresSSLMode" yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"connMaxLifetime"`
}
