package domain

import (
	"time"
)

// Run status values.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// RunSummary describes one simulation run and what it produced.
type RunSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Seed       int64  `json:"seed"`
	TotalSteps int64  `json:"totalSteps"`
	Status     string `json:"status"`

	// Topology size
	Accounts    int `json:"accounts"`
	AlertGroups int `json:"alertGroups"`

	// Output counters
	Transactions        int64   `json:"transactions"`
	SARTransactions     int64   `json:"sarTransactions"`
	SkippedTransactions int64   `json:"skippedTransactions"`
	TotalAmount         float64 `json:"totalAmount"`

	// StepCounts[i] is the number of transactions made in step i
	StepCounts []int64 `json:"stepCounts,omitempty"`

	// Screening results, if screening rules were configured
	Screening []ScreeningResult `json:"screening,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	DurationMs int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
}

// SARRatio returns the share of SAR transactions in the run.
func (r *RunSummary) SARRatio() float64 {
	if r.Transactions == 0 {
		return 0
	}
	return float64(r.SARTransactions) / float64(r.Transactions)
}
