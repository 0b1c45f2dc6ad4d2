package domain

import (
	"context"
)

// NoAlert is the alert ID carried by transactions that belong to no alert group.
const NoAlert int64 = -1

// DefaultTxType is used when an edge does not name a transaction type.
const DefaultTxType = "TRANSFER"

// Transaction is a generated transaction event.
// Once handed to a Sink it must not be modified.
type Transaction struct {
	// Sequential identifier, unique within a run
	ID    int64  `json:"id"`
	RunID string `json:"runId,omitempty"`

	// Simulation step the transaction was made in
	Step int64  `json:"step"`
	Type string `json:"type"`

	// Always strictly positive
	Amount float64 `json:"amount"`

	// Parties involved
	OrigID string `json:"origId"`
	BeneID string `json:"beneId"`

	// Balances after the transaction posted
	OrigBalance float64 `json:"origBalance"`
	BeneBalance float64 `json:"beneBalance"`

	// Labels
	IsSAR   bool  `json:"isSar"`
	AlertID int64 `json:"alertId"`
}

// HasAlert reports whether the transaction was produced by an alert group.
func (t *Transaction) HasAlert() bool {
	return t.AlertID != NoAlert
}

// Sink receives generated transactions, one batch per simulation step, in generation order.
// Implementations must not retain the slice after Write returns.
type Sink interface {
	Write(ctx context.Context, txs []Transaction) error
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	Step    *int64
	AlertID *int64
	SAROnly bool
	Limit   int
	Offset  int
}
