// Package account holds simulated accounts and the per-account transaction models
// that produce their normal (non-SAR) activity.
package account

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/osprey-sim/internal/domain"
)

var (
	// ErrInvalidParameters is returned when a model is configured with unusable values.
	ErrInvalidParameters = errors.New("invalid model parameters")

	// ErrSelfLoop is returned when an account is linked to itself.
	ErrSelfLoop = errors.New("account cannot transact with itself")

	// ErrNoModel is returned when an account without a model joins a simulation.
	ErrNoModel = errors.New("account has no transaction model")
)

// Account is a simulated bank account.
// Its balance is changed only by the simulation driver when a transaction posts.
type Account struct {
	id      string
	sar     bool
	balance float64

	origs   []*Account
	benes   []*Account
	txTypes map[string]string

	model *Model
}

// New creates an account with an initial balance.
func New(id string, sar bool, balance float64) *Account {
	return &Account{
		id:      id,
		sar:     sar,
		balance: balance,
		txTypes: make(map[string]string),
	}
}

// ID returns the account identifier.
func (a *Account) ID() string { return a.id }

// IsSAR reports whether the account is labeled suspicious.
func (a *Account) IsSAR() bool { return a.sar }

// Balance returns the current balance.
func (a *Account) Balance() float64 { return a.balance }

// Withdraw debits the account.
func (a *Account) Withdraw(amount float64) { a.balance -= amount }

// Deposit credits the account.
func (a *Account) Deposit(amount float64) { a.balance += amount }

// Originators returns the accounts that send to this account, in link order.
func (a *Account) Originators() []*Account { return a.origs }

// Beneficiaries returns the accounts this account sends to, in link order.
func (a *Account) Beneficiaries() []*Account { return a.benes }

// AddBeneficiary links a -> bene with a transaction type.
// Linking an existing pair only updates its type.
func (a *Account) AddBeneficiary(bene *Account, txType string) error {
	if bene == nil {
		return fmt.Errorf("account %s: nil beneficiary", a.id)
	}
	if bene == a || bene.id == a.id {
		return fmt.Errorf("account %s: %w", a.id, ErrSelfLoop)
	}
	if txType == "" {
		txType = domain.DefaultTxType
	}
	if _, linked := a.txTypes[bene.id]; !linked {
		a.benes = append(a.benes, bene)
		bene.origs = append(bene.origs, a)
	}
	a.txTypes[bene.id] = txType
	return nil
}

// TxType returns the transaction type used towards a beneficiary.
func (a *Account) TxType(bene *Account) string {
	if t, ok := a.txTypes[bene.id]; ok {
		return t
	}
	return domain.DefaultTxType
}

// Model returns the attached transaction model, nil if none.
func (a *Account) Model() *Model { return a.model }

// AttachModel sets the account's transaction model, replacing any previous one.
func (a *Account) AttachModel(m *Model) { a.model = m }

// MakeTransactions runs the account's model for one step.
func (a *Account) MakeTransactions(step int64, env *Env) {
	if a.model == nil {
		return
	}
	a.model.MakeTransactions(step, a, env)
}
