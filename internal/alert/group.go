// Package alert implements alert groups and the typology generators that
// produce their labeled transactions.
package alert

import (
	"errors"
	"fmt"

	"github.com/opensource-finance/osprey-sim/internal/account"
)

var (
	// ErrMalformedSchedule is returned when a typology cannot be scheduled.
	ErrMalformedSchedule = errors.New("malformed typology schedule")

	// ErrNoTypology is returned when a group without a generator joins a simulation.
	ErrNoTypology = errors.New("alert group has no typology")
)

// Group is a set of accounts acting together in one typology.
type Group struct {
	ID      int64
	SAR     bool
	Members []*account.Account

	// Main is the pivot account; nil means the first member.
	Main *account.Account

	typology *Typology
}

// NewGroup creates an empty alert group.
func NewGroup(id int64, sar bool) *Group {
	return &Group{ID: id, SAR: sar}
}

// AddMember appends an account to the group, optionally as the main account.
func (g *Group) AddMember(a *account.Account, main bool) {
	for _, m := range g.Members {
		if m == a {
			if main {
				g.Main = a
			}
			return
		}
	}
	g.Members = append(g.Members, a)
	if main {
		g.Main = a
	}
}

// MainAccount returns the pivot account, or nil for an empty group.
func (g *Group) MainAccount() *account.Account {
	if g.Main != nil {
		return g.Main
	}
	if len(g.Members) == 0 {
		return nil
	}
	return g.Members[0]
}

// Typology returns the attached generator, nil if none.
func (g *Group) Typology() *Typology { return g.typology }

// Attach schedules a typology for the group under a policy and attaches it.
func (g *Group) Attach(t *Typology, policy Policy, env *account.Env) error {
	if err := t.SetParameters(policy, g, env); err != nil {
		return fmt.Errorf("alert %d: %w", g.ID, err)
	}
	g.typology = t
	return nil
}

// SendTransactions fires the group's legs scheduled at step.
func (g *Group) SendTransactions(step int64, env *account.Env) {
	if g.typology == nil {
		return
	}
	g.typology.SendTransactions(step, env)
}
