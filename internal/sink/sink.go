// Package sink provides the destinations generated transactions are written to.
// Every sink implements domain.Sink and receives one batch per simulation step.
package sink

import (
	"context"
	"errors"

	"github.com/opensource-finance/osprey-sim/internal/domain"
)

// Multi fans a batch out to several sinks in order.
type Multi struct {
	sinks []domain.Sink
}

// NewMulti returns a sink writing to every non-nil sink given.
func NewMulti(sinks ...domain.Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Write hands the batch to every sink. All sinks see the batch even if one fails.
func (m *Multi) Write(ctx context.Context, txs []domain.Transaction) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(ctx, txs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Discard drops every batch.
type Discard struct{}

// Write accepts and drops the batch.
func (Discard) Write(context.Context, []domain.Transaction) error { return nil }

// Func adapts a function to domain.Sink.
type Func func(ctx context.Context, txs []domain.Transaction) error

// Write calls f.
func (f Func) Write(ctx context.Context, txs []domain.Transaction) error { return f(ctx, txs) }

var (
	_ domain.Sink = (*Multi)(nil)
	_ domain.Sink = Discard{}
	_ domain.Sink = Func(nil)
)
