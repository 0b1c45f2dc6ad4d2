// Package rules screens generated datasets with CEL expressions.
//
// Every rule is evaluated against every transaction; a rule that fires "flags" the
// transaction. Flags are compared with the SAR labels, so each rule ends up with a
// confusion matrix showing how easily the embedded typologies can be told apart from
// normal activity.
package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/metrics"
	"github.com/opensource-finance/osprey-sim/internal/random"
)

// Engine is the CEL-based screening engine. It implements domain.Sink.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	rules      []*CompiledRule
	metrics    *metrics.Registry
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program and its running confusion matrix.
type CompiledRule struct {
	Rule    domain.ScreeningRule
	Program cel.Program
	result  domain.ScreeningResult
}

// NewEngine creates a new screening engine. reg may be nil.
func NewEngine(maxWorkers int, reg *metrics.Registry) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// SAR labels and alert ids are never visible to rules
	env, err := cel.NewEnv(
		cel.Variable("tx", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("step", cel.IntType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("orig_id", cel.StringType),
		cel.Variable("bene_id", cel.StringType),
		cel.Variable("orig_balance", cel.DoubleType),
		cel.Variable("bene_balance", cel.DoubleType),
		cel.Variable("is_round", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		metrics:    reg,
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(rule domain.ScreeningRule) error {
	_, err := e.compileRule(rule)
	return err
}

// LoadRules replaces the loaded rules and resets all counters.
// Nothing is replaced if any rule fails to compile.
func (e *Engine) LoadRules(rules []domain.ScreeningRule) error {
	compiled := make([]*CompiledRule, 0, len(rules))
	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("duplicate rule id %s", r.ID)
		}
		seen[r.ID] = struct{}{}

		c, err := e.compileRule(r)
		if err != nil {
			return err
		}
		compiled = append(compiled, c)
	}

	e.mu.Lock()
	e.rules = compiled
	e.mu.Unlock()
	return nil
}

// Write screens a batch. Rules are evaluated in parallel, each rule owning its counters.
func (e *Engine) Write(ctx context.Context, txs []domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.rules) == 0 || len(txs) == 0 {
		return nil
	}

	activations := make([]map[string]any, len(txs))
	for i := range txs {
		activations[i] = activation(&txs[i])
	}

	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for _, rule := range e.rules {
		wg.Add(1)
		go func(r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			for i := range txs {
				e.evaluateRule(r, activations[i], txs[i].IsSAR)
			}
		}(rule)
	}

	wg.Wait()

	return nil
}

func activation(tx *domain.Transaction) map[string]any {
	return map[string]any{
		"tx": map[string]any{
			"id":      tx.ID,
			"step":    tx.Step,
			"type":    tx.Type,
			"amount":  tx.Amount,
			"orig_id": tx.OrigID,
			"bene_id": tx.BeneID,
		},
		"amount":       tx.Amount,
		"step":         tx.Step,
		"tx_type":      tx.Type,
		"orig_id":      tx.OrigID,
		"bene_id":      tx.BeneID,
		"orig_balance": tx.OrigBalance,
		"bene_balance": tx.BeneBalance,
		"is_round":     random.IsRound(tx.Amount),
	}
}

// evaluateRule scores one transaction against one rule.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any, sar bool) {
	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		rule.result.Errors++
		return
	}

	flagged := toScore(out) > 0
	switch {
	case flagged && sar:
		rule.result.TruePositives++
	case flagged:
		rule.result.FalsePositives++
	case sar:
		rule.result.FalseNegatives++
	default:
		rule.result.TrueNegatives++
	}

	if flagged && e.metrics != nil {
		e.metrics.RecordScreeningFlag(rule.Rule.ID, sar)
	}
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// Report returns the finalized results in rule load order.
func (e *Engine) Report() []domain.ScreeningResult {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]domain.ScreeningResult, len(e.rules))
	for i, r := range e.rules {
		results[i] = r.result
		results[i].RuleID = r.Rule.ID
		results[i].Name = r.Rule.Name
		results[i].Finalize()
	}
	return results
}

// Reset clears all counters, keeping the loaded rules.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		r.result = domain.ScreeningResult{}
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(rule domain.ScreeningRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", rule.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}

var _ domain.Sink = (*Engine)(nil)
