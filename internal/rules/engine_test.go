package rules

import (
	"context"
	"fmt"
	"testing"

	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/metrics"
)

func labeled() []domain.Transaction {
	return []domain.Transaction{
		{ID: 0, Step: 0, Type: "TRANSFER", Amount: 950, OrigID: "A", BeneID: "B", IsSAR: true, AlertID: 1},
		{ID: 1, Step: 0, Type: "TRANSFER", Amount: 900, OrigID: "C", BeneID: "D", IsSAR: true, AlertID: 1},
		{ID: 2, Step: 1, Type: "TRANSFER", Amount: 120.5, OrigID: "E", BeneID: "F", AlertID: domain.NoAlert},
		{ID: 3, Step: 1, Type: "WIRE", Amount: 990, OrigID: "F", BeneID: "E", AlertID: domain.NoAlert},
		{ID: 4, Step: 2, Type: "TRANSFER", Amount: 300, OrigID: "B", BeneID: "A", IsSAR: true, AlertID: 1},
	}
}

func TestEngineCreation(t *testing.T) {
	engine, err := NewEngine(5, nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	defer engine.Close()

	if engine.RulesCount() != 0 {
		t.Errorf("expected 0 rules, got %d", engine.RulesCount())
	}
	if err := engine.Write(context.Background(), labeled()); err != nil {
		t.Errorf("screening without rules failed: %v", err)
	}
}

func TestLoadRules(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	t.Run("Valid", func(t *testing.T) {
		err := engine.LoadRules([]domain.ScreeningRule{
			{ID: "high-value", Expression: "amount >= 900.0"},
			{ID: "round", Expression: "is_round"},
		})
		if err != nil {
			t.Fatalf("failed to load rules: %v", err)
		}
		if engine.RulesCount() != 2 {
			t.Errorf("expected 2 rules, got %d", engine.RulesCount())
		}
	})

	t.Run("InvalidKeepsPrevious", func(t *testing.T) {
		err := engine.LoadRules([]domain.ScreeningRule{
			{ID: "ok", Expression: "amount > 1.0"},
			{ID: "invalid-rule", Expression: "this is not valid CEL !!!"},
		})
		if err == nil {
			t.Error("expected error for invalid CEL expression")
		}
		if engine.RulesCount() != 2 {
			t.Errorf("expected previous 2 rules to stay loaded, got %d", engine.RulesCount())
		}
	})

	t.Run("WrongOutputType", func(t *testing.T) {
		err := engine.ValidateRule(domain.ScreeningRule{ID: "str", Expression: "tx_type"})
		if err == nil {
			t.Error("expected error for string-valued expression")
		}
	})

	t.Run("LabelsHidden", func(t *testing.T) {
		err := engine.ValidateRule(domain.ScreeningRule{ID: "cheat", Expression: "is_sar"})
		if err == nil {
			t.Error("expected SAR label to be undeclared")
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := engine.LoadRules([]domain.ScreeningRule{
			{ID: "a", Expression: "true"},
			{ID: "a", Expression: "false"},
		})
		if err == nil {
			t.Error("expected error for duplicate rule id")
		}
	})
}

func TestConfusionMatrix(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	if err := engine.LoadRules([]domain.ScreeningRule{
		{ID: "high-value", Name: "High value", Expression: "amount >= 900.0"},
		{ID: "round", Name: "Round", Expression: "is_round"},
		{ID: "wire", Name: "Wire", Expression: "tx.type == 'WIRE' ? 1 : 0"},
	}); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	if err := engine.Write(context.Background(), labeled()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	report := engine.Report()
	if len(report) != 3 {
		t.Fatalf("expected 3 results, got %d", len(report))
	}

	tests := []struct {
		idx            int
		id             string
		tp, fp, tn, fn int64
	}{
		{0, "high-value", 2, 1, 1, 1},
		{1, "round", 2, 0, 2, 1},
		{2, "wire", 0, 1, 1, 3},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			r := report[tt.idx]
			if r.RuleID != tt.id {
				t.Fatalf("expected rule %s at %d, got %s", tt.id, tt.idx, r.RuleID)
			}
			if r.TruePositives != tt.tp || r.FalsePositives != tt.fp || r.TrueNegatives != tt.tn || r.FalseNegatives != tt.fn {
				t.Errorf("unexpected matrix tp=%d fp=%d tn=%d fn=%d", r.TruePositives, r.FalsePositives, r.TrueNegatives, r.FalseNegatives)
			}
		})
	}

	// high-value: precision 2/3, recall 2/3
	hv := report[0]
	if hv.Precision < 0.666 || hv.Precision > 0.667 || hv.Recall < 0.666 || hv.Recall > 0.667 {
		t.Errorf("unexpected precision/recall: %.3f/%.3f", hv.Precision, hv.Recall)
	}

	engine.Reset()
	for _, r := range engine.Report() {
		if r.TruePositives+r.FalsePositives+r.TrueNegatives+r.FalseNegatives != 0 {
			t.Errorf("expected reset counters for %s", r.RuleID)
		}
	}
}

func TestEvaluationErrors(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()

	// Integer division by zero compiles but fails at evaluation
	if err := engine.LoadRules([]domain.ScreeningRule{
		{ID: "div", Expression: "step / (step - step) > 0"},
	}); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}

	if err := engine.Write(context.Background(), labeled()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	r := engine.Report()[0]
	if r.Errors != int64(len(labeled())) {
		t.Errorf("expected %d errors, got %d", len(labeled()), r.Errors)
	}
}

func TestParallelExecution(t *testing.T) {
	reg := metrics.NewRegistry()
	engine, _ := NewEngine(2, reg)
	defer engine.Close()

	rules := make([]domain.ScreeningRule, 20)
	for i := range rules {
		rules[i] = domain.ScreeningRule{
			ID:         fmt.Sprintf("rule-%02d", i),
			Expression: fmt.Sprintf("amount > %d.0", i*50),
		}
	}
	if err := engine.LoadRules(rules); err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}

	ctx := context.Background()
	for range 10 {
		if err := engine.Write(ctx, labeled()); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	for _, r := range engine.Report() {
		total := r.TruePositives + r.FalsePositives + r.TrueNegatives + r.FalseNegatives
		if total != 50 {
			t.Errorf("%s: expected 50 evaluations, got %d", r.RuleID, total)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	engine, _ := NewEngine(5, nil)
	defer engine.Close()
	_ = engine.LoadRules([]domain.ScreeningRule{{ID: "all", Expression: "true"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := engine.Write(ctx, labeled()); err == nil {
		t.Error("expected context error")
	}
}
