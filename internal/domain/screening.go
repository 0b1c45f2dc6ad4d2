package domain

// ScreeningRule is a CEL expression evaluated against every generated transaction.
// A rule that returns true "flags" the transaction; flags are compared with the SAR label
// to measure how separable the generated dataset is.
type ScreeningRule struct {
	ID         string `json:"id" yaml:"id" validate:"required"`
	Name       string `json:"name" yaml:"name"`
	Expression string `json:"expression" yaml:"expression" validate:"required"`
}

// ScreeningResult is the confusion matrix of one rule against the SAR labels.
type ScreeningResult struct {
	RuleID         string  `json:"ruleId"`
	Name           string  `json:"name"`
	TruePositives  int64   `json:"truePositives"`
	FalsePositives int64   `json:"falsePositives"`
	TrueNegatives  int64   `json:"trueNegatives"`
	FalseNegatives int64   `json:"falseNegatives"`
	Errors         int64   `json:"errors"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Finalize computes precision, recall and F1 from the counters.
func (r *ScreeningResult) Finalize() {
	r.Precision, r.Recall, r.F1 = 0, 0, 0
	if flagged := r.TruePositives + r.FalsePositives; flagged > 0 {
		r.Precision = float64(r.TruePositives) / float64(flagged)
	}
	if positives := r.TruePositives + r.FalseNegatives; positives > 0 {
		r.Recall = float64(r.TruePositives) / float64(positives)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
}
