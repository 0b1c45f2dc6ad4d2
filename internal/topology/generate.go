package topology

import (
	"fmt"

	"github.com/opensource-finance/osprey-sim/internal/random"
)

var (
	modelNames    = []string{"single", "fan_out", "fan_in", "forward", "periodical"}
	typologyNames = []string{"fan_in", "fan_out", "cycle", "scatter_gather"}
	policyNames   = []string{"simultaneous", "fixed_interval", "random_range", "fixed_interval_biased_start"}
)

// GenerateOptions shapes a synthetic topology.
type GenerateOptions struct {
	Accounts    int     `json:"accounts" validate:"gte=1,lte=1000000"`
	Degree      int     `json:"degree" validate:"gte=0"`
	Alerts      int     `json:"alerts" validate:"gte=0"`
	AlertSize   int     `json:"alertSize" validate:"gte=0"`
	SARFraction float64 `json:"sarFraction" validate:"gte=0,lte=1"`
	Balance     float64 `json:"balance" validate:"gte=0"`
	MinAmount   float64 `json:"minAmount" validate:"gte=0"`
	MaxAmount   float64 `json:"maxAmount" validate:"gtefield=MinAmount"`
	Seed        int64   `json:"seed"`
}

// Generate builds a random topology: every account gets Degree outgoing edges
// and Alerts groups of AlertSize members are drawn from the SAR accounts.
func Generate(opts GenerateOptions) *Document {
	rng := random.New(opts.Seed)
	doc := &Document{}

	var sarIDs []string
	for i := 0; i < opts.Accounts; i++ {
		id := fmt.Sprintf("ACC%06d", i)
		sar := rng.Float64() < opts.SARFraction
		if sar {
			sarIDs = append(sarIDs, id)
		}
		doc.Accounts = append(doc.Accounts, AccountSpec{
			ID:       id,
			SAR:      sar,
			Balance:  opts.Balance,
			Model:    modelNames[rng.IntN(len(modelNames))],
			Interval: int64(rng.IntN(10) + 1),
		})
	}

	if opts.Accounts > 1 {
		for i := range doc.Accounts {
			for d := 0; d < opts.Degree; d++ {
				j := rng.IntN(opts.Accounts - 1)
				if j >= i {
					j++
				}
				doc.Transactions = append(doc.Transactions, EdgeSpec{
					Orig: doc.Accounts[i].ID,
					Bene: doc.Accounts[j].ID,
				})
			}
		}
	}

	size := max(opts.AlertSize, 3)
	if len(sarIDs) < size {
		return doc
	}
	for i := 0; i < opts.Alerts; i++ {
		members := make([]string, 0, size)
		seen := make(map[string]bool, size)
		for len(members) < size {
			id := sarIDs[rng.IntN(len(sarIDs))]
			if !seen[id] {
				seen[id] = true
				members = append(members, id)
			}
		}
		doc.Alerts = append(doc.Alerts, AlertSpec{
			ID:        int64(i),
			Typology:  typologyNames[rng.IntN(len(typologyNames))],
			SAR:       true,
			Policy:    policyNames[rng.IntN(len(policyNames))],
			MinAmount: opts.MinAmount,
			MaxAmount: opts.MaxAmount,
			Main:      members[0],
			Members:   members,
		})
	}
	return doc
}

// Validate checks the option ranges.
func (o GenerateOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid generate options: %w", err)
	}
	return nil
}
