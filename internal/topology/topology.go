// Package topology loads the account graph and alert groups of a simulation
// from a YAML or JSON document and builds them into a simulator.
package topology

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/osprey-sim/internal/account"
	"github.com/opensource-finance/osprey-sim/internal/alert"
	"github.com/opensource-finance/osprey-sim/internal/sim"
)

var validate = validator.New()

// ErrUnknownAccount is returned when an edge or alert references a missing account.
var ErrUnknownAccount = errors.New("unknown account")

// Document is the serialized topology.
type Document struct {
	Accounts     []AccountSpec `json:"accounts" yaml:"accounts" validate:"required,min=1,dive"`
	Transactions []EdgeSpec    `json:"transactions" yaml:"transactions" validate:"dive"`
	Alerts       []AlertSpec   `json:"alerts" yaml:"alerts" validate:"dive"`
}

// AccountSpec describes one account and its normal model.
type AccountSpec struct {
	ID       string  `json:"id" yaml:"id" validate:"required"`
	SAR      bool    `json:"sar" yaml:"sar"`
	Balance  float64 `json:"balance" yaml:"balance"`
	Model    string  `json:"model" yaml:"model" validate:"required"`
	Interval int64   `json:"interval" yaml:"interval" validate:"gte=0"`

	// Omitted bounds are unbounded
	Start *int64 `json:"start,omitempty" yaml:"start,omitempty"`
	End   *int64 `json:"end,omitempty" yaml:"end,omitempty"`
}

// EdgeSpec links an originator to a beneficiary.
type EdgeSpec struct {
	Orig string `json:"orig" yaml:"orig" validate:"required"`
	Bene string `json:"bene" yaml:"bene" validate:"required,nefield=Orig"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// AlertSpec describes an alert group and its typology.
type AlertSpec struct {
	ID        int64    `json:"id" yaml:"id" validate:"gte=0"`
	Typology  string   `json:"typology" yaml:"typology" validate:"required"`
	SAR       bool     `json:"sar" yaml:"sar"`
	Policy    string   `json:"policy,omitempty" yaml:"policy,omitempty"`
	MinAmount float64  `json:"min_amount" yaml:"min_amount" validate:"gte=0"`
	MaxAmount float64  `json:"max_amount" yaml:"max_amount" validate:"gtefield=MinAmount"`
	Start     *int64   `json:"start,omitempty" yaml:"start,omitempty"`
	End       *int64   `json:"end,omitempty" yaml:"end,omitempty"`
	Main      string   `json:"main,omitempty" yaml:"main,omitempty"`
	Members   []string `json:"members" yaml:"members" validate:"required,min=1,dive,required"`
}

// Load reads a topology file. JSON documents are accepted since JSON is valid YAML.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topology: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a topology document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse topology: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the document's struct constraints.
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid topology: %w", err)
	}
	return nil
}

// Build constructs the document into s. Models and typologies draw from the
// simulator's random stream in document order: accounts first, then alerts.
func Build(doc *Document, s *sim.Simulator) error {
	env := s.Env()
	cfg := s.Config()

	for _, spec := range doc.Accounts {
		kind, err := account.ParseKind(spec.Model)
		if err != nil {
			return fmt.Errorf("account %s: %w", spec.ID, err)
		}
		interval := spec.Interval
		if interval == 0 {
			interval = cfg.TransactionInterval
		}

		a := account.New(spec.ID, spec.SAR, spec.Balance)
		m := account.NewModel(kind, env)
		if err := m.SetParameters(interval, spec.Balance, bound(spec.Start), bound(spec.End), env); err != nil {
			return fmt.Errorf("account %s: %w", spec.ID, err)
		}
		a.AttachModel(m)
		if err := s.AddAccount(a); err != nil {
			return err
		}
	}

	for _, e := range doc.Transactions {
		orig, err := lookup(s, e.Orig)
		if err != nil {
			return err
		}
		bene, err := lookup(s, e.Bene)
		if err != nil {
			return err
		}
		if err := orig.AddBeneficiary(bene, e.Type); err != nil {
			return err
		}
	}

	for _, spec := range doc.Alerts {
		if err := buildAlert(s, spec); err != nil {
			return fmt.Errorf("alert %d: %w", spec.ID, err)
		}
	}
	return nil
}

func buildAlert(s *sim.Simulator, spec AlertSpec) error {
	env := s.Env()

	kind, err := alert.ParseKind(spec.Typology)
	if err != nil {
		return err
	}
	policy := alert.FixedInterval
	if spec.Policy != "" {
		if policy, err = alert.ParsePolicy(spec.Policy); err != nil {
			return err
		}
	}

	g := alert.NewGroup(spec.ID, spec.SAR)
	for _, id := range spec.Members {
		a, err := lookup(s, id)
		if err != nil {
			return err
		}
		g.AddMember(a, id == spec.Main)
	}
	if spec.Main != "" && g.Main == nil {
		return fmt.Errorf("main %s is not a member: %w", spec.Main, ErrUnknownAccount)
	}

	typ, err := alert.New(kind, spec.MinAmount, spec.MaxAmount, bound(spec.Start), bound(spec.End), env)
	if err != nil {
		return err
	}
	if err := g.Attach(typ, policy, env); err != nil {
		return err
	}
	return s.AddAlertGroup(g)
}

func lookup(s *sim.Simulator, id string) (*account.Account, error) {
	a, ok := s.Account(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, id)
	}
	return a, nil
}

func bound(v *int64) int64 {
	if v == nil {
		return -1
	}
	return *v
}

// Stats summarizes a document.
type Stats struct {
	Accounts    int
	SARAccounts int
	Edges       int
	Alerts      int
}

// Stats counts the document's elements.
func (d *Document) Stats() Stats {
	st := Stats{Accounts: len(d.Accounts), Edges: len(d.Transactions), Alerts: len(d.Alerts)}
	for _, a := range d.Accounts {
		if a.SAR {
			st.SARAccounts++
		}
	}
	return st
}

