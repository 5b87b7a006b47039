// Package calculation performs audited closed-form financial calculations
// driven by a formula table.
package calculation

import (
	"cmp"
	"context"
	_ "embed"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/logger"
)

//go:embed formulas.yaml
var defaultFormulas []byte

// Ensure Engine implements the interface.
var _ driven.Calculator = (*Engine)(nil)

// Formula kinds.
const (
	KindProfitSharing = "profit_sharing"
)

// Loss rules for profit sharing.
const (
	LossProportional    = "proportional"
	LossCapitalProvider = "capital_provider"
)

// Input field names reported in missing-input errors.
const (
	FieldStructure = "structure"
	FieldRatio     = "ratio"
	FieldAmount    = "amount"
)

// Table is the YAML form of a formula table.
type Table struct {
	Formulas []Formula `yaml:"formulas"`
}

// Formula binds a structure name and its aliases to a computation.
type Formula struct {
	Name       string   `yaml:"name"`
	Aliases    []string `yaml:"aliases"`
	Kind       string   `yaml:"kind"`
	LossRule   string   `yaml:"loss_rule"`
	RatioInput string   `yaml:"ratio_input"`
	Parties    []string `yaml:"parties"`
}

// kindFunc computes one formula kind from resolved inputs.
type kindFunc func(f Formula, in inputs) (*domain.Calculation, error)

var kinds = map[string]kindFunc{
	KindProfitSharing: profitSharing,
}

type alias struct {
	phrase  string
	formula int
}

// Engine is a driven.Calculator. It is immutable and safe for concurrent use.
type Engine struct {
	formulas []Formula
	aliases  []alias // longest phrase first
}

// DefaultTable returns the built-in formula table.
func DefaultTable() (Table, error) {
	return parseTable(defaultFormulas)
}

// LoadTable reads a formula table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading formulas %s: %w", path, err)
	}
	return parseTable(data)
}

func parseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("%w: parsing formulas: %v", domain.ErrInvalidConfiguration, err)
	}
	return t, nil
}

// Load builds an engine from path, or from the built-in table when path is empty.
func Load(path string) (*Engine, error) {
	var (
		t   Table
		err error
	)
	if path == "" {
		t, err = DefaultTable()
	} else {
		t, err = LoadTable(path)
	}
	if err != nil {
		return nil, err
	}
	return New(t)
}

// New validates a formula table.
func New(t Table) (*Engine, error) {
	e := &Engine{}
	for i, f := range t.Formulas {
		f.Name = strings.ToLower(strings.TrimSpace(f.Name))
		switch {
		case f.Name == "":
			return nil, fmt.Errorf("%w: formula %d has no name", domain.ErrInvalidConfiguration, i)
		case kinds[f.Kind] == nil:
			return nil, fmt.Errorf("%w: formula %s has unknown kind %q", domain.ErrInvalidConfiguration, f.Name, f.Kind)
		case f.Kind == KindProfitSharing && len(f.Parties) < 2:
			return nil, fmt.Errorf("%w: formula %s needs at least two parties", domain.ErrInvalidConfiguration, f.Name)
		case f.Kind == KindProfitSharing && f.LossRule != LossProportional && f.LossRule != LossCapitalProvider:
			return nil, fmt.Errorf("%w: formula %s has unknown loss rule %q", domain.ErrInvalidConfiguration, f.Name, f.LossRule)
		}
		if f.RatioInput == "" {
			f.RatioInput = "ratio"
		}
		e.formulas = append(e.formulas, f)
		for _, a := range append([]string{f.Name}, f.Aliases...) {
			if a = normalise(a); a != "" {
				e.aliases = append(e.aliases, alias{phrase: a, formula: len(e.formulas) - 1})
			}
		}
	}
	slices.SortStableFunc(e.aliases, func(a, b alias) int {
		return cmp.Compare(len(b.phrase), len(a.phrase))
	})
	return e, nil
}

// Structures returns the formula names in table order.
func (e *Engine) Structures() []string {
	names := make([]string, len(e.formulas))
	for i, f := range e.formulas {
		names[i] = f.Name
	}
	return names
}

// inputs are resolved calculation parameters.
type inputs struct {
	formula int // -1 when unknown
	ratio   []float64
	amount  *float64
}

// Calculate extracts inputs from query, overrides them with any explicit
// ones, and runs the matching formula.
func (e *Engine) Calculate(ctx context.Context, query string, explicit *domain.CalculationInputs) (*domain.Calculation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	in := e.extract(query)
	if explicit != nil {
		if explicit.Structure != "" {
			in.formula = e.lookup(explicit.Structure)
			if in.formula < 0 {
				return nil, &domain.CalculationError{
					Err:    domain.ErrInvalidInputs,
					Fields: []string{FieldStructure},
					Reason: fmt.Sprintf("unknown structure %q (known: %s)",
						explicit.Structure, strings.Join(e.Structures(), ", ")),
				}
			}
		}
		if len(explicit.Ratio) > 0 {
			in.ratio = slices.Clone(explicit.Ratio)
		}
		if explicit.Amount != nil {
			a := *explicit.Amount
			in.amount = &a
		}
	}

	var missing []string
	if in.formula < 0 {
		missing = append(missing, FieldStructure)
	}
	if len(in.ratio) == 0 {
		missing = append(missing, FieldRatio)
	}
	if in.amount == nil {
		missing = append(missing, FieldAmount)
	}
	if len(missing) > 0 {
		logger.Debug("calculation: missing inputs %v", missing)
		return nil, &domain.CalculationError{Err: domain.ErrMissingInputs, Fields: missing}
	}

	f := e.formulas[in.formula]
	calc, err := kinds[f.Kind](f, in)
	if err != nil {
		return nil, err
	}
	logger.Debug("calculation: %s with %d steps", calc.Type, len(calc.Steps))
	return calc, nil
}

// lookup resolves a structure name or alias.
func (e *Engine) lookup(name string) int {
	name = normalise(name)
	for _, a := range e.aliases {
		if a.phrase == name {
			return a.formula
		}
	}
	return -1
}

// profitSharing splits an amount across parties by ratio. A negative
// amount is a loss and follows the formula's loss rule.
func profitSharing(f Formula, in inputs) (*domain.Calculation, error) {
	if len(in.ratio) != len(f.Parties) {
		return nil, &domain.CalculationError{
			Err:    domain.ErrInvalidInputs,
			Fields: []string{FieldRatio},
			Reason: fmt.Sprintf("%s needs a %d-part ratio, got %d parts", f.Name, len(f.Parties), len(in.ratio)),
		}
	}
	sum := 0.0
	for _, r := range in.ratio {
		if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, &domain.CalculationError{
				Err:    domain.ErrInvalidInputs,
				Fields: []string{FieldRatio},
				Reason: "ratio shares must be non-negative numbers",
			}
		}
		sum += r
	}

	// Ratios may be given as percentages or as fractions of one.
	var percents []float64
	switch {
	case math.Abs(sum-100) < 1e-6:
		percents = slices.Clone(in.ratio)
	case math.Abs(sum-1) < 1e-9:
		for _, r := range in.ratio {
			percents = append(percents, r*100)
		}
	default:
		return nil, &domain.CalculationError{
			Err:    domain.ErrInvalidInputs,
			Fields: []string{FieldRatio},
			Reason: fmt.Sprintf("ratio shares sum to %s, want 100 or 1", FormatNumber(sum)),
		}
	}

	amount := *in.amount
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, &domain.CalculationError{
			Err:    domain.ErrInvalidInputs,
			Fields: []string{FieldAmount},
			Reason: "amount must be a finite number",
		}
	}

	calc := &domain.Calculation{
		Type: f.Name,
		Inputs: map[string]any{
			f.RatioInput: slices.Clone(in.ratio),
		},
		Outputs: make(map[string]float64, len(f.Parties)),
	}

	loss := amount < 0
	if loss {
		calc.Inputs["loss"] = -amount
	} else {
		calc.Inputs["profit"] = amount
	}

	parts := make([]string, len(percents))
	for i, p := range percents {
		parts[i] = FormatNumber(p) + "%"
	}
	calc.Steps = append(calc.Steps, fmt.Sprintf("%s is %s with %s losses",
		f.Name, strings.ReplaceAll(f.Kind, "_", " "), lossDescription(f.LossRule)))
	calc.Steps = append(calc.Steps, fmt.Sprintf("Ratio %s between %s",
		strings.Join(parts, " / "), strings.Join(f.Parties, " and ")))

	if loss && f.LossRule == LossCapitalProvider {
		for i, party := range f.Parties {
			share := 0.0
			if i == 0 {
				share = amount
			}
			calc.Outputs[party] = round2(share)
		}
		calc.Steps = append(calc.Steps, fmt.Sprintf("Loss of %s is borne entirely by %s",
			FormatNumber(-amount), f.Parties[0]))
		for _, party := range f.Parties[1:] {
			calc.Steps = append(calc.Steps, fmt.Sprintf("%s receives %s", party, FormatNumber(0)))
		}
	} else {
		label := "Profit"
		if loss {
			label = "Loss"
		}
		total := 0.0
		for i, party := range f.Parties {
			share := round2(amount * percents[i] / 100)
			calc.Outputs[party] = share
			total += share
			calc.Steps = append(calc.Steps, fmt.Sprintf("%s share: %s × %s%% = %s",
				party, FormatNumber(amount), FormatNumber(percents[i]), FormatNumber(share)))
		}
		calc.Steps = append(calc.Steps, fmt.Sprintf("%s check: shares total %s", label, FormatNumber(round2(total))))
	}
	return calc, nil
}

func lossDescription(rule string) string {
	if rule == LossCapitalProvider {
		return "borne by the capital provider"
	}
	return "shared in proportion to capital"
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
