// Package compliance checks drafted answers against a pluggable rule table.
package compliance

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/logger"
)

//go:embed rules.yaml
var defaultRules []byte

// Ensure Checker implements the interface.
var _ driven.ComplianceChecker = (*Checker)(nil)

// FallbackAnswer replaces a failed draft when the rule table names none.
const FallbackAnswer = "I can't give a reliable answer to this question from the available material. " +
	"Please rephrase it, or consult a qualified Shariah scholar for rulings on your specific situation."

// Rule kinds.
const (
	KindForbiddenTerms         = "forbidden_terms"
	KindRequiredDisclaimer     = "required_disclaimer"
	KindCalculationConsistency = "calculation_consistency"
)

// answerRefLen is the number of hex digits of the draft hash kept as its reference.
const answerRefLen = 16

// Table is the YAML form of a rule table.
type Table struct {
	FallbackAnswer string `yaml:"fallback_answer"`
	Rules          []Rule `yaml:"rules"`
}

// Rule is one compliance constraint.
type Rule struct {
	ID         string            `yaml:"id"`
	Kind       string            `yaml:"kind"`
	Severity   domain.Severity   `yaml:"severity"`
	Message    string            `yaml:"message"`
	Patterns   []string          `yaml:"patterns"`
	Phrases    []string          `yaml:"phrases"`
	Categories []domain.Category `yaml:"categories"`
}

type compiledRule struct {
	Rule
	patterns []*regexp.Regexp
	phrases  []string
}

func (r *compiledRule) appliesTo(c domain.Category) bool {
	return len(r.Categories) == 0 || slices.Contains(r.Categories, c)
}

// Checker is a driven.ComplianceChecker. It is immutable and safe for
// concurrent use.
type Checker struct {
	rules    []compiledRule
	fallback string
}

// DefaultTable returns the built-in rule table.
func DefaultTable() (Table, error) {
	return parseTable(defaultRules)
}

// LoadTable reads a rule table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading rules %s: %w", path, err)
	}
	return parseTable(data)
}

func parseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("%w: parsing rules: %v", domain.ErrInvalidConfiguration, err)
	}
	return t, nil
}

// Load builds a checker from path, or from the built-in table when path is empty.
func Load(path string) (*Checker, error) {
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

// New compiles a rule table.
func New(t Table) (*Checker, error) {
	c := &Checker{fallback: strings.TrimSpace(t.FallbackAnswer)}
	if c.fallback == "" {
		c.fallback = FallbackAnswer
	}

	ids := make(map[string]bool)
	for _, r := range t.Rules {
		if r.ID == "" {
			return nil, fmt.Errorf("%w: compliance rule without id", domain.ErrInvalidConfiguration)
		}
		if ids[r.ID] {
			return nil, fmt.Errorf("%w: duplicate compliance rule %s", domain.ErrInvalidConfiguration, r.ID)
		}
		ids[r.ID] = true

		if r.Severity != domain.SeverityFlag && r.Severity != domain.SeverityFail {
			return nil, fmt.Errorf("%w: rule %s has unknown severity %q", domain.ErrInvalidConfiguration, r.ID, r.Severity)
		}
		for _, cat := range r.Categories {
			if !cat.IsValid() {
				return nil, fmt.Errorf("%w: rule %s names unknown category %q", domain.ErrInvalidConfiguration, r.ID, cat)
			}
		}
		if r.Message == "" {
			r.Message = "violates rule " + r.ID
		}

		cr := compiledRule{Rule: r}
		switch r.Kind {
		case KindForbiddenTerms:
			if len(r.Patterns) == 0 {
				return nil, fmt.Errorf("%w: rule %s has no patterns", domain.ErrInvalidConfiguration, r.ID)
			}
			for _, p := range r.Patterns {
				re, err := regexp.Compile("(?i)" + p)
				if err != nil {
					return nil, fmt.Errorf("%w: rule %s pattern %q: %v", domain.ErrInvalidConfiguration, r.ID, p, err)
				}
				cr.patterns = append(cr.patterns, re)
			}
		case KindRequiredDisclaimer:
			if len(r.Phrases) == 0 {
				return nil, fmt.Errorf("%w: rule %s has no phrases", domain.ErrInvalidConfiguration, r.ID)
			}
			for _, p := range r.Phrases {
				cr.phrases = append(cr.phrases, strings.ToLower(strings.TrimSpace(p)))
			}
		case KindCalculationConsistency:
		default:
			return nil, fmt.Errorf("%w: rule %s has unknown kind %q", domain.ErrInvalidConfiguration, r.ID, r.Kind)
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

// Fallback returns the safe answer for failed drafts.
func (c *Checker) Fallback() string {
	return c.fallback
}

// Check evaluates every applicable rule against the draft. Any fail
// violation fails the draft; otherwise any flag violation flags it.
func (c *Checker) Check(ctx context.Context, draft driven.Draft) (domain.ComplianceResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ComplianceResult{}, err
	}

	result := domain.ComplianceResult{
		Status:    domain.CompliancePass,
		Reasons:   []string{},
		AnswerRef: AnswerRef(draft.Answer),
	}
	lower := strings.ToLower(draft.Answer)

	for i := range c.rules {
		r := &c.rules[i]
		if !r.appliesTo(draft.Category) {
			continue
		}
		msg, violated := r.evaluate(draft, lower)
		if !violated {
			continue
		}
		result.Violations = append(result.Violations, domain.Violation{
			RuleID:   r.ID,
			Severity: r.Severity,
			Message:  msg,
		})
		result.Reasons = append(result.Reasons, msg)
		switch {
		case r.Severity == domain.SeverityFail:
			result.Status = domain.ComplianceFail
		case result.Status == domain.CompliancePass:
			result.Status = domain.ComplianceFlagged
		}
	}

	if result.Status != domain.CompliancePass {
		logger.Warn("compliance: draft %s %s: %s", result.AnswerRef, result.Status, strings.Join(result.Reasons, "; "))
	}
	return result, nil
}

// Screen applies the failing forbidden-term rules of category to text.
func (c *Checker) Screen(category domain.Category, text string) bool {
	for i := range c.rules {
		r := &c.rules[i]
		if r.Kind != KindForbiddenTerms || r.Severity != domain.SeverityFail || !r.appliesTo(category) {
			continue
		}
		for _, re := range r.patterns {
			if re.MatchString(text) {
				logger.Debug("compliance: screen tripped rule %s", r.ID)
				return false
			}
		}
	}
	return true
}

// Streamable is false when a fail rule of category can only be judged on the
// whole draft: a required disclaimer may arrive in the last sentence, and
// calculated figures may be missing from any of them.
func (c *Checker) Streamable(category domain.Category, calculated bool) bool {
	for i := range c.rules {
		r := &c.rules[i]
		if r.Severity != domain.SeverityFail || !r.appliesTo(category) {
			continue
		}
		switch r.Kind {
		case KindRequiredDisclaimer:
			return false
		case KindCalculationConsistency:
			if calculated {
				return false
			}
		}
	}
	return true
}

func (r *compiledRule) evaluate(draft driven.Draft, lower string) (string, bool) {
	switch r.Kind {
	case KindForbiddenTerms:
		for _, re := range r.patterns {
			if m := re.FindString(draft.Answer); m != "" {
				return fmt.Sprintf("%s (%q)", r.Message, m), true
			}
		}
	case KindRequiredDisclaimer:
		for _, p := range r.phrases {
			if strings.Contains(lower, p) {
				return "", false
			}
		}
		return r.Message, true
	case KindCalculationConsistency:
		if draft.Calculation == nil {
			return "", false
		}
		if missing := missingFigures(draft.Calculation, draft.Answer); len(missing) > 0 {
			return fmt.Sprintf("%s (missing %s)", r.Message, strings.Join(missing, ", ")), true
		}
	}
	return "", false
}

var numberRe = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// missingFigures returns the output names whose value does not appear in
// answer. Signs are ignored since prose states losses as positive amounts.
func missingFigures(calc *domain.Calculation, answer string) []string {
	var present []float64
	for _, m := range numberRe.FindAllString(answer, -1) {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64); err == nil {
			present = append(present, v)
		}
	}

	names := make([]string, 0, len(calc.Outputs))
	for name := range calc.Outputs {
		names = append(names, name)
	}
	slices.Sort(names)

	var missing []string
	for _, name := range names {
		want := math.Abs(calc.Outputs[name])
		if !slices.ContainsFunc(present, func(v float64) bool { return math.Abs(v-want) < 0.005 }) {
			missing = append(missing, name)
		}
	}
	return missing
}

// AnswerRef identifies a draft by a prefix of its SHA-256 digest.
func AnswerRef(answer string) string {
	sum := sha256.Sum256([]byte(answer))
	return hex.EncodeToString(sum[:])[:answerRefLen]
}
