package driven

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// QueryRouter assigns a query to exactly one primary category.
type QueryRouter interface {
	// Route classifies query. A query matching nothing is general with
	// confidence 0.
	Route(ctx context.Context, query string) (domain.RoutingResult, error)
}

// Calculator performs closed-form financial calculations.
type Calculator interface {
	// Calculate extracts inputs from query, letting explicit ones win, and
	// computes the result. Unusable inputs yield a *domain.CalculationError.
	Calculate(ctx context.Context, query string, explicit *domain.CalculationInputs) (*domain.Calculation, error)
}

// Draft is a generated answer awaiting a compliance verdict.
type Draft struct {
	Answer      string
	Category    domain.Category
	Calculation *domain.Calculation
}

// ComplianceChecker judges drafted answers against a rule set.
type ComplianceChecker interface {
	// Check evaluates a complete draft.
	Check(ctx context.Context, draft Draft) (domain.ComplianceResult, error)

	// Screen reports whether text is safe to stream before the full draft
	// is known. It only applies rules that can fail on a fragment.
	Screen(category domain.Category, text string) bool

	// Streamable reports whether Screen covers every fail rule that applies
	// to a draft. When it does not, the draft must be held back until Check
	// has passed it.
	Streamable(category domain.Category, calculated bool) bool

	// Fallback is the safe answer delivered in place of a failed draft.
	Fallback() string
}
