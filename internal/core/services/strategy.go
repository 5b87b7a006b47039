package services

import (
	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// strategy decides how a routed query is answered.
type strategy interface {
	// category is the category the answer is attributed to.
	category() domain.Category

	// query returns the retrieval parameters for a base limit and threshold.
	query(limit int, threshold float64) driven.VectorQuery

	// calculates reports whether a calculation precedes generation.
	calculates() bool
}

// retrievalStrategy narrows retrieval to the routed category.
type retrievalStrategy struct {
	cat domain.Category
}

func (s retrievalStrategy) category() domain.Category { return s.cat }

func (s retrievalStrategy) query(limit int, threshold float64) driven.VectorQuery {
	return driven.VectorQuery{
		Limit:     limit,
		Threshold: threshold,
		Filters:   domain.SearchFilters{Category: s.cat},
	}
}

func (retrievalStrategy) calculates() bool { return false }

// comparisonStrategy retrieves twice the usual passages since both sides
// of a comparison need coverage.
type comparisonStrategy struct{}

func (comparisonStrategy) category() domain.Category { return domain.CategoryComparison }

func (comparisonStrategy) query(limit int, threshold float64) driven.VectorQuery {
	return driven.VectorQuery{
		Limit:     min(limit*2, domain.MaxSearchLimit),
		Threshold: threshold,
		Filters:   domain.SearchFilters{Category: domain.CategoryComparison},
	}
}

func (comparisonStrategy) calculates() bool { return false }

// calculationStrategy computes figures before generation. Passages only
// explain them, so retrieval is not narrowed.
type calculationStrategy struct{}

func (calculationStrategy) category() domain.Category { return domain.CategoryCalculation }

func (calculationStrategy) query(limit int, threshold float64) driven.VectorQuery {
	return driven.VectorQuery{Limit: limit, Threshold: threshold}
}

func (calculationStrategy) calculates() bool { return true }

// generalStrategy searches everything.
type generalStrategy struct{}

func (generalStrategy) category() domain.Category { return domain.CategoryGeneral }

func (generalStrategy) query(limit int, threshold float64) driven.VectorQuery {
	return driven.VectorQuery{Limit: limit, Threshold: threshold}
}

func (generalStrategy) calculates() bool { return false }

// strategyFor picks the strategy for a routing result. Explicit calculation
// inputs force a calculation; low confidence falls back to general.
func strategyFor(r domain.RoutingResult, routingThreshold float64, inputs *domain.CalculationInputs) strategy {
	if inputs != nil {
		return calculationStrategy{}
	}
	if r.Confidence < routingThreshold {
		return generalStrategy{}
	}
	switch r.Category {
	case domain.CategoryCalculation:
		return calculationStrategy{}
	case domain.CategoryComparison:
		return comparisonStrategy{}
	case domain.CategoryPrinciples, domain.CategoryProducts, domain.CategoryCompliance:
		return retrievalStrategy{cat: r.Category}
	default:
		return generalStrategy{}
	}
}
