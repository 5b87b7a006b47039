// Package routing classifies queries into categories with a weighted
// keyword and pattern table.
package routing

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/logger"
)

//go:embed routes.yaml
var defaultRoutes []byte

// Ensure Router implements the interface.
var _ driven.QueryRouter = (*Router)(nil)

// Table is the YAML form of a routing table.
type Table struct {
	// Saturation is the score at which the winning category's strength
	// stops growing.
	Saturation float64 `yaml:"saturation"`
	Routes     []Route `yaml:"routes"`
}

// Route scores one category.
type Route struct {
	Category domain.Category `yaml:"category"`
	Weight   float64         `yaml:"weight"`
	Keywords []string        `yaml:"keywords"`
	Patterns []Pattern       `yaml:"patterns"`
}

// Pattern is a regular expression with its own weight.
type Pattern struct {
	Match  string  `yaml:"match"`
	Weight float64 `yaml:"weight"`
}

type compiledRoute struct {
	category domain.Category
	weight   float64
	keywords []string
	patterns []*regexp.Regexp
	pweights []float64
}

// Router is a rule-based driven.QueryRouter. It is immutable and safe for
// concurrent use.
type Router struct {
	saturation float64
	routes     []compiledRoute
}

// DefaultTable returns the built-in routing table.
func DefaultTable() (Table, error) {
	return parseTable(defaultRoutes)
}

// LoadTable reads a routing table from a YAML file.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("reading routes %s: %w", path, err)
	}
	return parseTable(data)
}

func parseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("%w: parsing routes: %v", domain.ErrInvalidConfiguration, err)
	}
	return t, nil
}

// Load builds a router from path, or from the built-in table when path is empty.
func Load(path string) (*Router, error) {
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

// New compiles a routing table.
func New(t Table) (*Router, error) {
	if t.Saturation <= 0 {
		return nil, fmt.Errorf("%w: routing saturation must be positive", domain.ErrInvalidConfiguration)
	}
	r := &Router{saturation: t.Saturation}
	seen := make(map[domain.Category]bool)
	for _, route := range t.Routes {
		if !route.Category.IsValid() {
			return nil, fmt.Errorf("%w: unknown route category %q", domain.ErrInvalidConfiguration, route.Category)
		}
		if seen[route.Category] {
			return nil, fmt.Errorf("%w: duplicate route for %s", domain.ErrInvalidConfiguration, route.Category)
		}
		seen[route.Category] = true

		cr := compiledRoute{category: route.Category, weight: route.Weight}
		if cr.weight <= 0 {
			cr.weight = 1
		}
		for _, kw := range route.Keywords {
			if kw = normalise(kw); kw != "" {
				cr.keywords = append(cr.keywords, kw)
			}
		}
		for _, p := range route.Patterns {
			re, err := regexp.Compile("(?i)" + p.Match)
			if err != nil {
				return nil, fmt.Errorf("%w: route %s pattern %q: %v",
					domain.ErrInvalidConfiguration, route.Category, p.Match, err)
			}
			w := p.Weight
			if w <= 0 {
				w = 1
			}
			cr.patterns = append(cr.patterns, re)
			cr.pweights = append(cr.pweights, w)
		}
		r.routes = append(r.routes, cr)
	}
	return r, nil
}

// Route classifies query.
//
// Each category's confidence is its share of the total score scaled by how
// close its score is to saturation, so both a lone weak hit and a close
// contest produce low confidence.
func (r *Router) Route(ctx context.Context, query string) (domain.RoutingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoutingResult{}, err
	}

	padded := " " + normalise(query) + " "
	type scored struct {
		category domain.Category
		score    float64
		order    int
	}
	var hits []scored
	total := 0.0
	for i, route := range r.routes {
		score := 0.0
		for _, kw := range route.keywords {
			if strings.Contains(padded, " "+kw+" ") || strings.Contains(padded, " "+kw+"s ") {
				score += route.weight
			}
		}
		for j, re := range route.patterns {
			if re.MatchString(query) {
				score += route.pweights[j]
			}
		}
		if score > 0 {
			hits = append(hits, scored{route.category, score, i})
			total += score
		}
	}

	if len(hits) == 0 {
		logger.Debug("routing: no rule matched, using %s", domain.CategoryGeneral)
		return domain.RoutingResult{Category: domain.CategoryGeneral, Confidence: 0}, nil
	}

	slices.SortStableFunc(hits, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		default:
			return a.order - b.order
		}
	})

	confidence := func(score float64) float64 {
		return min(1, max(0, score/total*min(1, score/r.saturation)))
	}

	result := domain.RoutingResult{
		Category:   hits[0].category,
		Confidence: confidence(hits[0].score),
	}
	for _, h := range hits[1:] {
		result.Candidates = append(result.Candidates, domain.CategoryScore{
			Category:   h.category,
			Confidence: confidence(h.score),
		})
	}
	logger.Debug("routing: %s (confidence %.2f, %d candidates)",
		result.Category, result.Confidence, len(result.Candidates))
	return result, nil
}

// normalise lowercases s and collapses every run of non-alphanumerics into
// one space.
func normalise(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
