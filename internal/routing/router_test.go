package routing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

func defaultRouter(t *testing.T) *Router {
	t.Helper()
	r, err := Load("")
	require.NoError(t, err)
	return r
}

func TestRouter_DefaultTable(t *testing.T) {
	r := defaultRouter(t)

	tests := []struct {
		query    string
		category domain.Category
		minConf  float64
	}{
		{"Musharakah 60/40 split of $100,000 profit", domain.CategoryCalculation, 0.7},
		{"What is the difference between murabaha and conventional loans?", domain.CategoryComparison, 0.6},
		{"Is a conventional mortgage halal?", domain.CategoryCompliance, 0.45},
		{"What is Mudharabah?", domain.CategoryProducts, 0.4},
		{"Why is riba prohibited?", domain.CategoryPrinciples, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := r.Route(context.Background(), tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.category, got.Category)
			assert.GreaterOrEqual(t, got.Confidence, tt.minConf)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestRouter_NoMatchIsGeneral(t *testing.T) {
	got, err := defaultRouter(t).Route(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryGeneral, got.Category)
	assert.Zero(t, got.Confidence)
	assert.Empty(t, got.Candidates)
}

func TestRouter_CandidatesRankedBelowPrimary(t *testing.T) {
	got, err := defaultRouter(t).Route(context.Background(), "Is a conventional mortgage halal?")
	require.NoError(t, err)
	require.NotEmpty(t, got.Candidates)

	prev := got.Confidence
	for _, c := range got.Candidates {
		assert.NotEqual(t, got.Category, c.Category)
		assert.LessOrEqual(t, c.Confidence, prev)
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		prev = c.Confidence
	}
}

func TestRouter_WeakSingleHitHasLowConfidence(t *testing.T) {
	got, err := defaultRouter(t).Route(context.Background(), "tell me about sukuk")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryProducts, got.Category)
	assert.InDelta(t, 1/1.5, got.Confidence, 1e-9)
}

func TestRouter_PluralKeywords(t *testing.T) {
	got, err := defaultRouter(t).Route(context.Background(), "sukuks and more sukuks")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryProducts, got.Category)
}

func TestRouter_TiesGoToFirstRoute(t *testing.T) {
	r, err := New(Table{
		Saturation: 1,
		Routes: []Route{
			{Category: domain.CategoryPrinciples, Keywords: []string{"shared"}},
			{Category: domain.CategoryProducts, Keywords: []string{"shared"}},
		},
	})
	require.NoError(t, err)

	got, err := r.Route(context.Background(), "a shared word")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryPrinciples, got.Category)
	assert.InDelta(t, 0.5, got.Confidence, 1e-9)
	require.Len(t, got.Candidates, 1)
	assert.Equal(t, domain.CategoryProducts, got.Candidates[0].Category)
}

func TestRouter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := defaultRouter(t).Route(ctx, "riba")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_InvalidTables(t *testing.T) {
	tests := []struct {
		name  string
		table Table
	}{
		{"zero saturation", Table{Routes: []Route{{Category: domain.CategoryGeneral}}}},
		{"unknown category", Table{Saturation: 1, Routes: []Route{{Category: "fiqh"}}}},
		{"duplicate category", Table{Saturation: 1, Routes: []Route{
			{Category: domain.CategoryGeneral}, {Category: domain.CategoryGeneral},
		}}},
		{"bad pattern", Table{Saturation: 1, Routes: []Route{
			{Category: domain.CategoryGeneral, Patterns: []Pattern{{Match: "("}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.table)
			assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
saturation: 1
routes:
  - category: compliance
    keywords: [zakat]
`), 0o600))

	r, err := Load(path)
	require.NoError(t, err)

	got, err := r.Route(context.Background(), "How is zakat assessed?")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryCompliance, got.Category)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routes: [: bad"), 0o600))
	_, err = Load(path)
	assert.ErrorIs(t, err, domain.ErrInvalidConfiguration)
}

func TestNormalise(t *testing.T) {
	assert.Equal(t, "what is riba", normalise("  What is -- RIBA?? "))
	assert.Equal(t, "60 40 split", normalise("60/40 split"))
}
