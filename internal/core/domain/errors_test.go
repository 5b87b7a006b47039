package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrValidation", ErrValidation},
		{"ErrInvalidConfiguration", ErrInvalidConfiguration},
		{"ErrUnsupportedFormat", ErrUnsupportedFormat},
		{"ErrExtractionFailure", ErrExtractionFailure},
		{"ErrEmbeddingProvider", ErrEmbeddingProvider},
		{"ErrGeneration", ErrGeneration},
		{"ErrTransient", ErrTransient},
		{"ErrRetrieval", ErrRetrieval},
		{"ErrMissingInputs", ErrMissingInputs},
		{"ErrInvalidInputs", ErrInvalidInputs},
		{"ErrComplianceViolation", ErrComplianceViolation},
		{"ErrSessionExpired", ErrSessionExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, ""},
		{"wrapped embedding", fmt.Errorf("embed query: %w", ErrEmbeddingProvider), CodeEmbeddingProvider},
		{"transient embedding", fmt.Errorf("%w: %w", ErrEmbeddingProvider, ErrTransient), CodeEmbeddingProvider},
		{"retrieval", ErrRetrieval, CodeRetrieval},
		{"missing", &CalculationError{Err: ErrMissingInputs, Fields: []string{"ratio"}}, CodeMissingInputs},
		{"invalid", &CalculationError{Err: ErrInvalidInputs, Reason: "negative"}, CodeInvalidInputs},
		{"validation list", ValidationErrors{{Field: "limit", Message: "bad"}}, CodeValidation},
		{"cancelled", context.Canceled, CodeCancelled},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), CodeCancelled},
		{"unsupported", ErrUnsupportedFormat, CodeUnsupportedFormat},
		{"unknown", errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeFor(tt.err))
		})
	}
}

func TestPipelineError(t *testing.T) {
	cause := fmt.Errorf("search chunks: %w", ErrRetrieval)
	pe := NewPipelineError(StageRetrieving, cause)

	assert.Equal(t, StageRetrieving, pe.Step)
	assert.Equal(t, CodeRetrieval, pe.Code)
	assert.Equal(t, cause.Error(), pe.Message)
	assert.ErrorIs(t, pe, ErrRetrieval)
	assert.Contains(t, pe.Error(), "RETRIEVAL_ERROR")

	// An already-coded pipeline error keeps its code when wrapped.
	wrapped := fmt.Errorf("ask: %w", pe)
	assert.Equal(t, CodeRetrieval, CodeFor(wrapped))
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors
	require.NoError(t, errs.Err())

	errs.Add("limit", "must be between %d and %d", 1, 100)
	errs.Add("query", "must not be empty")

	err := errs.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "limit: must be between 1 and 100")
	assert.Contains(t, err.Error(), "query: must not be empty")

	var list ValidationErrors
	require.ErrorAs(t, err, &list)
	assert.Len(t, list, 2)
}

func TestCalculationError(t *testing.T) {
	err := &CalculationError{Err: ErrMissingInputs, Fields: []string{"ratio", "profit"}}
	assert.ErrorIs(t, err, ErrMissingInputs)
	assert.Equal(t, "missing inputs: ratio, profit", err.Error())

	err = &CalculationError{Err: ErrInvalidInputs, Fields: []string{"ratio"}, Reason: "ratio must sum to 100"}
	assert.Equal(t, "invalid inputs: ratio must sum to 100", err.Error())
}
