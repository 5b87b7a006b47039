// Package pdf extracts text from PDF documents.
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	lpdf "github.com/ledongthuc/pdf"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
	"github.com/custodia-labs/mizan/internal/extractors/plaintext"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

// Extractor handles PDF documents.
type Extractor struct{}

// New creates a new PDF extractor.
func New() *Extractor {
	return &Extractor{}
}

// FileTypes returns the formats this extractor handles.
func (e *Extractor) FileTypes() []domain.FileType {
	return []domain.FileType{domain.FileTypePDF}
}

// Extract returns the plain text of every page, pages separated by a blank
// line. Scanned PDFs without a text layer yield no text and are reported by
// the registry as extraction failures.
func (e *Extractor) Extract(ctx context.Context, content []byte) (text string, err error) {
	// The parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: corrupt pdf: %v", domain.ErrExtractionFailure, r)
		}
	}()

	reader, err := lpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("%w: invalid pdf: %w", domain.ErrExtractionFailure, err)
	}

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %w", domain.ErrExtractionFailure, i, err)
		}
		if pageText = strings.TrimSpace(plaintext.Normalise(pageText)); pageText != "" {
			pages = append(pages, pageText)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
