// Package plaintext extracts text files.
package plaintext

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.Extractor = (*Extractor)(nil)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extractor handles plain text files.
type Extractor struct{}

// New creates a new plain text extractor.
func New() *Extractor {
	return &Extractor{}
}

// FileTypes returns the formats this extractor handles.
func (e *Extractor) FileTypes() []domain.FileType {
	return []domain.FileType{domain.FileTypeText}
}

// Extract decodes content as UTF-8 with Unix line endings. Content with
// NUL bytes is treated as binary and rejected; other invalid sequences are
// replaced with U+FFFD.
func (e *Extractor) Extract(_ context.Context, content []byte) (string, error) {
	if bytes.IndexByte(content, 0) >= 0 {
		return "", fmt.Errorf("%w: binary content in text file", domain.ErrExtractionFailure)
	}
	return Normalise(string(bytes.TrimPrefix(content, utf8BOM))), nil
}

// Normalise repairs encoding and line endings.
func Normalise(s string) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
