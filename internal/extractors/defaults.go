package extractors

import (
	"github.com/custodia-labs/mizan/internal/extractors/docx"
	"github.com/custodia-labs/mizan/internal/extractors/markdown"
	"github.com/custodia-labs/mizan/internal/extractors/pdf"
	"github.com/custodia-labs/mizan/internal/extractors/plaintext"
)

// RegisterDefaults registers the built-in pdf, docx, txt and md extractors.
func RegisterDefaults(r *Registry) {
	r.Register(plaintext.New())
	r.Register(markdown.New())
	r.Register(docx.New())
	r.Register(pdf.New())
}

// NewDefaultRegistry returns a registry with every built-in extractor.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	RegisterDefaults(r)
	return r
}
