package extractors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Ensure Registry implements the interface.
var _ driven.ExtractorRegistry = (*Registry)(nil)

// Registry maps file types to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[domain.FileType]driven.Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[domain.FileType]driven.Extractor)}
}

// Register adds e for every file type it handles, replacing earlier ones.
func (r *Registry) Register(e driven.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ft := range e.FileTypes() {
		r.extractors[ft] = e
	}
}

// Supports reports whether fileType has an extractor.
func (r *Registry) Supports(fileType domain.FileType) bool {
	_, ok := r.lookup(fileType)
	return ok
}

func (r *Registry) lookup(fileType domain.FileType) (driven.Extractor, bool) {
	if !fileType.IsSupported() {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[fileType]
	return e, ok
}

// Extract returns the text of content. Text that is blank after extraction
// counts as an extraction failure since it cannot be chunked.
func (r *Registry) Extract(ctx context.Context, fileType domain.FileType, content []byte) (string, error) {
	e, ok := r.lookup(fileType)
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, fileType)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	text, err := e.Extract(ctx, content)
	if err != nil {
		if errors.Is(err, domain.ErrExtractionFailure) || errors.Is(err, ctx.Err()) {
			return "", err
		}
		return "", fmt.Errorf("%w: %s: %w", domain.ErrExtractionFailure, fileType, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %s: no extractable text", domain.ErrExtractionFailure, fileType)
	}
	return text, nil
}

// Titler is implemented by extractors that can read a title from content.
type Titler interface {
	Title(content []byte) string
}

// Title returns the document title embedded in content, if the extractor
// for fileType knows how to find one.
func (r *Registry) Title(fileType domain.FileType, content []byte) string {
	e, ok := r.lookup(fileType)
	if !ok {
		return ""
	}
	if t, ok := e.(Titler); ok {
		return t.Title(content)
	}
	return ""
}
