package driven

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// Extractor turns the bytes of one file format into plain text.
// Paragraph boundaries are kept as blank lines where the format has them.
// Implementations never touch storage.
type Extractor interface {
	// FileTypes returns the formats this extractor handles.
	FileTypes() []domain.FileType

	// Extract returns the text of content.
	// Unreadable content yields an error wrapping domain.ErrExtractionFailure.
	Extract(ctx context.Context, content []byte) (string, error)
}

// ExtractorRegistry selects the extractor for a file type.
type ExtractorRegistry interface {
	// Register adds an extractor for each type it handles.
	Register(e Extractor)

	// Extract dispatches on fileType. Unknown types yield an error
	// wrapping domain.ErrUnsupportedFormat.
	Extract(ctx context.Context, fileType domain.FileType, content []byte) (string, error)

	// Supports reports whether fileType has an extractor.
	Supports(fileType domain.FileType) bool
}
