package domain

import (
	"path/filepath"
	"strings"
	"time"
)

const unknownDescription = "Unknown"

// Category classifies both documents and queries.
type Category string

// Available categories.
const (
	CategoryPrinciples  Category = "principles"
	CategoryProducts    Category = "products"
	CategoryComparison  Category = "comparison"
	CategoryCompliance  Category = "compliance"
	CategoryCalculation Category = "calculation"
	CategoryGeneral     Category = "general"
)

// AllCategories returns every category in display order.
func AllCategories() []Category {
	return []Category{
		CategoryPrinciples,
		CategoryProducts,
		CategoryComparison,
		CategoryCompliance,
		CategoryCalculation,
		CategoryGeneral,
	}
}

// ParseCategory converts a case-insensitive name into a Category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.IsValid()
}

// IsValid returns true if the category is recognised.
func (c Category) IsValid() bool {
	switch c {
	case CategoryPrinciples, CategoryProducts, CategoryComparison,
		CategoryCompliance, CategoryCalculation, CategoryGeneral:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (c Category) String() string {
	return string(c)
}

// Description returns a human-readable description of the category.
func (c Category) Description() string {
	switch c {
	case CategoryPrinciples:
		return "Principles (foundational concepts)"
	case CategoryProducts:
		return "Products (financing and investment instruments)"
	case CategoryComparison:
		return "Comparison (Islamic vs conventional)"
	case CategoryCompliance:
		return "Compliance (Shariah rulings and screening)"
	case CategoryCalculation:
		return "Calculation (profit and loss sharing)"
	case CategoryGeneral:
		return "General"
	default:
		return unknownDescription
	}
}

// DocumentStatus tracks a document through ingestion.
type DocumentStatus string

// Document lifecycle states. A document starts in processing and moves
// exactly once to indexed or failed.
const (
	StatusProcessing DocumentStatus = "processing"
	StatusIndexed    DocumentStatus = "indexed"
	StatusFailed     DocumentStatus = "failed"
)

// IsValid returns true if the status is recognised.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case StatusProcessing, StatusIndexed, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once ingestion has finished either way.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusIndexed || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	return s == StatusProcessing && next.IsTerminal()
}

// String returns the string representation.
func (s DocumentStatus) String() string {
	return string(s)
}

// FileType is the declared format of an uploaded file.
type FileType string

// Supported file types. FileTypeUnknown is accepted at the boundary but
// always fails extraction.
const (
	FileTypePDF      FileType = "pdf"
	FileTypeDOCX     FileType = "docx"
	FileTypeText     FileType = "txt"
	FileTypeMarkdown FileType = "md"
	FileTypeUnknown  FileType = "unknown"
)

// ParseFileType maps a file name, extension or type name to a FileType.
func ParseFileType(s string) FileType {
	s = strings.ToLower(strings.TrimSpace(s))
	if ext := filepath.Ext(s); ext != "" {
		s = ext
	}
	switch strings.TrimPrefix(s, ".") {
	case "pdf":
		return FileTypePDF
	case "docx":
		return FileTypeDOCX
	case "txt", "text":
		return FileTypeText
	case "md", "markdown":
		return FileTypeMarkdown
	default:
		return FileTypeUnknown
	}
}

// IsSupported returns true if the type can be extracted.
func (f FileType) IsSupported() bool {
	switch f {
	case FileTypePDF, FileTypeDOCX, FileTypeText, FileTypeMarkdown:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (f FileType) String() string {
	return string(f)
}

// Document represents an uploaded document and its ingestion state.
// A Document exclusively owns its Chunks.
type Document struct {
	// ID is the unique identifier for the document (UUID).
	ID string `json:"id"`

	// Title is the human-readable title.
	Title string `json:"title"`

	// Description is optional free text supplied at upload.
	Description string `json:"description,omitempty"`

	// Category is the subject area the document belongs to.
	Category Category `json:"category"`

	// FilePath is the source file path the document was read from.
	FilePath string `json:"filePath,omitempty"`

	// FileType is the declared file format.
	FileType FileType `json:"fileType"`

	// Status is the ingestion state.
	Status DocumentStatus `json:"status"`

	// StatusReason explains a failed status.
	StatusReason string `json:"statusReason,omitempty"`

	// ChunkCount is the number of chunks indexed for this document.
	ChunkCount int `json:"chunkCount"`

	// CreatedAt is when the document was uploaded.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the document last changed status.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Span is a half-open range of rune offsets into the extracted text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of runes covered.
func (s Span) Len() int {
	return s.End - s.Start
}

// Chunk represents a searchable unit within a document.
// Chunks are immutable once created and die with their document.
type Chunk struct {
	// ID is the unique identifier for the chunk.
	ID string `json:"id"`

	// DocumentID links to the owning Document.
	DocumentID string `json:"documentId"`

	// Position is the ordinal position within the document.
	Position int `json:"position"`

	// Content is the raw text of this chunk.
	Content string `json:"content"`

	// Embedding is the complete vector for this chunk, or nil if the
	// chunk is not yet searchable.
	Embedding []float32 `json:"-"`

	// Span locates Content within the extracted text.
	Span Span `json:"span"`

	// Overlap is the number of leading runes shared with the previous chunk.
	Overlap int `json:"overlap"`
}

// Fresh returns the part of the chunk not shared with its predecessor.
// Joining Fresh over all chunks in order yields the extracted text.
func (c *Chunk) Fresh() string {
	r := []rune(c.Content)
	if c.Overlap <= 0 {
		return c.Content
	}
	if c.Overlap >= len(r) {
		return ""
	}
	return string(r[c.Overlap:])
}
