package domain

import "strings"

// Search boundary defaults and limits.
const (
	DefaultSearchLimit     = 10
	MaxSearchLimit         = 100
	DefaultSearchThreshold = 0.7
)

// SearchFilters narrows retrieval by chunk metadata. Empty fields match all.
type SearchFilters struct {
	Category   Category `json:"category,omitempty"`
	DocumentID string   `json:"documentId,omitempty"`
}

// IsZero returns true if no filter is set.
func (f SearchFilters) IsZero() bool {
	return f.Category == "" && f.DocumentID == ""
}

// SearchRequest is a similarity search against the chunk index.
// Limit and Threshold are pointers so an explicit zero is distinguishable
// from unset; an explicit zero limit is rejected rather than defaulted.
type SearchRequest struct {
	Query     string        `json:"query"`
	Limit     *int          `json:"limit,omitempty"`
	Threshold *float64      `json:"threshold,omitempty"`
	Filters   SearchFilters `json:"filters,omitempty"`
}

// Normalised returns a copy with defaults applied.
func (r SearchRequest) Normalised() SearchRequest {
	if r.Limit == nil {
		n := DefaultSearchLimit
		r.Limit = &n
	}
	if r.Threshold == nil {
		t := DefaultSearchThreshold
		r.Threshold = &t
	}
	return r
}

// SearchLimit returns the effective limit, DefaultSearchLimit when unset.
func (r SearchRequest) SearchLimit() int {
	if r.Limit == nil {
		return DefaultSearchLimit
	}
	return *r.Limit
}

// Validate checks the request after defaults have been applied.
func (r SearchRequest) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(r.Query) == "" {
		errs.Add("query", "must not be empty")
	}
	if r.Limit != nil && (*r.Limit < 1 || *r.Limit > MaxSearchLimit) {
		errs.Add("limit", "must be between 1 and %d, got %d", MaxSearchLimit, *r.Limit)
	}
	if r.Threshold != nil && (*r.Threshold < 0 || *r.Threshold > 1) {
		errs.Add("threshold", "must be between 0 and 1, got %g", *r.Threshold)
	}
	if r.Filters.Category != "" && !r.Filters.Category.IsValid() {
		errs.Add("filters.category", "unknown category %q", r.Filters.Category)
	}
	return errs.Err()
}

// SearchMatch is one ranked chunk returned by search.
type SearchMatch struct {
	ChunkID       string   `json:"chunkId"`
	DocumentID    string   `json:"documentId"`
	DocumentTitle string   `json:"documentTitle"`
	Category      Category `json:"category"`
	Position      int      `json:"position"`
	Content       string   `json:"content"`
	Score         float64  `json:"score"`
}

// QueryRequest is a conversational question.
type QueryRequest struct {
	Query     string             `json:"query"`
	SessionID string             `json:"sessionId,omitempty"`
	Inputs    *CalculationInputs `json:"inputs,omitempty"`
}

// MaxQueryLength bounds the question text in runes.
const MaxQueryLength = 4000

// Validate checks the request.
func (r QueryRequest) Validate() error {
	var errs ValidationErrors
	q := strings.TrimSpace(r.Query)
	switch {
	case q == "":
		errs.Add("query", "must not be empty")
	case len([]rune(q)) > MaxQueryLength:
		errs.Add("query", "must be at most %d characters", MaxQueryLength)
	}
	if r.Inputs != nil {
		for i, v := range r.Inputs.Ratio {
			if v != v {
				errs.Add("inputs.ratio", "element %d is not a number", i)
			}
		}
	}
	return errs.Err()
}

// IngestRequest submits a document for asynchronous ingestion.
type IngestRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Category    Category `json:"category"`
	FileType    FileType `json:"fileType"`
	FilePath    string   `json:"filePath,omitempty"`
	Content     []byte   `json:"-"`
}

// Validate checks the request. Unsupported file types are accepted here
// and fail during extraction so the document records the reason.
func (r IngestRequest) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(r.Title) == "" {
		errs.Add("title", "must not be empty")
	}
	if !r.Category.IsValid() {
		errs.Add("category", "unknown category %q", r.Category)
	}
	if r.FileType == "" {
		errs.Add("fileType", "must be set")
	}
	if len(r.Content) == 0 {
		errs.Add("content", "must not be empty")
	}
	return errs.Err()
}

// IngestAck acknowledges an accepted ingestion.
type IngestAck struct {
	ID     string         `json:"id"`
	Status DocumentStatus `json:"status"`
}
