package mcp

import (
	"github.com/custodia-labs/mizan/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Search ranks passages.
	Search driving.SearchService

	// Query answers questions.
	Query driving.QueryService

	// Ingestion accepts new documents. Optional.
	Ingestion driving.IngestionService

	// Document lists and reads documents. Optional.
	Document driving.DocumentService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Search == nil {
		return ErrMissingSearchService
	}
	if p.Query == nil {
		return ErrMissingQueryService
	}
	return nil
}
