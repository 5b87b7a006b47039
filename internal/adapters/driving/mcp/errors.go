// Package mcp provides an MCP (Model Context Protocol) server adapter for mizan.
// It lets AI assistants search the corpus, ask questions and add documents.
package mcp

import "errors"

var (
	// ErrMissingSearchService is returned when the search service is not provided.
	ErrMissingSearchService = errors.New("mcp: search service is required")

	// ErrMissingQueryService is returned when the query service is not provided.
	ErrMissingQueryService = errors.New("mcp: query service is required")

	// ErrIngestionDisabled is returned by ingest_text when no ingestion service is wired.
	ErrIngestionDisabled = errors.New("mcp: ingestion is not available")
)
