package mcp

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the text to find similar passages for"`
	Limit      *int     `json:"limit,omitempty" jsonschema:"maximum number of results to return (default 10, at most 100)"`
	Threshold  *float64 `json:"threshold,omitempty" jsonschema:"minimum similarity between 0 and 1"`
	Category   string   `json:"category,omitempty" jsonschema:"only search documents in this category"`
	DocumentID string   `json:"document_id,omitempty" jsonschema:"only search this document"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results"`
	Count   int                  `json:"count"`
}

// SearchResultOutput represents a single search result.
type SearchResultOutput struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	Title      string  `json:"title"`
	Category   string  `json:"category"`
	Score      float64 `json:"score"`
	Content    string  `json:"content"`
}

// AskInput is the input schema for the ask tool.
type AskInput struct {
	Question  string    `json:"question" jsonschema:"the question about Islamic finance"`
	SessionID string    `json:"session_id,omitempty" jsonschema:"session to continue, from a previous answer"`
	Structure string    `json:"structure,omitempty" jsonschema:"calculation structure: musharakah or mudharabah"`
	Ratio     []float64 `json:"ratio,omitempty" jsonschema:"profit-sharing ratio such as [60, 40]"`
	Amount    *float64  `json:"amount,omitempty" jsonschema:"profit amount to distribute"`
}

// AskOutput is the output schema for the ask tool.
type AskOutput struct {
	Answer            string                     `json:"answer"`
	Category          string                     `json:"category"`
	Sources           []domain.SourceAttribution `json:"sources"`
	Calculation       *domain.Calculation        `json:"calculation,omitempty"`
	ComplianceStatus  string                     `json:"compliance_status"`
	ComplianceReasons []string                   `json:"compliance_reasons,omitempty"`
	SessionID         string                     `json:"session_id"`
}

// IngestTextInput is the input schema for the ingest_text tool.
type IngestTextInput struct {
	Title       string `json:"title" jsonschema:"document title"`
	Text        string `json:"text" jsonschema:"plain text or markdown content"`
	Category    string `json:"category" jsonschema:"principles, products, comparison, compliance, calculation or general"`
	Description string `json:"description,omitempty" jsonschema:"short description of the document"`
	Markdown    bool   `json:"markdown,omitempty" jsonschema:"treat the text as markdown"`
}

// IngestTextOutput is the output schema for the ingest_text tool.
type IngestTextOutput struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Find passages in the Islamic finance corpus most similar to a query",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "ask",
		Description: "Answer an Islamic finance question with cited sources, exact profit-sharing " +
			"calculations and a Shariah compliance check",
	}, s.handleAsk)

	if s.ports.Ingestion != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ingest_text",
			Description: "Add a text document to the corpus; indexing continues in the background",
		}, s.handleIngestText)
	}
}

// handleSearch handles the search tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	req := domain.SearchRequest{
		Query:     input.Query,
		Limit:     input.Limit,
		Threshold: input.Threshold,
		Filters: domain.SearchFilters{
			Category:   domain.Category(strings.ToLower(input.Category)),
			DocumentID: input.DocumentID,
		},
	}
	results, err := s.ports.Search.Search(ctx, req)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results: make([]SearchResultOutput, len(results)),
		Count:   len(results),
	}

	for i := range results {
		output.Results[i] = SearchResultOutput{
			DocumentID: results[i].DocumentID,
			ChunkID:    results[i].ChunkID,
			Title:      results[i].DocumentTitle,
			Category:   results[i].Category.String(),
			Score:      results[i].Score,
			Content:    results[i].Content,
		}
	}

	return nil, output, nil
}

// handleAsk handles the ask tool invocation.
func (s *Server) handleAsk(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskInput,
) (*mcp.CallToolResult, AskOutput, error) {
	req := domain.QueryRequest{
		Query:     input.Question,
		SessionID: input.SessionID,
	}
	if input.Structure != "" || len(input.Ratio) > 0 || input.Amount != nil {
		req.Inputs = &domain.CalculationInputs{
			Structure: input.Structure,
			Ratio:     input.Ratio,
			Amount:    input.Amount,
		}
	}

	res, err := s.ports.Query.Ask(ctx, req)
	if err != nil {
		return nil, AskOutput{}, err
	}

	sources := res.Sources
	if sources == nil {
		sources = []domain.SourceAttribution{}
	}
	return nil, AskOutput{
		Answer:            res.Answer,
		Category:          res.Category.String(),
		Sources:           sources,
		Calculation:       res.Calculation,
		ComplianceStatus:  string(res.Metadata.ComplianceStatus),
		ComplianceReasons: res.Metadata.ComplianceReasons,
		SessionID:         res.Metadata.SessionID,
	}, nil
}

// handleIngestText handles the ingest_text tool invocation.
func (s *Server) handleIngestText(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestTextInput,
) (*mcp.CallToolResult, IngestTextOutput, error) {
	if s.ports.Ingestion == nil {
		return nil, IngestTextOutput{}, ErrIngestionDisabled
	}

	fileType := domain.FileTypeText
	if input.Markdown {
		fileType = domain.FileTypeMarkdown
	}
	ack, err := s.ports.Ingestion.Ingest(ctx, domain.IngestRequest{
		Title:       input.Title,
		Description: input.Description,
		Category:    domain.Category(strings.ToLower(input.Category)),
		FileType:    fileType,
		Content:     []byte(input.Text),
	})
	if err != nil {
		return nil, IngestTextOutput{}, err
	}

	return nil, IngestTextOutput{DocumentID: ack.ID, Status: ack.Status.String()}, nil
}
