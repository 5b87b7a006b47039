package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

const (
	uriScheme          = "mizan://"
	documentsURI       = uriScheme + "documents"
	documentPrefix     = documentsURI + "/"
	categoryPrefix     = uriScheme + "categories/"
	categoryDocsSuffix = "/documents"

	mimeJSON = "application/json"
	mimeText = "text/plain"
)

// documentInfo is the catalogue entry clients see for a document.
type documentInfo struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Category   string `json:"category"`
	Status     string `json:"status"`
	ChunkCount int    `json:"chunk_count"`
	URI        string `json:"uri"`
}

func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         documentsURI,
		Name:        "documents",
		Description: "All ingested documents with their category and status",
		MIMEType:    mimeJSON,
	}, s.handleDocumentsResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: categoryPrefix + "{category}" + categoryDocsSuffix,
		Name:        "category-documents",
		Description: "Documents of one category: principles, products, comparison, compliance, calculation or general",
		MIMEType:    mimeJSON,
	}, s.handleCategoryDocumentsResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: documentPrefix + "{documentId}",
		Name:        "document-content",
		Description: "Extracted text of a specific document",
		MIMEType:    mimeText,
	}, s.handleDocumentContentResource)
}

func (s *Server) handleDocumentsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	return s.listDocuments(ctx, req.Params.URI, nil)
}

func (s *Server) handleCategoryDocumentsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	category, ok := extractCategory(req.Params.URI)
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return s.listDocuments(ctx, req.Params.URI, &category)
}

// listDocuments renders the catalogue, optionally narrowed to one category.
// Without a document service the catalogue is empty.
func (s *Server) listDocuments(
	ctx context.Context,
	uri string,
	category *domain.Category,
) (*mcp.ReadResourceResult, error) {
	infos := []documentInfo{}
	if s.ports.Document != nil {
		docs, err := s.ports.Document.List(ctx, category)
		if err != nil {
			return nil, fmt.Errorf("listing documents: %w", err)
		}
		for _, d := range docs {
			infos = append(infos, documentInfo{
				ID:         d.ID,
				Title:      d.Title,
				Category:   d.Category.String(),
				Status:     d.Status.String(),
				ChunkCount: d.ChunkCount,
				URI:        documentPrefix + d.ID,
			})
		}
	}

	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling documents: %w", err)
	}
	return contents(uri, mimeJSON, string(data)), nil
}

func (s *Server) handleDocumentContentResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	docID := extractDocumentID(req.Params.URI)
	if s.ports.Document == nil || docID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	text, err := s.ports.Document.GetContent(ctx, docID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document content: %w", err)
	}
	return contents(req.Params.URI, mimeText, text), nil
}

func contents(uri, mime, text string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: mime, Text: text}},
	}
}

// extractDocumentID returns the id in mizan://documents/{documentId}, or ""
// for any other shape.
func extractDocumentID(uri string) string {
	id, ok := strings.CutPrefix(uri, documentPrefix)
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// extractCategory parses mizan://categories/{category}/documents.
func extractCategory(uri string) (domain.Category, bool) {
	rest, ok := strings.CutPrefix(uri, categoryPrefix)
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, categoryDocsSuffix)
	if !ok {
		return "", false
	}
	category := domain.Category(name)
	return category, category.IsValid()
}
