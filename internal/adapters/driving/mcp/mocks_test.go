package mcp

import (
	"context"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	results []domain.SearchMatch
	err     error
	got     domain.SearchRequest
}

func (m *mockSearchService) Search(_ context.Context, req domain.SearchRequest) ([]domain.SearchMatch, error) {
	m.got = req
	return m.results, m.err
}

// mockQueryService is a mock implementation of driving.QueryService.
type mockQueryService struct {
	result *domain.OrchestratorResult
	err    error
	got    domain.QueryRequest
}

func (m *mockQueryService) Stream(_ context.Context, req domain.QueryRequest) (<-chan domain.Event, error) {
	m.got = req
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan domain.Event, 1)
	ch <- domain.Event{Type: domain.EventDone, Result: m.result}
	close(ch)
	return ch, nil
}

func (m *mockQueryService) Ask(_ context.Context, req domain.QueryRequest) (*domain.OrchestratorResult, error) {
	m.got = req
	return m.result, m.err
}

// mockIngestionService is a mock implementation of driving.IngestionService.
type mockIngestionService struct {
	ack *domain.IngestAck
	err error
	got domain.IngestRequest
}

func (m *mockIngestionService) Ingest(_ context.Context, req domain.IngestRequest) (*domain.IngestAck, error) {
	m.got = req
	return m.ack, m.err
}

func (m *mockIngestionService) Wait(_ context.Context) error {
	return nil
}

func (m *mockIngestionService) Close() error {
	return nil
}

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	documents []domain.Document
	document  *domain.Document
	content   string
	err       error

	listed *domain.Category
}

func (m *mockDocumentService) List(_ context.Context, category *domain.Category) ([]domain.Document, error) {
	m.listed = category
	return m.documents, m.err
}

func (m *mockDocumentService) Get(_ context.Context, _ string) (*domain.Document, error) {
	return m.document, m.err
}

func (m *mockDocumentService) GetContent(_ context.Context, _ string) (string, error) {
	return m.content, m.err
}

func (m *mockDocumentService) Delete(_ context.Context, _ string) error {
	return m.err
}

func minimalPorts() *Ports {
	return &Ports{Search: &mockSearchService{}, Query: &mockQueryService{}}
}
