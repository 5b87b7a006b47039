package cli

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

var testTime = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

// mockSearchService returns one canned match.
type mockSearchService struct {
	got domain.SearchRequest
}

func (m *mockSearchService) Search(_ context.Context, req domain.SearchRequest) ([]domain.SearchMatch, error) {
	m.got = req
	return []domain.SearchMatch{
		{
			ChunkID:       "chunk-1",
			DocumentID:    "doc-1",
			DocumentTitle: "Murabaha Guide",
			Category:      domain.CategoryProducts,
			Content:       "Murabaha is a cost-plus sale where the markup is disclosed.",
			Score:         0.87,
		},
	}, nil
}

// mockDocumentService keeps documents in a map.
type mockDocumentService struct {
	mu      sync.Mutex
	docs    map[string]*domain.Document
	deleted []string
}

func newMockDocumentService() *mockDocumentService {
	return &mockDocumentService{docs: map[string]*domain.Document{
		"doc-1": {
			ID:          "doc-1",
			Title:       "Murabaha Guide",
			Description: "Cost-plus financing",
			Category:    domain.CategoryProducts,
			FileType:    domain.FileTypePDF,
			FilePath:    "/docs/murabaha.pdf",
			Status:      domain.StatusIndexed,
			ChunkCount:  4,
			CreatedAt:   testTime,
			UpdatedAt:   testTime,
		},
	}}
}

func (m *mockDocumentService) List(_ context.Context, category *domain.Category) ([]domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Document
	for _, d := range m.docs {
		if category == nil || d.Category == *category {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *mockDocumentService) Get(_ context.Context, id string) (*domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	cp := *d
	return &cp, nil
}

func (m *mockDocumentService) GetContent(ctx context.Context, id string) (string, error) {
	if _, err := m.Get(ctx, id); err != nil {
		return "", err
	}
	return "Murabaha is a cost-plus sale.", nil
}

func (m *mockDocumentService) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	delete(m.docs, id)
	m.deleted = append(m.deleted, id)
	return nil
}

// mockIngestionService indexes synchronously into a mockDocumentService.
// PDFs without a PDF header fail the way extraction would.
type mockIngestionService struct {
	docs *mockDocumentService
	n    int
	reqs []domain.IngestRequest
}

func (m *mockIngestionService) Ingest(_ context.Context, req domain.IngestRequest) (*domain.IngestAck, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.n++
	m.reqs = append(m.reqs, req)
	doc := &domain.Document{
		ID:       fmt.Sprintf("doc-new-%d", m.n),
		Title:    req.Title,
		Category: req.Category,
		FileType: req.FileType,
		FilePath: req.FilePath,
		Status:   domain.StatusIndexed,
	}
	if req.FileType == domain.FileTypePDF && !bytes.HasPrefix(req.Content, []byte("%PDF")) {
		doc.Status = domain.StatusFailed
		doc.StatusReason = "not a PDF file"
	} else {
		doc.ChunkCount = 1
	}
	m.docs.mu.Lock()
	m.docs.docs[doc.ID] = doc
	m.docs.mu.Unlock()
	return &domain.IngestAck{ID: doc.ID, Status: domain.StatusProcessing}, nil
}

func (m *mockIngestionService) Wait(_ context.Context) error { return nil }

func (m *mockIngestionService) Close() error { return nil }

// mockQueryService replays a fixed event stream.
type mockQueryService struct {
	events []domain.Event
	got    domain.QueryRequest
}

func (m *mockQueryService) Stream(_ context.Context, req domain.QueryRequest) (<-chan domain.Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	m.got = req
	ch := make(chan domain.Event, len(m.events))
	for _, ev := range m.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (m *mockQueryService) Ask(ctx context.Context, req domain.QueryRequest) (*domain.OrchestratorResult, error) {
	events, err := m.Stream(ctx, req)
	if err != nil {
		return nil, err
	}
	for ev := range events {
		switch ev.Type {
		case domain.EventDone:
			return ev.Result, nil
		case domain.EventError:
			return nil, ev.Err
		}
	}
	return nil, nil
}

func answerEvents() []domain.Event {
	result := &domain.OrchestratorResult{
		Answer:   "Partner A receives 60,000 and partner B receives 40,000.",
		Category: domain.CategoryCalculation,
		Sources: []domain.SourceAttribution{
			{DocumentID: "doc-1", ChunkID: "chunk-1", Title: "Musharakah Handbook", Score: 0.91},
		},
		Calculation: &domain.Calculation{
			Type:    "musharakah",
			Outputs: map[string]float64{"partner_a_share": 60000, "partner_b_share": 40000},
		},
		Metadata: domain.ResultMetadata{
			ProcessingTime:   1500 * time.Millisecond,
			ComplianceStatus: domain.CompliancePass,
			SessionID:        "sess-1",
		},
	}
	return []domain.Event{
		{Type: domain.EventConnected, SessionID: "sess-1"},
		{Type: domain.EventStatus, Stage: domain.StageRouting},
		{Type: domain.EventContent, Content: "Partner A receives 60,000 "},
		{Type: domain.EventContent, Content: "and partner B receives 40,000."},
		{Type: domain.EventCompliance, Compliance: &domain.ComplianceResult{Status: domain.CompliancePass}},
		{Type: domain.EventDone, Result: result},
	}
}

// mockSessionService holds one session.
type mockSessionService struct{}

func (m *mockSessionService) Create(_ context.Context) (*domain.SessionInfo, error) {
	return &domain.SessionInfo{SessionID: "sess-new", CreatedAt: testTime}, nil
}

func (m *mockSessionService) Get(_ context.Context, id string) (*domain.Session, error) {
	if id != "sess-1" {
		return nil, fmt.Errorf("session %s: %w", id, domain.ErrNotFound)
	}
	return &domain.Session{
		ID:           "sess-1",
		CreatedAt:    testTime,
		LastActivity: testTime.Add(5 * time.Minute),
		History: []domain.Exchange{
			{Query: "What is riba?", Answer: "Riba is any excess in a loan.", Category: domain.CategoryPrinciples},
		},
	}, nil
}

// setupTestServices installs mock services and returns a function that
// restores the previous ones.
func setupTestServices() func() {
	oldSearch, oldDocs, oldIngest := searchService, documentService, ingestionService
	oldQuery, oldSessions, oldMetrics := queryService, sessionService, metricsRegistry
	oldBootstrap, oldClose := bootstrap, closeServices

	docs := newMockDocumentService()
	searchService = &mockSearchService{}
	documentService = docs
	ingestionService = &mockIngestionService{docs: docs}
	queryService = &mockQueryService{events: answerEvents()}
	sessionService = &mockSessionService{}
	metricsRegistry = nil
	bootstrap = nil
	closeServices = nil

	return func() {
		searchService, documentService, ingestionService = oldSearch, oldDocs, oldIngest
		queryService, sessionService, metricsRegistry = oldQuery, oldSessions, oldMetrics
		bootstrap, closeServices = oldBootstrap, oldClose
	}
}

// resetFlags restores every flag of cmds to its default so one test's
// flags do not leak into the next.
func resetFlags(cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				_ = sv.Replace(nil)
			} else {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
}

// execute runs the root command with args and returns its output.
func execute(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}
