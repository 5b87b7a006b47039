package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// fakeQuery replays events after validating the request.
type fakeQuery struct {
	events []domain.Event
	delay  time.Duration
	got    domain.QueryRequest
}

func (f *fakeQuery) Stream(ctx context.Context, req domain.QueryRequest) (<-chan domain.Event, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f.got = req
	out := make(chan domain.Event)
	go func() {
		defer close(out)
		for _, ev := range f.events {
			if f.delay > 0 {
				time.Sleep(f.delay)
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeQuery) Ask(context.Context, domain.QueryRequest) (*domain.OrchestratorResult, error) {
	return nil, nil
}

func sampleEvents() []domain.Event {
	return []domain.Event{
		{Type: domain.EventConnected, SessionID: "s-1"},
		{Type: domain.EventStatus, Stage: domain.StageRouting},
		{Type: domain.EventContent, Content: "Riba is prohibited."},
		{Type: domain.EventDone, Result: &domain.OrchestratorResult{
			Answer:   "Riba is prohibited.",
			Category: domain.CategoryPrinciples,
		}},
	}
}

func TestEncoder_Encode(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(domain.Event{Type: domain.EventContent, Content: "Murabaha is"}))
	require.NoError(t, enc.Encode(domain.Event{Type: domain.EventStatus, Stage: domain.StageRetrieving}))
	require.NoError(t, enc.Heartbeat())

	assert.Equal(t,
		"event: content\ndata: {\"text\":\"Murabaha is\"}\n\n"+
			"event: status\ndata: {\"stage\":\"retrieving\"}\n\n"+
			": heartbeat\n\n",
		buf.String())
}

func TestEncoder_ErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	err := domain.NewPipelineError(domain.StageCalculating, &domain.CalculationError{
		Err:    domain.ErrMissingInputs,
		Fields: []string{"amount"},
	})
	require.NoError(t, enc.Encode(domain.Event{Type: domain.EventError, Err: err}))

	frame := buf.String()
	require.True(t, strings.HasPrefix(frame, "event: error\ndata: "), frame)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(frame, "event: error\ndata: "))), &body))
	assert.Equal(t, "calculating", body["step"])
	assert.Equal(t, string(domain.CodeMissingInputs), body["code"])
}

func TestStream_StopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan domain.Event)
	err := Stream(ctx, NewEncoder(new(bytes.Buffer)), events, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_WritesHeartbeats(t *testing.T) {
	var buf bytes.Buffer
	events := make(chan domain.Event)
	go func() {
		time.Sleep(60 * time.Millisecond)
		events <- domain.Event{Type: domain.EventDone, Result: &domain.OrchestratorResult{}}
		close(events)
	}()

	require.NoError(t, Stream(context.Background(), NewEncoder(&buf), events, 10*time.Millisecond))
	assert.Contains(t, buf.String(), ": heartbeat\n\n")
	assert.True(t, strings.HasPrefix(buf.String(), ": heartbeat"), "a heartbeat precedes the late event")
	assert.Contains(t, buf.String(), "event: done\ndata: {\"answer\":")
}

func TestHandler_StreamsPost(t *testing.T) {
	q := &fakeQuery{events: sampleEvents()}
	h := NewHandler(q, WithHeartbeat(0))

	body := `{"query":"What is riba?","sessionId":"s-1"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "What is riba?", q.got.Query)
	assert.Equal(t, "s-1", q.got.SessionID)

	out := rec.Body.String()
	order := []string{"event: connected", "event: status", "event: content", "event: done"}
	last := -1
	for _, marker := range order {
		i := strings.Index(out, marker)
		require.GreaterOrEqual(t, i, 0, marker)
		assert.Greater(t, i, last, marker)
		last = i
	}
	assert.Contains(t, out, `data: {"sessionId":"s-1"}`)
}

func TestHandler_StreamsGet(t *testing.T) {
	q := &fakeQuery{events: sampleEvents()}
	h := NewHandler(q, WithHeartbeat(0))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ask?q=riba&session=abc", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "riba", q.got.Query)
	assert.Equal(t, "abc", q.got.SessionID)
	assert.Contains(t, rec.Body.String(), "event: done")
}

func TestHandler_RejectsInvalidRequests(t *testing.T) {
	h := NewHandler(&fakeQuery{})

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"empty query", httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":"  "}`)), http.StatusBadRequest},
		{"malformed json", httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":`)), http.StatusBadRequest},
		{"missing q", httptest.NewRequest(http.MethodGet, "/", nil), http.StatusBadRequest},
		{"wrong method", httptest.NewRequest(http.MethodDelete, "/", nil), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, domain.CodeValidation, body.Code)
		})
	}
}

func TestHandler_ValidationFieldsAreReported(t *testing.T) {
	h := NewHandler(&fakeQuery{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":""}`)))

	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Fields, 1)
	assert.Equal(t, "query", body.Fields[0].Field)
}
