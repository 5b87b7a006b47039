package sse

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driving"
	"github.com/custodia-labs/mizan/internal/logger"
)

// maxBodyBytes bounds a query request body.
const maxBodyBytes = 64 << 10

// Handler serves questions as event streams. It accepts a JSON
// domain.QueryRequest by POST, or GET with q and session parameters.
type Handler struct {
	query     driving.QueryService
	heartbeat time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithHeartbeat sets the heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) { h.heartbeat = d }
}

// NewHandler creates a streaming query handler.
func NewHandler(query driving.QueryService, opts ...Option) *Handler {
	h := &Handler{query: query, heartbeat: DefaultHeartbeat}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// errorBody is the JSON body of a rejected request.
type errorBody struct {
	Code    domain.ErrorCode         `json:"code"`
	Message string                   `json:"message"`
	Fields  []domain.ValidationError `json:"fields,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req domain.QueryRequest
	switch r.Method {
	case http.MethodGet:
		req.Query = r.URL.Query().Get("q")
		req.SessionID = r.URL.Query().Get("session")
	case http.MethodPost:
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, errorBody{
				Code:    domain.CodeValidation,
				Message: "invalid request body: " + err.Error(),
			})
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, errorBody{
			Code:    domain.CodeValidation,
			Message: "method not allowed",
		})
		return
	}

	events, err := h.query.Stream(r.Context(), req)
	if err != nil {
		body := errorBody{Code: domain.CodeFor(err), Message: err.Error()}
		status := http.StatusInternalServerError
		var verrs domain.ValidationErrors
		if errors.As(err, &verrs) {
			body.Fields = verrs
			status = http.StatusBadRequest
		}
		writeError(w, status, body)
		return
	}

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := Stream(r.Context(), NewEncoder(w), events, h.heartbeat); err != nil {
		logger.Debug("event stream ended: %v", err)
		// Drain so the pipeline goroutine is never left blocked.
		for range events {
		}
	}
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
