package mcp

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	t.Run("nil search service returns error", func(t *testing.T) {
		ports := &Ports{Query: &mockQueryService{}}
		server, err := NewServer(ports)
		require.Error(t, err)
		assert.Nil(t, server)
		assert.ErrorIs(t, err, ErrMissingSearchService)
	})

	t.Run("nil query service returns error", func(t *testing.T) {
		ports := &Ports{Search: &mockSearchService{}}
		_, err := NewServer(ports)
		assert.ErrorIs(t, err, ErrMissingQueryService)
	})

	t.Run("valid ports creates server", func(t *testing.T) {
		server, err := NewServer(minimalPorts())
		require.NoError(t, err)
		assert.NotNil(t, server)
	})
}

func TestPorts_Validate(t *testing.T) {
	t.Run("empty ports returns error", func(t *testing.T) {
		ports := &Ports{}
		assert.ErrorIs(t, ports.Validate(), ErrMissingSearchService)
	})

	t.Run("search and query is valid", func(t *testing.T) {
		assert.NoError(t, minimalPorts().Validate())
	})

	t.Run("all ports is valid", func(t *testing.T) {
		ports := &Ports{
			Search:    &mockSearchService{},
			Query:     &mockQueryService{},
			Ingestion: &mockIngestionService{},
			Document:  &mockDocumentService{},
		}
		assert.NoError(t, ports.Validate())
	})
}

func TestServer_HandlerMountsRoutes(t *testing.T) {
	extra := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	server, err := NewServer(minimalPorts(), WithRoute("/metrics", extra))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestServer_RunHTTPEndsOpenStreams(t *testing.T) {
	started := make(chan struct{})
	stream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	})
	server, err := NewServer(minimalPorts(), WithRoute("/v1/ask", stream))
	require.NoError(t, err)

	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- server.RunHTTP(ctx, addr) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/v1/ask")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()
	<-started

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(shutdownTimeout + time.Second):
		t.Fatal("RunHTTP did not return after cancellation")
	}
}

func TestServer_RunHTTPAddressInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	server, err := NewServer(minimalPorts())
	require.NoError(t, err)

	assert.Error(t, server.RunHTTP(context.Background(), l.Addr().String()))
}
