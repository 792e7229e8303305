package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
	state_machine "github.com/willeasp/id2203-distributed-kv-store/state-machine"
)

// applyingWriter decides every write at once, or fails every write.
type applyingWriter struct {
	store *state_machine.KVStore
	err   error
}

func (w *applyingWriter) Submit(_ context.Context, entry distkv.Entry) error {
	if w.err != nil {
		return w.err
	}
	w.store.Apply([]distkv.DecidedEntry{{Kind: distkv.EntryWrite, Entry: entry}})
	return nil
}

func newTestServer(t *testing.T, writerErr error) (*httptest.Server, *state_machine.KVStore) {
	var store = state_machine.New()
	var handler = NewHTTPHandler(3, &applyingWriter{store: store, err: writerErr}, store, nil)

	var mux = http.NewServeMux()
	handler.RegisterHandlers(mux)

	var server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, store
}

func get(t *testing.T, url string) (int, string) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestGateway(t *testing.T) {
	server, _ := newTestServer(t, nil)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "empty listing", path: "/", wantStatus: http.StatusOK, wantBody: "[ \n]"},
		{name: "missing key", path: "/kv/foo", wantStatus: http.StatusOK, wantBody: "No value for key foo found"},
		{name: "put", path: "/kv/foo/bar", wantStatus: http.StatusOK, wantBody: "Inserted (foo, bar)"},
		{name: "put another", path: "/kv/abc/1", wantStatus: http.StatusOK, wantBody: "Inserted (abc, 1)"},
		{name: "get", path: "/kv/foo", wantStatus: http.StatusOK, wantBody: "foo -> bar"},
		{name: "listing", path: "/", wantStatus: http.StatusOK, wantBody: "[ \n\tabc -> 1, \n\tfoo -> bar, \n]"},
		{name: "unknown route", path: "/nope", wantStatus: http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := get(t, server.URL+tc.path)
			require.Equal(t, tc.wantStatus, status)
			if tc.wantBody != "" {
				require.Equal(t, tc.wantBody, body)
			}
		})
	}
}

func TestGateway_PutFailure(t *testing.T) {
	server, store := newTestServer(t, context.Canceled)

	status, _ := get(t, server.URL+"/kv/foo/bar")
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, 0, store.Len())
}

func TestGateway_Health(t *testing.T) {
	server, store := newTestServer(t, nil)
	store.Apply([]distkv.DecidedEntry{{Kind: distkv.EntryWrite, Entry: distkv.Entry{Key: "a", Value: "1"}}})

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, healthResponse{ID: 3, Keys: 1}, health)
}

func TestGateway_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t, nil)

	resp, err := http.Post(server.URL+"/kv/foo/bar", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServe(t *testing.T) {
	var store = state_machine.New()
	var handler = NewHTTPHandler(1, &applyingWriter{store: store}, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", handler) }()

	cancel()
	require.NoError(t, <-done)
}
