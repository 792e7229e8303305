// Package gateway maps plain GET requests onto a node's write path and KV store.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	distkv "github.com/willeasp/id2203-distributed-kv-store"
)

// Writer accepts writes into the node's replication path.
type Writer interface {
	Submit(ctx context.Context, entry distkv.Entry) error
}

// Reader is the node's applied KV state.
type Reader interface {
	Get(key string) (string, bool)
	All() map[string]string
	Len() int
}

type HTTPHandler struct {
	id     distkv.NodeID
	writer Writer
	reader Reader
	logger *logrus.Entry
}

func NewHTTPHandler(id distkv.NodeID, writer Writer, reader Reader, logger *logrus.Entry) *HTTPHandler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &HTTPHandler{
		id:     id,
		writer: writer,
		reader: reader,
		logger: logger.WithField("component", "gateway"),
	}
}

func (h *HTTPHandler) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleList)
	mux.HandleFunc("GET /kv/{key}/{value}", h.handlePut)
	mux.HandleFunc("GET /kv/{key}", h.handleGet)
	mux.HandleFunc("GET /health", h.handleHealth)
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var all = h.reader.All()

	var keys = make([]string, 0, len(all))
	for key := range all {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("[ \n")
	for _, key := range keys {
		fmt.Fprintf(&sb, "\t%s -> %s, \n", key, all[key])
	}
	sb.WriteString("]")

	writeText(w, http.StatusOK, sb.String())
}

func (h *HTTPHandler) handlePut(w http.ResponseWriter, r *http.Request) {
	var entry = distkv.Entry{Key: r.PathValue("key"), Value: r.PathValue("value")}

	// same path as a "write" command: accepted here, decided later or never
	if err := h.writer.Submit(r.Context(), entry); err != nil {
		h.logger.WithError(err).WithField("key", entry.Key).Warn("cannot submit write")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeText(w, http.StatusOK, fmt.Sprintf("Inserted (%s, %s)", entry.Key, entry.Value))
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	var key = r.PathValue("key")

	value, ok := h.reader.Get(key)
	if !ok {
		writeText(w, http.StatusOK, fmt.Sprintf("No value for key %s found", key))
		return
	}

	writeText(w, http.StatusOK, fmt.Sprintf("%s -> %s", key, value))
}

type healthResponse struct {
	ID   distkv.NodeID `json:"id"`
	Keys int           `json:"keys"`
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(healthResponse{ID: h.id, Keys: h.reader.Len()}); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Serve runs the gateway on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler *HTTPHandler) error {
	var mux = http.NewServeMux()
	handler.RegisterHandlers(mux)

	var httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	var errc = make(chan error, 1)
	go func() {
		handler.logger.WithField("addr", addr).Info("gateway listening")
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
