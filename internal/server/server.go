// Package server exposes the queue engine to the chat UI over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/chatsync/internal/engine"
	"github.com/roach88/chatsync/internal/ir"
)

// maxRequestBody caps POST /v1/queue bodies.
const maxRequestBody = 1 << 20

// Engine is the engine surface the API drives.
type Engine interface {
	Enqueue(ctx context.Context, req ir.Request) (int64, error)
	Flush(ctx context.Context) (engine.PassResult, error)
	Pending(ctx context.Context) ([]ir.PendingOperation, error)
	Discard(ctx context.Context, id int64) error
}

// Options attaches optional handlers.
type Options struct {
	// Events serves GET /v1/events, typically a notify.WebSocketHandler.
	Events http.Handler
	// Metrics serves GET /metrics.
	Metrics http.Handler
}

// Server routes API requests to the engine.
type Server struct {
	engine Engine
	router *mux.Router
}

// New builds the router.
func New(e Engine, opts Options) *Server {
	s := &Server{engine: e, router: mux.NewRouter()}

	r := s.router
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/queue", s.enqueue).Methods(http.MethodPost)
	r.HandleFunc("/v1/queue", s.list).Methods(http.MethodGet)
	r.HandleFunc("/v1/queue/{id}", s.discard).Methods(http.MethodDelete)
	r.HandleFunc("/v1/flush", s.flush).Methods(http.MethodPost)
	if opts.Events != nil {
		r.Handle("/v1/events", opts.Events).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type enqueueResponse struct {
	ID int64 `json:"id"`
}

type listResponse struct {
	Operations []ir.PendingOperation `json:"operations"`
}

type flushResponse struct {
	Result engine.PassResult `json:"result"`
	Error  string            `json:"error,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req ir.Request
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error(), Code: string(engine.ErrCodeInvalidRequest)})
		return
	}

	id, err := s.engine.Enqueue(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{ID: id})
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	ops, err := s.engine.Pending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Operations: ops})
}

func (s *Server) discard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "operation id must be a positive integer", Code: string(engine.ErrCodeInvalidRequest)})
		return
	}
	if err := s.engine.Discard(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Flush(r.Context())
	if err != nil {
		status := statusFor(err)
		writeJSON(w, status, flushResponse{Result: result, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, flushResponse{Result: result})
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case engine.IsInvalidRequest(err):
		return http.StatusBadRequest
	case engine.IsTransportError(err):
		return http.StatusBadGateway
	case engine.IsStorageError(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var ee *engine.Error
	if errors.As(err, &ee) {
		body.Code = string(ee.Code)
	}
	writeJSON(w, statusFor(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
