// Package api implements the HTTP API server for mistborn.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/detect"
	"github.com/sprite-ai/mistborn/internal/llm"
	"github.com/sprite-ai/mistborn/internal/patch"
	"github.com/sprite-ai/mistborn/internal/retrieval"
)

// Deps are the components the handlers drive. Pipeline and Detector may be
// nil, in which case their endpoints answer 503.
type Deps struct {
	Detector   *detect.Detector
	Pipeline   *patch.Pipeline
	Reconciler *patch.Reconciler
	Log        *zap.Logger
}

// Server is the mistborn HTTP API server.
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server
	deps   Deps
	log    *zap.Logger
}

// New creates a new API server.
func New(addr string, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Reconciler == nil {
		deps.Reconciler = patch.NewReconciler(nil, log)
	}
	s := &Server{addr: addr, deps: deps, log: log.Named("api")}
	s.mux = http.NewServeMux()
	s.registerRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /api/detect", s.handleDetect)
	s.mux.HandleFunc("POST /api/patch", s.handlePatch)
	s.mux.HandleFunc("POST /api/reconcile", s.handleReconcile)
	s.mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	s.mux.Handle("GET /metrics", promhttp.Handler())
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		s.log.Warn("json encode", zap.Error(err))
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeFailure maps a pipeline error to a status code.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	s.log.Warn("request failed", zap.Error(err))
	s.writeError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	var (
		se *llm.ServiceError
		be *retrieval.BackendError
	)
	switch {
	case errors.Is(err, patch.ErrNoPatchForKey):
		return http.StatusUnprocessableEntity
	case errors.Is(err, retrieval.ErrIndexEmpty):
		return http.StatusServiceUnavailable
	case errors.As(err, &se), errors.As(err, &be):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// readJSON decodes a JSON request body into v.
func readJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("empty request body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}
