// Package server exposes the agent over HTTP: a collected chat endpoint,
// an SSE streaming endpoint, session inspection, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/addanuj/mcp-client/pkg/agent"
	"github.com/addanuj/mcp-client/pkg/config"
	"github.com/addanuj/mcp-client/pkg/metrics"
	"github.com/addanuj/mcp-client/pkg/tools"
)

// Server hosts the HTTP API for one agent.
type Server struct {
	agent   *agent.Agent
	metrics *metrics.Metrics
	logger  *slog.Logger
	http    *http.Server
}

// New builds the server and its routes.
func New(cfg *config.ServerConfig, a *agent.Agent, m *metrics.Metrics) *Server {
	s := &Server{
		agent:   a,
		metrics: m,
		logger:  slog.Default(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/chat/stream", s.handleChatStream)
	r.Get("/v1/tools", s.handleTools)
	r.Get("/v1/sessions/{id}/stats", s.handleSessionStats)
	r.Delete("/v1/sessions/{id}", s.handleSessionDelete)
	r.Get("/health", s.handleHealth)
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	s.http = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

// chatResponse wraps a collected turn with its session identifier so the
// caller can continue the conversation.
type chatResponse struct {
	SessionID string `json:"session_id"`
	agent.TurnResult
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}

	result := agent.Collect(s.agent.Turn(r.Context(), req))
	s.writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, TurnResult: result})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeTurn(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", req.SessionID)
	w.WriteHeader(http.StatusOK)

	for ev := range s.agent.Turn(r.Context(), req) {
		data, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
		flusher.Flush()
	}
}

func (s *Server) decodeTurn(w http.ResponseWriter, r *http.Request) (agent.TurnRequest, bool) {
	var req agent.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return req, false
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	return req, true
}

// toolListing is the inspection view of one catalog tool: the flat
// parameter list rather than the raw JSON schema.
type toolListing struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Parameters  []tools.ToolParameter `json:"parameters,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	descriptors, err := s.agent.Catalog().ListTools(r.Context())
	if err != nil {
		s.logger.Warn("Tool listing failed", "error", err)
		s.writeError(w, http.StatusBadGateway, "tool catalog unavailable")
		return
	}

	listing := make([]toolListing, 0, len(descriptors))
	for _, d := range descriptors {
		listing = append(listing, toolListing{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.Parameters,
		})
	}
	s.writeJSON(w, http.StatusOK, listing)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.agent.Store().Get(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Stats())
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	s.agent.Store().Delete(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := map[string]string{"status": "ok", "catalog": "up"}
	code := http.StatusOK

	if err := s.agent.Catalog().Health(ctx); err != nil {
		s.logger.Warn("Catalog health check failed", "error", err)
		status["status"] = "degraded"
		status["catalog"] = "down"
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, status)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
