// Package gateway exposes the assistant facade over a JSON HTTP API.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/haasonsaas/aide/internal/agent"
	"github.com/haasonsaas/aide/internal/assistants"
	"github.com/haasonsaas/aide/internal/observability"
	"github.com/haasonsaas/aide/internal/ratelimit"
	"github.com/haasonsaas/aide/internal/threads"
	"github.com/haasonsaas/aide/pkg/models"
)

// Server routes HTTP requests to the assistants facade. Authentication
// is delegated to a fronting proxy; the acting party arrives in
// X-Actor-* headers.
type Server struct {
	svc     *assistants.Service
	mux     *http.ServeMux
	metrics *observability.Metrics
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerMetrics enables HTTP request metrics.
func WithServerMetrics(metrics *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = metrics }
}

// WithRateLimit throttles requests per actor (falling back to the
// remote address for anonymous callers).
func WithRateLimit(limiter *ratelimit.Limiter) ServerOption {
	return func(s *Server) { s.limiter = limiter }
}

// WithServerLogger sets the request logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer builds the router over the given facade.
func NewServer(svc *assistants.Service, opts ...ServerOption) *Server {
	s := &Server{
		svc:    svc,
		mux:    http.NewServeMux(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("GET /api/assistants", s.handleListAssistants)
	s.mux.HandleFunc("GET /api/assistants/{id}", s.handleGetAssistant)

	s.mux.HandleFunc("POST /api/threads", s.handleCreateThread)
	s.mux.HandleFunc("GET /api/threads", s.handleListThreads)
	s.mux.HandleFunc("GET /api/threads/{id}", s.handleGetThread)
	s.mux.HandleFunc("PATCH /api/threads/{id}", s.handleUpdateThread)
	s.mux.HandleFunc("DELETE /api/threads/{id}", s.handleDeleteThread)

	s.mux.HandleFunc("GET /api/threads/{id}/messages", s.handleListMessages)
	s.mux.HandleFunc("POST /api/threads/{id}/messages", s.handleCreateMessage)
	s.mux.HandleFunc("DELETE /api/threads/{id}/messages/{messageID}", s.handleDeleteMessage)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	if s.limiter != nil {
		key := r.Header.Get("X-Actor-ID")
		if key == "" {
			key = r.RemoteAddr
		}
		if !s.limiter.Allow(key) {
			s.jsonError(rec, "rate limit exceeded", http.StatusTooManyRequests)
			s.logger.Warn("request throttled", "key", key, "path", r.URL.Path)
			return
		}
	}
	s.mux.ServeHTTP(rec, r)

	elapsed := time.Since(start)
	pattern := r.Pattern
	if pattern == "" {
		pattern = "unmatched"
	}
	if s.metrics != nil {
		code := strconv.Itoa(rec.status)
		s.metrics.HTTPRequestCounter.WithLabelValues(r.Method, pattern, code).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern, code).Observe(elapsed.Seconds())
	}
	s.logger.Debug("http request",
		"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", elapsed)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// actorFromRequest reads the acting party from trusted proxy headers.
// No headers means an anonymous request.
func actorFromRequest(r *http.Request) *models.Actor {
	id := r.Header.Get("X-Actor-ID")
	if id == "" {
		return nil
	}
	super, _ := strconv.ParseBool(r.Header.Get("X-Actor-Superuser"))
	return &models.Actor{
		ID:          id,
		Username:    r.Header.Get("X-Actor-Username"),
		IsSuperuser: super,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAssistants(w http.ResponseWriter, r *http.Request) {
	out := s.svc.ListAssistants(r.Context(), actorFromRequest(r))
	if out == nil {
		out = []assistants.AssistantSummary{}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAssistant(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.GetAssistant(r.Context(), actorFromRequest(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

type createThreadRequest struct {
	Name        string `json:"name"`
	AssistantID string `json:"assistant_id,omitempty"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	thread, err := s.svc.CreateThread(r.Context(), actorFromRequest(r), req.Name, req.AssistantID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, thread)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	opts := threads.ListOptions{
		AssistantID: r.URL.Query().Get("assistant_id"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		opts.Limit, _ = strconv.Atoi(limit)
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		opts.Offset, _ = strconv.Atoi(offset)
	}
	out, err := s.svc.ListThreads(r.Context(), actorFromRequest(r), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if out == nil {
		out = []*models.Thread{}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := s.svc.GetThread(r.Context(), actorFromRequest(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, thread)
}

type updateThreadRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleUpdateThread(w http.ResponseWriter, r *http.Request) {
	var req updateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	thread, err := s.svc.UpdateThread(r.Context(), actorFromRequest(r), r.PathValue("id"), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, thread)
}

func (s *Server) handleDeleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteThread(r.Context(), actorFromRequest(r), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.svc.ListMessages(r.Context(), actorFromRequest(r), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

type createMessageRequest struct {
	AssistantID string `json:"assistant_id,omitempty"`
	Content     string `json:"content"`
}

type createMessageResponse struct {
	Output   string            `json:"output"`
	Messages []*models.Message `json:"messages"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		s.jsonError(w, "content is required", http.StatusBadRequest)
		return
	}
	out, err := s.svc.CreateMessage(r.Context(), actorFromRequest(r),
		r.PathValue("id"), req.AssistantID, req.Content)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createMessageResponse{
		Output:   out.Output,
		Messages: out.Messages,
	})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	err := s.svc.DeleteMessage(r.Context(), actorFromRequest(r),
		r.PathValue("id"), r.PathValue("messageID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, map[string]string{"error": message})
}

// writeError maps facade errors onto HTTP status codes: denials are 403,
// missing entities are 404, misconfigurations are 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var notAllowed *assistants.NotAllowedError
	var notDefined *assistants.NotDefinedError
	var cfgErr *agent.ConfigError
	switch {
	case errors.As(err, &notAllowed):
		s.jsonError(w, err.Error(), http.StatusForbidden)
	case errors.As(err, &notDefined),
		errors.Is(err, threads.ErrThreadNotFound),
		errors.Is(err, threads.ErrMessageNotFound):
		s.jsonError(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &cfgErr):
		s.logger.Error("assistant misconfigured", "error", err)
		s.jsonError(w, err.Error(), http.StatusInternalServerError)
	default:
		s.logger.Error("request failed", "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}
