// Package server exposes the dispatch engine over HTTP: the dispatch and
// decision endpoints plus the usage, breaker and agent reporting surfaces.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/engine"
	"github.com/tributary-ai/intent-dispatch/internal/providers"
	"github.com/tributary-ai/intent-dispatch/internal/security"
	"github.com/tributary-ai/intent-dispatch/internal/usage"
)

// Server represents the HTTP server
type Server struct {
	engine      *engine.Engine
	tracker     *usage.Tracker
	providerSet map[string]providers.ModelProvider
	httpServer  *http.Server
	logger      *logrus.Logger
	config      *Config
	auth        *security.Authenticator
	rateLimiter *security.RateLimiter
}

// Config holds server configuration
type Config struct {
	Port           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxHeaderBytes int
	AllowedOrigins []string
	Auth           *security.AuthConfig
	RateLimit      *security.RateLimitConfig
}

// DispatchRequest is the inbound payload for dispatch and decision calls.
type DispatchRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// NewServer creates a new server instance
func NewServer(
	eng *engine.Engine,
	tracker *usage.Tracker,
	providerSet map[string]providers.ModelProvider,
	config *Config,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		engine:      eng,
		tracker:     tracker,
		providerSet: providerSet,
		config:      config,
		logger:      logger,
	}

	if config.Auth != nil {
		s.auth = security.NewAuthenticator(config.Auth, logger)
	}
	if config.RateLimit != nil {
		s.rateLimiter = security.NewRateLimiter(config.RateLimit, logger)
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting intent dispatch server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping intent dispatch server")
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured route tree. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.auth != nil {
		r.Use(s.auth.Middleware())
	}
	if s.rateLimiter != nil {
		r.Use(s.rateLimiter.Middleware())
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/dispatch", s.handleDispatch).Methods("POST")
	api.HandleFunc("/decision", s.handleDecision).Methods("POST")
	api.HandleFunc("/usage", s.handleGlobalUsage).Methods("GET")
	api.HandleFunc("/usage/{session}", s.handleSessionUsage).Methods("GET")
	api.HandleFunc("/breakers", s.handleBreakers).Methods("GET")
	api.HandleFunc("/agents", s.handleAgents).Methods("GET")

	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}
		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := "*"
		if len(s.config.AllowedOrigins) > 0 {
			origin = s.config.AllowedOrigins[0]
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

// handleDispatch routes one utterance end to end and returns the response
// plus full routing metadata.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDispatchRequest(w, r)
	if !ok {
		return
	}

	result, err := s.engine.Dispatch(r.Context(), req.SessionID, req.Text)
	if err != nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("Dispatch failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// handleDecision runs the same routing path but returns only the
// classification metadata, for callers that fulfill intents themselves.
func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeDispatchRequest(w, r)
	if !ok {
		return
	}

	result, err := s.engine.Dispatch(r.Context(), req.SessionID, req.Text)
	if err != nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("Dispatch failed: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result.Decision)
}

// handleGlobalUsage returns process-wide usage aggregates.
func (s *Server) handleGlobalUsage(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"summary":   s.tracker.GlobalSummary(),
		"dropped":   s.tracker.Dropped(),
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionUsage returns one session's summary and records.
func (s *Server) handleSessionUsage(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["session"]

	summary, ok := s.tracker.SessionSummary(sessionID)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("No usage recorded for session %s", sessionID))
		return
	}

	response := map[string]interface{}{
		"session": sessionID,
		"summary": summary,
		"records": s.tracker.SessionRecords(sessionID),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleBreakers reports circuit state per target.
func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	states := s.engine.BreakerSnapshot()

	response := map[string]interface{}{
		"breakers":  states,
		"count":     len(states),
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleAgents lists registered specialist agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	registrations := s.engine.Agents()

	response := map[string]interface{}{
		"agents": registrations,
		"count":  len(registrations),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleHealthCheck probes each configured provider with a short timeout.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	providerHealth := make(map[string]string, len(s.providerSet))
	overallHealthy := true
	for name, provider := range s.providerSet {
		if err := provider.HealthCheck(ctx); err != nil {
			providerHealth[name] = "unhealthy"
			overallHealthy = false
		} else {
			providerHealth[name] = "healthy"
		}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]interface{}{
		"status":    status,
		"providers": providerHealth,
		"timestamp": time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// Helper functions

func (s *Server) decodeDispatchRequest(w http.ResponseWriter, r *http.Request) (*DispatchRequest, bool) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return nil, false
	}
	if req.Text == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "text is required")
		return nil, false
	}
	if req.SessionID == "" {
		req.SessionID = fmt.Sprintf("anon-%d", time.Now().UnixNano())
	}
	return &req, true
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(errorResp)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
