// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the scheduling core over HTTP.
//
// Endpoints:
//   - POST   /v1/route         - Route a prompt to a model
//   - GET    /v1/models        - List registered models
//   - POST   /v1/models        - Register or update a model
//   - DELETE /v1/models/{id}   - Unregister a model
//   - POST   /v1/profile       - Profile all registered models
//   - POST   /v1/gpu/allocate  - Allocate a GPU for a model
//   - POST   /v1/gpu/release   - Release a model's GPU
//   - POST   /v1/gpu/release-all - Release every allocation
//   - GET    /v1/gpu/status    - Hardware and allocation snapshot
//   - POST   /v1/gpu/recommend - Simulate placement for a model set
//   - GET    /v1/history       - Recent routing decisions
//   - GET    /health           - Health check
//   - GET    /stats            - Engine and server statistics
//   - POST   /cache/clear      - Clear the decision cache
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigsched/internal/gpu"
	"github.com/jeranaias/rigsched/internal/history"
	"github.com/jeranaias/rigsched/internal/routing"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxPromptLength is the maximum prompt length accepted for routing.
	MaxPromptLength = 100000

	// MaxRequestBodySize caps request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxRecommendRequests caps the model set in one placement simulation.
	MaxRecommendRequests = 64

	// profileRequestTimeout bounds a full profiling sweep triggered over
	// the API.
	profileRequestTimeout = 10 * time.Minute

	// Version is the server version.
	Version = "0.3.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP front end for the routing engine and GPU manager.
type Server struct {
	addr   string
	mux    *http.ServeMux
	server *http.Server

	engine  *routing.Engine
	gpus    *gpu.Manager
	hist    *history.Store
	auth    *AuthConfig
	limiter *RateLimiter

	startTime time.Time
	requests  atomic.Int64
}

// NewServer wires the scheduling core behind an HTTP mux. engine and
// gpus are required; the history store may be nil (recording becomes a
// no-op).
func NewServer(addr string, engine *routing.Engine, gpus *gpu.Manager) *Server {
	s := &Server{
		addr:      addr,
		mux:       http.NewServeMux(),
		engine:    engine,
		gpus:      gpus,
		auth:      DefaultAuthConfig(),
		limiter:   DefaultRateLimiter(),
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// WithHistory sets the decision log store.
func (s *Server) WithHistory(store *history.Store) *Server {
	s.hist = store
	return s
}

// WithAuth sets the authentication configuration.
func (s *Server) WithAuth(config *AuthConfig) *Server {
	s.auth = config
	return s
}

// WithRateLimiter sets a custom rate limiter.
func (s *Server) WithRateLimiter(limiter *RateLimiter) *Server {
	s.limiter = limiter
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	handler := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		RequestIDMiddleware(),
		LoggingMiddleware(log.Default()),
		RateLimitMiddleware(s.limiter),
	)(s.mux)

	if s.auth != nil && s.auth.Enabled {
		handler = AuthMiddleware(s.auth)(handler)
	}
	return handler
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("POST /v1/route", s.handleRoute)

	s.mux.HandleFunc("GET /v1/models", s.handleListModels)
	s.mux.HandleFunc("POST /v1/models", s.handleRegisterModel)
	s.mux.HandleFunc("DELETE /v1/models/{id}", s.handleUnregisterModel)
	s.mux.HandleFunc("POST /v1/profile", s.handleProfile)

	s.mux.HandleFunc("POST /v1/gpu/allocate", s.handleAllocate)
	s.mux.HandleFunc("POST /v1/gpu/release", s.handleRelease)
	s.mux.HandleFunc("POST /v1/gpu/release-all", s.handleReleaseAll)
	s.mux.HandleFunc("GET /v1/gpu/status", s.handleGPUStatus)
	s.mux.HandleFunc("POST /v1/gpu/recommend", s.handleRecommend)

	s.mux.HandleFunc("GET /v1/history", s.handleHistory)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.HandleFunc("POST /cache/clear", s.handleCacheClear)
}

// ============================================================================
// ROUTING HANDLERS
// ============================================================================

// RouteRequest is the routing request body.
type RouteRequest struct {
	Prompt string `json:"prompt"`
}

// handleRoute handles POST /v1/route.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", MaxRequestBodySize))
			return
		}
		log.Printf("Invalid request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}

	if req.Prompt == "" {
		s.writeError(w, http.StatusBadRequest, "Request must contain a prompt")
		return
	}
	if len(req.Prompt) > MaxPromptLength {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Prompt exceeds maximum length of %d", MaxPromptLength))
		return
	}

	result := s.engine.Route(r.Context(), req.Prompt)

	if err := s.hist.Record(routing.HashPrompt(req.Prompt), result); err != nil {
		// The decision log is advisory: never fail a route over it.
		log.Printf("HISTORY: recording decision failed: %v", err)
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleListModels handles GET /v1/models.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"models": s.engine.ListModels(),
	})
}

// handleRegisterModel handles POST /v1/models.
func (s *Server) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var m routing.ModelConfig
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		log.Printf("Invalid request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if m.ModelID == "" {
		s.writeError(w, http.StatusBadRequest, "model_id is required")
		return
	}

	s.engine.RegisterModel(m)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"model_id": m.ModelID,
	})
}

// handleUnregisterModel handles DELETE /v1/models/{id}.
func (s *Server) handleUnregisterModel(w http.ResponseWriter, r *http.Request) {
	modelID := r.PathValue("id")
	if modelID == "" {
		s.writeError(w, http.StatusBadRequest, "model id is required")
		return
	}

	if !s.engine.UnregisterModel(modelID) {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("model %s is not registered", modelID))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"model_id": modelID,
	})
}

// handleProfile handles POST /v1/profile. Profiling runs synchronously;
// the response carries the measured profiles.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), profileRequestTimeout)
	defer cancel()

	profiles := s.engine.ProfileModels(ctx)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"profiled": len(profiles),
		"profiles": profiles,
	})
}

// ============================================================================
// GPU HANDLERS
// ============================================================================

// AllocateRequest is the GPU allocation request body.
type AllocateRequest struct {
	ModelID        string  `json:"model_id"`
	VRAMRequiredGB float64 `json:"vram_required_gb"`
	PreferredGPU   *int    `json:"preferred_gpu,omitempty"`
	Exclusive      bool    `json:"exclusive"`
}

// AllocateResponse reports the allocation outcome. GPUID is -1 when no
// device could host the model.
type AllocateResponse struct {
	ModelID   string `json:"model_id"`
	GPUID     int    `json:"gpu_id"`
	Allocated bool   `json:"allocated"`
}

// handleAllocate handles POST /v1/gpu/allocate.
func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Invalid request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.ModelID == "" {
		s.writeError(w, http.StatusBadRequest, "model_id is required")
		return
	}
	if req.VRAMRequiredGB < 0 {
		s.writeError(w, http.StatusBadRequest, "vram_required_gb must be >= 0")
		return
	}

	gpuID, ok := s.gpus.AllocateGPU(r.Context(), req.ModelID, gpu.AllocateOptions{
		VRAMRequiredGB: req.VRAMRequiredGB,
		PreferredGPU:   req.PreferredGPU,
		Exclusive:      req.Exclusive,
	})

	s.writeJSON(w, http.StatusOK, AllocateResponse{
		ModelID:   req.ModelID,
		GPUID:     gpuID,
		Allocated: ok,
	})
}

// ReleaseRequest is the GPU release request body.
type ReleaseRequest struct {
	ModelID string `json:"model_id"`
}

// handleRelease handles POST /v1/gpu/release.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Invalid request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if req.ModelID == "" {
		s.writeError(w, http.StatusBadRequest, "model_id is required")
		return
	}

	released := s.gpus.ReleaseGPU(req.ModelID)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"model_id": req.ModelID,
		"released": released,
	})
}

// handleReleaseAll handles POST /v1/gpu/release-all.
func (s *Server) handleReleaseAll(w http.ResponseWriter, r *http.Request) {
	released := s.gpus.ReleaseAll()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"released": released,
	})
}

// handleGPUStatus handles GET /v1/gpu/status.
func (s *Server) handleGPUStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.gpus.Status(r.Context()))
}

// RecommendRequest is the placement simulation request body.
type RecommendRequest struct {
	Models []gpu.ModelRequest `json:"models"`
}

// RecommendResponse carries the simulated placement. Placements map
// model IDs to device indexes, -1 meaning unassignable.
type RecommendResponse struct {
	Placements     map[string]int `json:"placements"`
	CanRunParallel bool           `json:"can_run_parallel"`
}

// handleRecommend handles POST /v1/gpu/recommend.
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req RecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("Invalid request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if len(req.Models) > MaxRecommendRequests {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Too many models: maximum is %d", MaxRecommendRequests))
		return
	}
	for i, m := range req.Models {
		if m.ModelID == "" {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("model %d is missing model_id", i))
			return
		}
	}

	placements := s.gpus.RecommendAllocation(r.Context(), req.Models)

	parallel := true
	for _, gpuID := range placements {
		if gpuID == gpu.NoGPU {
			parallel = false
			break
		}
	}

	s.writeJSON(w, http.StatusOK, RecommendResponse{
		Placements:     placements,
		CanRunParallel: parallel,
	})
}

// ============================================================================
// HISTORY HANDLER
// ============================================================================

// handleHistory handles GET /v1/history.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	decisions, err := s.hist.Recent(limit)
	if err != nil {
		log.Printf("HISTORY: query failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "History query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"decisions": decisions,
	})
}

// ============================================================================
// HEALTH AND STATS HANDLERS
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	RouterEnabled   bool   `json:"router_enabled"`
	Models          int    `json:"models"`
	GPUs            int    `json:"gpus"`
	TelemetryStatus string `json:"telemetry_status"`
	HistoryEnabled  bool   `json:"history_enabled"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	engineStats := s.engine.Stats()
	gpuStatus := s.gpus.Status(r.Context())

	health := HealthResponse{
		Status:          "ok",
		Version:         Version,
		RouterEnabled:   engineStats.Enabled,
		Models:          engineStats.Models,
		GPUs:            len(gpuStatus.GPUs),
		TelemetryStatus: "ok",
		HistoryEnabled:  s.hist != nil,
	}
	if gpuStatus.TelemetryError != "" {
		health.TelemetryStatus = "unavailable"
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// StatsResponse represents the statistics response.
type StatsResponse struct {
	Engine        routing.EngineStats `json:"engine"`
	History       history.Totals      `json:"history"`
	TotalRequests int64               `json:"total_requests"`
	UptimeSeconds int64               `json:"uptime_seconds"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totals, err := s.hist.Totals()
	if err != nil {
		log.Printf("HISTORY: aggregation failed: %v", err)
	}

	s.writeJSON(w, http.StatusOK, StatsResponse{
		Engine:        s.engine.Stats(),
		History:       totals,
		TotalRequests: s.requests.Load(),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

// handleCacheClear handles POST /cache/clear.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.engine.ClearCache()
	log.Printf("CACHE_CLEARED | client_ip=%s", GetClientIP(r))

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Decision cache cleared",
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", s.addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
