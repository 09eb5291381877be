// Package api exposes the cache read and optimizer HTTP endpoints
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/trafficwatch/trafficwatch/pkg/cache"
	"github.com/trafficwatch/trafficwatch/pkg/camera"
	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/forecast"
	"github.com/trafficwatch/trafficwatch/pkg/geo"
	"github.com/trafficwatch/trafficwatch/pkg/logx"
	"github.com/trafficwatch/trafficwatch/pkg/optimizer"
)

// Server serves current state, forecasts and optimization over HTTP.
// All handlers are read-only against the cache and never wait on the
// ingestion cycle.
type Server struct {
	cameras   *camera.Registry
	store     *cache.Store
	optimizer *optimizer.Optimizer
	logger    *logx.Logger
	server    *http.Server
	startTime time.Time
}

// NewServer creates the API server
func NewServer(cameras *camera.Registry, store *cache.Store, opt *optimizer.Optimizer, logger *logx.Logger) *Server {
	return &Server{
		cameras:   cameras,
		store:     store,
		optimizer: opt,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Handler returns the configured HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/cameras", s.camerasHandler)
	mux.HandleFunc("GET /api/v1/cameras/{id}/state", s.stateHandler)
	mux.HandleFunc("GET /api/v1/cameras/{id}/forecast", s.forecastHandler)
	mux.HandleFunc("POST /api/v1/route/optimize", s.optimizeHandler)
	mux.HandleFunc("POST /api/v1/route/cameras", s.routeCamerasHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /health/live", s.liveHandler)
	mux.HandleFunc("GET /health/ready", s.readyHandler)
	return mux
}

// Start starts the API server on the given port
func (s *Server) Start(port int) error {
	s.logger.Info("starting api server", "port", port)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server error", "error", err.Error())
		}
	}()

	return nil
}

// Stop shuts the API server down gracefully
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

type errorResponse struct {
	Error      string  `json:"error"`
	AgeSeconds float64 `json:"age_seconds,omitempty"`
}

type stateResponse struct {
	ci.CIState
	AgeSeconds float64 `json:"age_seconds"`
	Stale      bool    `json:"stale"`
}

type forecastResponse struct {
	forecast.Vector
	AgeSeconds float64 `json:"age_seconds"`
	Stale      bool    `json:"stale"`
}

func (s *Server) camerasHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cameras.All())
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	state, age, ok := s.store.GetState(id)
	if !ok {
		// A miss means the camera has not been observed yet, not a failure
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no current state for camera"})
		return
	}

	resp := stateResponse{CIState: state, AgeSeconds: age.Seconds(), Stale: s.store.IsStale(age)}
	if resp.Stale {
		// Degraded: the value is past the staleness threshold but inside TTL
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) forecastHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	vector, age, ok := s.store.GetForecast(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no forecast for camera"})
		return
	}

	resp := forecastResponse{Vector: vector, AgeSeconds: age.Seconds(), Stale: s.store.IsStale(age)}
	if resp.Stale {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) optimizeHandler(w http.ResponseWriter, r *http.Request) {
	var req optimizer.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := s.optimizer.Optimize(req)
	if err != nil {
		if errors.Is(err, optimizer.ErrRouteTooShort) || errors.Is(err, optimizer.ErrInvalidETA) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.logger.Error("optimization failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "optimization failed"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type routeCamerasRequest struct {
	Route    []geo.Point `json:"route"`
	RadiusKM float64     `json:"radius_km,omitempty"`
}

func (s *Server) routeCamerasHandler(w http.ResponseWriter, r *http.Request) {
	var req routeCamerasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	matched, err := s.optimizer.CamerasAlongRoute(req.Route, req.RadiusKM)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if matched == nil {
		matched = []geo.RouteCameraInfo{}
	}
	writeJSON(w, http.StatusOK, matched)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	states, forecasts := s.store.Counts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"timestamp":        time.Now().UTC(),
		"uptime_s":         time.Since(s.startTime).Seconds(),
		"cameras":          s.cameras.Len(),
		"state_entries":    states,
		"forecast_entries": forecasts,
	})
}

func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	health := s.store.HealthCheck()
	if s.cameras.Len() == 0 || health["status"] != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
