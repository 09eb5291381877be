// Package metrics provides Prometheus metrics for trafficwatchd
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trafficwatch/trafficwatch/pkg/cache"
	"github.com/trafficwatch/trafficwatch/pkg/logx"
)

// Server exposes pipeline and cache metrics on /metrics
type Server struct {
	store     *cache.Store
	logger    *logx.Logger
	server    *http.Server
	startTime time.Time

	cameraCI     *prometheus.GaugeVec
	cycleTotal   *prometheus.CounterVec
	cameraErrors *prometheus.CounterVec
	cacheEntries *prometheus.GaugeVec
	strategyInfo *prometheus.GaugeVec
	daemonUptime prometheus.Gauge
}

// NewServer creates and registers the metrics server
func NewServer(store *cache.Store, logger *logx.Logger) *Server {
	s := &Server{
		store:     store,
		logger:    logger,
		startTime: time.Now(),
	}
	s.registerMetrics()
	return s
}

func (s *Server) registerMetrics() {
	s.cameraCI = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trafficwatch_camera_ci",
			Help: "Current congestion index per camera (0=free flow, 1=gridlock)",
		},
		[]string{"camera"},
	)

	s.cycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_ingestion_cycles_total",
			Help: "Total number of ingestion cycles by result",
		},
		[]string{"result"},
	)

	s.cameraErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trafficwatch_camera_errors_total",
			Help: "Total per-camera pipeline errors by type",
		},
		[]string{"camera", "type"},
	)

	s.cacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trafficwatch_cache_entries",
			Help: "Live entries in the state cache by namespace",
		},
		[]string{"namespace"},
	)

	s.strategyInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trafficwatch_forecast_strategy_info",
			Help: "Active forecast strategy (value is always 1)",
		},
		[]string{"strategy"},
	)

	s.daemonUptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "trafficwatch_daemon_uptime_seconds",
			Help: "Daemon uptime in seconds",
		},
	)

	prometheus.MustRegister(
		s.cameraCI,
		s.cycleTotal,
		s.cameraErrors,
		s.cacheEntries,
		s.strategyInfo,
		s.daemonUptime,
	)
}

// Start starts the metrics server
func (s *Server) Start(port int) error {
	s.logger.Info("starting metrics server", "port", port)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server error", "error", err.Error())
		}
	}()

	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics server")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// RecordCycle counts one ingestion cycle and refreshes the gauges
func (s *Server) RecordCycle(result string) {
	s.cycleTotal.With(prometheus.Labels{"result": result}).Inc()

	states, forecasts := s.store.Counts()
	s.cacheEntries.With(prometheus.Labels{"namespace": "state"}).Set(float64(states))
	s.cacheEntries.With(prometheus.Labels{"namespace": "forecast"}).Set(float64(forecasts))
	s.daemonUptime.Set(time.Since(s.startTime).Seconds())
}

// RecordCameraError counts one per-camera pipeline error
func (s *Server) RecordCameraError(cameraID, errType string) {
	s.cameraErrors.With(prometheus.Labels{"camera": cameraID, "type": errType}).Inc()
}

// ObserveCI updates the per-camera CI gauge
func (s *Server) ObserveCI(cameraID string, value float64) {
	s.cameraCI.With(prometheus.Labels{"camera": cameraID}).Set(value)
}

// SetStrategy records which forecast strategy the daemon selected
func (s *Server) SetStrategy(name string) {
	s.strategyInfo.Reset()
	s.strategyInfo.With(prometheus.Labels{"strategy": name}).Set(1)
}
