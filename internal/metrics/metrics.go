// Package metrics exposes controller instrumentation via prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Controller metrics.
var (
	currentMode = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wifiwarden_mode",
			Help: "Currently active network mode (1 for the active mode, 0 otherwise).",
		},
		[]string{"mode"},
	)
	healthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiwarden_health_checks_total",
			Help: "Total number of health evaluations by mode and outcome.",
		},
		[]string{"mode", "healthy"},
	)
	modeSwitchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wifiwarden_mode_switches_total",
			Help: "Total number of mode switch attempts by target mode and outcome.",
		},
		[]string{"to", "outcome"},
	)
	consecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wifiwarden_consecutive_failures",
			Help: "Consecutive failed health checks for the active mode.",
		},
		[]string{"mode"},
	)
	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wifiwarden_tick_duration_seconds",
			Help:    "Monitor tick duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(currentMode)
	prometheus.MustRegister(healthChecksTotal)
	prometheus.MustRegister(modeSwitchesTotal)
	prometheus.MustRegister(consecutiveFailures)
	prometheus.MustRegister(tickDuration)
}

// SetMode records the active mode as a one-hot gauge across known modes.
func SetMode(mode string) {
	for _, m := range []string{"unknown", "ap", "client"} {
		v := 0.0
		if m == mode {
			v = 1.0
		}
		currentMode.WithLabelValues(m).Set(v)
	}
}

// ObserveHealthCheck counts one health evaluation outcome.
func ObserveHealthCheck(mode string, healthy bool) {
	label := "false"
	if healthy {
		label = "true"
	}
	healthChecksTotal.WithLabelValues(mode, label).Inc()
}

// ObserveModeSwitch counts one mode switch attempt.
func ObserveModeSwitch(to string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	modeSwitchesTotal.WithLabelValues(to, outcome).Inc()
}

// SetConsecutiveFailures records the failure counter for a mode.
func SetConsecutiveFailures(mode string, n int) {
	consecutiveFailures.WithLabelValues(mode).Set(float64(n))
}

// ObserveTick records how long one monitor tick took.
func ObserveTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}

// Server serves the prometheus scrape endpoint when a listen address is
// configured.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds a metrics server for addr. A nil Server is returned when
// addr is empty; its methods are safe to call.
func NewServer(addr string, logger *zap.Logger) *Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	if s == nil {
		return
	}
	s.logger.Info("metrics listener starting", zap.String("addr", s.srv.Addr))
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics listener failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
