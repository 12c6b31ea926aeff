package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the auth
// subsystem.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration    *prometheus.HistogramVec
	requestTotal       *prometheus.CounterVec
	loginTotal         *prometheus.CounterVec
	tokenVerifications *prometheus.CounterVec
	blacklistLookups   *prometheus.CounterVec
	sweepDeleted       prometheus.Counter
}

// NewMetricsService registers the auth Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	loginTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome",
	}, []string{"result"})

	tokenVerifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_verifications_total",
		Help: "Token verifications by kind and outcome",
	}, []string{"kind", "result"})

	blacklistLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_blacklist_lookups_total",
		Help: "Blacklist lookups by outcome",
	}, []string{"result"})

	sweepDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_token_sweep_deleted_total",
		Help: "Expired token rows removed by the background sweep",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginTotal, tokenVerifications, blacklistLookups, sweepDeleted, goroutines)

	return &MetricsService{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:    requestDuration,
		requestTotal:       requestTotal,
		loginTotal:         loginTotal,
		tokenVerifications: tokenVerifications,
		blacklistLookups:   blacklistLookups,
		sweepDeleted:       sweepDeleted,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// ObserveLogin records a login attempt outcome.
func (m *MetricsService) ObserveLogin(ok bool) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(resultLabel(ok)).Inc()
}

// ObserveTokenVerification records a verification outcome for the given
// token kind.
func (m *MetricsService) ObserveTokenVerification(kind string, ok bool) {
	if m == nil {
		return
	}
	m.tokenVerifications.WithLabelValues(kind, resultLabel(ok)).Inc()
}

// ObserveBlacklistLookup records a blacklist lookup outcome.
func (m *MetricsService) ObserveBlacklistLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.blacklistLookups.WithLabelValues("hit").Inc()
	} else {
		m.blacklistLookups.WithLabelValues("miss").Inc()
	}
}

// ObserveTokenSweep records rows removed by a sweep run.
func (m *MetricsService) ObserveTokenSweep(deleted int64) {
	if m == nil || deleted <= 0 {
		return
	}
	m.sweepDeleted.Add(float64(deleted))
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
