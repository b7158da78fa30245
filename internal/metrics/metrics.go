// Package metrics exposes Prometheus collectors for the HTTP server and the
// bill scanners.
package metrics

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var defaultBuckets = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500}

// scanBuckets cover model round trips, which take seconds rather than milliseconds.
var scanBuckets = []float64{250, 500, 1000, 2500, 5000, 10000, 20000, 30000, 60000, 120000}

// HTTPMetrics groups the collectors observed by Middleware.
type HTTPMetrics struct {
	ReqTotal *prometheus.CounterVec
	ReqDur   *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

// NewHTTPMetrics registers and returns HTTP collectors. A nil registerer
// falls back to the default one.
func NewHTTPMetrics(namespace string, buckets []float64, reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if len(buckets) == 0 {
		buckets = defaultBuckets
	} else {
		buckets = append([]float64(nil), buckets...)
		sort.Float64s(buckets)
	}

	m := &HTTPMetrics{
		ReqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by the server.",
		}, []string{"method", "route", "status"}),
		ReqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency distribution in milliseconds.",
			Buckets:   buckets,
		}, []string{"method", "route"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),
	}

	m.ReqTotal = register(reg, m.ReqTotal)
	m.ReqDur = register(reg, m.ReqDur)
	m.InFlight = register(reg, m.InFlight)
	return m
}

// ScanMetrics counts bill scans per scanner and outcome.
type ScanMetrics struct {
	Total    *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// NewScanMetrics registers and returns scanner collectors.
func NewScanMetrics(namespace string, reg prometheus.Registerer) *ScanMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &ScanMetrics{
		Total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bill_scans_total",
			Help:      "Count of bill scan attempts by scanner and result.",
		}, []string{"scanner", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bill_scan_duration_ms",
			Help:      "Bill scan latency in milliseconds.",
			Buckets:   scanBuckets,
		}, []string{"scanner"}),
	}

	m.Total = register(reg, m.Total)
	m.Duration = register(reg, m.Duration)
	return m
}

// DurationMillis converts a duration to milliseconds for metric observation.
func DurationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// register returns the already registered collector when an identical one
// exists so constructors can be called more than once per registry.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}

	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	panic(fmt.Errorf("registering collector: %w", err))
}
