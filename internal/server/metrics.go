package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// httpMetrics holds the front-end collectors. A nil *httpMetrics records
// nothing.
type httpMetrics struct {
	// HTTP request metrics
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	// Depth processing metrics
	depthRequestsTotal *prometheus.CounterVec

	// Rate limiting metrics
	rateLimitHits *prometheus.CounterVec

	// File upload metrics
	uploadSizeBytes prometheus.Histogram

	// WebSocket metrics
	websocketConnections   prometheus.Gauge
	websocketMessagesTotal *prometheus.CounterVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	f := promauto.With(reg)
	return &httpMetrics{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stereowls_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stereowls_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		depthRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stereowls_depth_requests_total",
				Help: "Total number of depth requests",
			},
			[]string{"type", "status"}, // type: stereo, filter, websocket_stereo, websocket_filter
		),
		rateLimitHits: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stereowls_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"type"}, // type: minute, hour, requests, data
		),
		uploadSizeBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "stereowls_upload_size_bytes",
				Help:    "Size of uploaded request bodies in bytes",
				Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
			},
		),
		websocketConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "stereowls_websocket_active_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		websocketMessagesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stereowls_websocket_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction"}, // direction: sent, received
		),
	}
}

func (m *httpMetrics) observeRequest(method, endpoint string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
	m.requestDuration.WithLabelValues(method, endpoint).Observe(d.Seconds())
}

func (m *httpMetrics) depthRequest(kind string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.depthRequestsTotal.WithLabelValues(kind, status).Inc()
}

func (m *httpMetrics) rateLimited(kind string) {
	if m == nil {
		return
	}
	m.rateLimitHits.WithLabelValues(kind).Inc()
}

func (m *httpMetrics) upload(size int64) {
	if m == nil || size <= 0 {
		return
	}
	m.uploadSizeBytes.Observe(float64(size))
}

func (m *httpMetrics) websocketOpened() func() {
	if m == nil {
		return func() {}
	}
	m.websocketConnections.Inc()
	return m.websocketConnections.Dec
}

func (m *httpMetrics) websocketMessage(direction string) {
	if m == nil {
		return
	}
	m.websocketMessagesTotal.WithLabelValues(direction).Inc()
}
