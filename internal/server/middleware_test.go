package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithCORS(t *testing.T) {
	tests := []struct {
		name      string
		origin    string
		method    string
		status    int
		callsNext bool
	}{
		{"GET with wildcard", "*", http.MethodGet, http.StatusOK, true},
		{"POST with specific origin", "https://example.com", http.MethodPost, http.StatusOK, true},
		{"preflight", "*", http.MethodOptions, http.StatusNoContent, false},
		{"error status from next", "*", http.MethodPost, http.StatusBadRequest, true},
	}

	for _, tt := range tests {
		tt := tt // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(tt.name, func(t *testing.T) {
			s := &Server{corsOrigin: tt.origin}

			called := false
			handler := s.withCORS(func(w http.ResponseWriter, r *http.Request) {
				called = true
				assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
				w.WriteHeader(tt.status)
			})

			w := httptest.NewRecorder()
			handler(w, httptest.NewRequest(tt.method, "/depth/stereo", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.origin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
			assert.Equal(t, tt.callsNext, called)
		})
	}
}

func TestInstrument_LabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := &Server{metrics: newHTTPMetrics(reg)}
	handler := s.instrument("/depth/filter", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/depth/filter?x=1", nil))
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/depth/filter/extra", nil))

	w := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(),
		`stereowls_http_requests_total{endpoint="/depth/filter",method="POST",status="Bad Request"} 2`)
}

func TestWithRateLimit(t *testing.T) {
	s := &Server{rateLimiter: NewRateLimiter(RateLimitConfig{RequestsPerMinute: 1})}
	calls := 0
	handler := s.withRateLimit(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	request := func(addr string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/depth/stereo", strings.NewReader("x"))
		req.RemoteAddr = addr
		return req
	}

	w := httptest.NewRecorder()
	handler(w, request("10.0.0.7:5555"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler(w, request("10.0.0.7:5556"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 1, calls)
	assert.Equal(t, ScopeMinute, w.Header().Get("X-RateLimit-Scope"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])
	assert.Equal(t, ScopeMinute, body["scope"])

	w = httptest.NewRecorder()
	handler(w, request("10.0.0.8:5555"))
	assert.Equal(t, http.StatusOK, w.Code, "another client is unaffected")
}

func TestWithRateLimit_DataQuota(t *testing.T) {
	s := &Server{rateLimiter: NewRateLimiter(RateLimitConfig{MaxDataPerDay: 4})}
	handler := s.withRateLimit(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest(http.MethodPost, "/depth/filter", strings.NewReader("too large")))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, ScopeData, w.Header().Get("X-RateLimit-Scope"))
	assert.Equal(t, "4", w.Header().Get("X-RateLimit-Limit"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "quota_exceeded", body["error"])
}

func TestWithRateLimit_Disabled(t *testing.T) {
	s := &Server{}
	called := false
	s.withRateLimit(func(w http.ResponseWriter, r *http.Request) { called = true })(
		httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/depth/stereo", nil))
	assert.True(t, called)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expected   string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:80", "203.0.113.5"},
		{"single forwarded", map[string]string{"X-Forwarded-For": " 203.0.113.9 "}, "10.0.0.1:80", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.1:80", "198.51.100.2"},
		{"remote addr", nil, "192.0.2.1:4321", "192.0.2.1"},
		{"remote addr without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		tt := tt // per-iteration copy (pre-Go 1.22 loop semantics)
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, clientIP(req))
		})
	}
}
