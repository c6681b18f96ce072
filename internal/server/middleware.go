package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// statusRecorder keeps the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency under the route pattern,
// so arbitrary paths do not create new label values.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r)
		s.metrics.observeRequest(r.Method, route, rec.status, time.Since(start))
	}
}

// withCORS sets the CORS headers and answers preflight requests.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.corsOrigin)
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next(w, r)
	}
}

// withRateLimit rejects requests over the client's limits. The declared
// upload size counts against the daily data quota.
func (s *Server) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next(w, r)
			return
		}

		client := clientIP(r)
		err := s.rateLimiter.Admit(client, max(r.ContentLength, 0))
		if err == nil {
			next(w, r)
			return
		}

		var le *LimitError
		if !errors.As(err, &le) {
			s.writeErrorResponse(w, "rate limiting failed", http.StatusInternalServerError)
			return
		}
		s.metrics.rateLimited(le.Scope)
		slog.Warn("Depth request rejected", "client", client, "path", r.URL.Path, "scope", le.Scope, "limit", le.Limit)
		writeLimitError(w, le)
	}
}

func writeLimitError(w http.ResponseWriter, le *LimitError) {
	kind := "rate_limit_exceeded"
	if le.Quota() {
		kind = "quota_exceeded"
	}
	retry := int(math.Ceil(le.RetryAfter.Seconds()))

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Retry-After", strconv.Itoa(retry))
	h.Set("X-RateLimit-Scope", le.Scope)
	h.Set("X-RateLimit-Limit", strconv.FormatInt(le.Limit, 10))
	h.Set("X-RateLimit-Used", strconv.FormatInt(le.Used, 10))
	w.WriteHeader(http.StatusTooManyRequests)

	body := map[string]any{
		"error":           kind,
		"scope":           le.Scope,
		"limit":           le.Limit,
		"used":            le.Used,
		"retry_after_sec": retry,
		"message":         le.Error(),
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode limit response", "error", err)
	}
}

// clientIP identifies the caller, preferring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
