package server

import (
	"fmt"
	"sync"
	"time"
)

// Limit scopes reported in LimitError.
const (
	ScopeMinute   = "minute"
	ScopeHour     = "hour"
	ScopeRequests = "requests" // daily request quota
	ScopeData     = "data"     // daily upload quota in bytes
)

// RateLimiter admits depth requests per client using fixed minute and hour
// windows plus calendar-day quotas on requests and uploaded bytes.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     RateLimitConfig
	now     func() time.Time
	clients map[string]*clientUsage
}

type window struct {
	start time.Time
	count int
}

// roll restarts w when it is older than span.
func (w *window) roll(now time.Time, span time.Duration) {
	if w.start.IsZero() || now.Sub(w.start) >= span {
		w.start = now
		w.count = 0
	}
}

type clientUsage struct {
	minute, hour window
	day          time.Time // local midnight of the current quota day
	requests     int
	bytes        int64
	lastSeen     time.Time
}

// Usage is a snapshot of one client's counters.
type Usage struct {
	LastMinute int
	LastHour   int
	Today      int
	BytesToday int64
	LastSeen   time.Time
}

// NewRateLimiter creates a limiter; zero limits in cfg are not enforced.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		now:     time.Now,
		clients: map[string]*clientUsage{},
	}
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Admit records a request from client carrying uploadBytes, or returns a
// *LimitError without counting it.
func (rl *RateLimiter) Admit(client string, uploadBytes int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.clients[client]
	if !ok {
		u = &clientUsage{}
		rl.clients[client] = u
	}
	u.minute.roll(now, time.Minute)
	u.hour.roll(now, time.Hour)
	if today := midnight(now); !today.Equal(u.day) {
		u.day, u.requests, u.bytes = today, 0, 0
	}
	tomorrow := u.day.AddDate(0, 0, 1).Sub(now)

	switch c := rl.cfg; {
	case c.RequestsPerMinute > 0 && u.minute.count >= c.RequestsPerMinute:
		return &LimitError{Scope: ScopeMinute, Limit: int64(c.RequestsPerMinute), Used: int64(u.minute.count),
			RetryAfter: u.minute.start.Add(time.Minute).Sub(now)}
	case c.RequestsPerHour > 0 && u.hour.count >= c.RequestsPerHour:
		return &LimitError{Scope: ScopeHour, Limit: int64(c.RequestsPerHour), Used: int64(u.hour.count),
			RetryAfter: u.hour.start.Add(time.Hour).Sub(now)}
	case c.MaxRequestsPerDay > 0 && u.requests >= c.MaxRequestsPerDay:
		return &LimitError{Scope: ScopeRequests, Limit: int64(c.MaxRequestsPerDay), Used: int64(u.requests),
			RetryAfter: tomorrow}
	case c.MaxDataPerDay > 0 && u.bytes+uploadBytes > c.MaxDataPerDay:
		return &LimitError{Scope: ScopeData, Limit: c.MaxDataPerDay, Used: u.bytes, RetryAfter: tomorrow}
	}

	u.minute.count++
	u.hour.count++
	u.requests++
	u.bytes += uploadBytes
	u.lastSeen = now
	return nil
}

// Usage returns the counters of client; unknown clients report zeros.
func (rl *RateLimiter) Usage(client string) Usage {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	u, ok := rl.clients[client]
	if !ok {
		return Usage{}
	}
	return Usage{
		LastMinute: u.minute.count,
		LastHour:   u.hour.count,
		Today:      u.requests,
		BytesToday: u.bytes,
		LastSeen:   u.lastSeen,
	}
}

// Prune forgets clients idle for longer than maxIdle and returns how many
// were dropped.
func (rl *RateLimiter) Prune(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	dropped := 0
	for id, u := range rl.clients {
		if u.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			dropped++
		}
	}
	return dropped
}

// LimitError reports a rejected request.
type LimitError struct {
	Scope      string
	Limit      int64
	Used       int64
	RetryAfter time.Duration
}

// Quota reports whether a daily quota, rather than a rate window, was hit.
func (e *LimitError) Quota() bool { return e.Scope == ScopeRequests || e.Scope == ScopeData }

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit reached (used %d of %d, retry in %s)",
		e.Scope, e.Used, e.Limit, e.RetryAfter.Round(time.Second))
}
