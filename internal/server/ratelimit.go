package server

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/canopylabs/cropclass/internal/config"
)

// ClientLimiter applies a per-client token bucket. It is an injected,
// explicitly-scoped registry rather than process-global state: capacity is
// fixed, the oldest-idle client is evicted when full, and Reset restores a
// clean slate for tests.
type ClientLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientEntry
	rps      rate.Limit
	burst    int
	capacity int
	now      func() time.Time
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter creates a limiter from config. A nil clock defaults to
// time.Now.
func NewClientLimiter(cfg config.RateLimitConfig, now func() time.Time) *ClientLimiter {
	if now == nil {
		now = time.Now
	}
	capacity := cfg.MaxClients
	if capacity <= 0 {
		capacity = 1024
	}
	return &ClientLimiter{
		clients:  make(map[string]*clientEntry),
		rps:      rate.Limit(cfg.RPS),
		burst:    cfg.Burst,
		capacity: capacity,
		now:      now,
	}
}

// Allow reports whether the identified client may proceed.
func (l *ClientLimiter) Allow(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.clients[clientID]
	if !ok {
		if len(l.clients) >= l.capacity {
			l.evictOldestLocked()
		}
		entry = &clientEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[clientID] = entry
	}
	entry.lastSeen = l.now()
	return entry.limiter.Allow()
}

// evictOldestLocked drops the longest-idle client. Caller holds the lock.
func (l *ClientLimiter) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, entry := range l.clients {
		if oldestID == "" || entry.lastSeen.Before(oldest) {
			oldestID = id
			oldest = entry.lastSeen
		}
	}
	if oldestID != "" {
		delete(l.clients, oldestID)
	}
}

// Reset clears all tracked clients.
func (l *ClientLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients = make(map[string]*clientEntry)
}

// Len returns the number of tracked clients.
func (l *ClientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware rejects over-limit requests with 429.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			writeErrorJSON(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP identifies the caller, preferring the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		for i := 0; i < len(fwd); i++ {
			if fwd[i] == ',' {
				return fwd[:i]
			}
		}
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
