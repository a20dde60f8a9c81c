package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Edge limiter defaults.
const (
	DefaultEdgeQPS        = 10
	DefaultEdgeBurst      = 20
	DefaultEdgeIdleTTL    = time.Hour
	DefaultEdgeCleanupInt = 10 * time.Minute
)

type ipLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// EdgeLimiter is a per-client-IP token bucket applied to every HTTP request,
// ahead of the per-identity chat limiter.
type EdgeLimiter struct {
	qps     rate.Limit
	burst   int
	idleTTL time.Duration

	mu       sync.Mutex
	limiters map[string]*ipLimiter
	now      func() time.Time
	logger   *slog.Logger
}

// NewEdgeLimiter creates an EdgeLimiter. Non-positive values fall back to defaults.
func NewEdgeLimiter(qps float64, burst int, logger *slog.Logger) *EdgeLimiter {
	if qps <= 0 {
		qps = DefaultEdgeQPS
	}
	if burst <= 0 {
		burst = DefaultEdgeBurst
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EdgeLimiter{
		qps:      rate.Limit(qps),
		burst:    burst,
		idleTTL:  DefaultEdgeIdleTTL,
		limiters: make(map[string]*ipLimiter),
		now:      time.Now,
		logger:   logger.With("component", "api.EdgeLimiter"),
	}
}

// Allow reports whether a request from ip may proceed.
func (l *EdgeLimiter) Allow(ip string) bool {
	now := l.now()
	l.mu.Lock()
	entry, ok := l.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.qps, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

// Cleanup drops limiters idle longer than the TTL and returns how many were removed.
func (l *EdgeLimiter) Cleanup() int {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, entry := range l.limiters {
		if entry.lastAccess.Before(cutoff) {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Run cleans up idle limiters until ctx is cancelled.
func (l *EdgeLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(DefaultEdgeCleanupInt)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Cleanup(); n > 0 {
				l.logger.Debug("EdgeLimiter.Run: removed idle limiters", "count", n)
			}
		}
	}
}

// Middleware rejects requests over the per-IP rate with 429.
// Behind a trusted proxy the server installs chi's RealIP first, so
// RemoteAddr already holds the forwarded client address.
func (l *EdgeLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.Allow(ip) {
			l.logger.Warn("EdgeLimiter.Middleware: request rejected", "ip", ip, "path", r.URL.Path)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
