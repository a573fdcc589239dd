package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterStaleThreshold  = 10 * time.Minute
)

// rateLimiter keys a token bucket per client IP. Stale buckets are swept
// opportunistically inside allow, so no background goroutine is needed.
type rateLimiter struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	limit       rate.Limit
	burst       int
	lastCleanup time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter builds a limiter refilling r tokens per second with the
// given per-IP burst allowance.
func newRateLimiter(r float64, burst int) *rateLimiter {
	return &rateLimiter{
		visitors:    make(map[string]*visitor),
		limit:       rate.Limit(r),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

// allow consumes one token from ip's bucket, creating the bucket on first
// sight.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > rateLimiterCleanupInterval {
		rl.sweepStale(now)
	}

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.Allow()
}

// sweepStale drops buckets idle past the stale threshold. Caller holds mu.
func (rl *rateLimiter) sweepStale(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rateLimiterStaleThreshold {
			delete(rl.visitors, ip)
		}
	}
	rl.lastCleanup = now
}

// rateLimitMiddleware rejects requests from IPs that have exhausted their
// bucket with 429 and a Retry-After hint.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the address the limiter keys on.
//
// Proxy headers are consulted only when trustProxy is set; otherwise anyone
// could spread their requests across arbitrary buckets by forging headers.
// Candidate values must survive net.ParseIP so only real addresses become
// limiter keys.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		for _, candidate := range proxyHops(r) {
			if ip := net.ParseIP(candidate); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// proxyHops lists the client addresses a trusted reverse proxy reported, in
// preference order: X-Real-IP carries a single value, X-Forwarded-For's
// leftmost entry is the originating client.
func proxyHops(r *http.Request) []string {
	hops := make([]string, 0, 2)
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		hops = append(hops, strings.TrimSpace(xri))
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		hops = append(hops, strings.TrimSpace(first))
	}
	return hops
}
