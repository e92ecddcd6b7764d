package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"liveorch/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore stores per-key (for example, per IP) rate limiters.
// Entries idle for longer than limiterIdleTTL are dropped on access.
type rateLimiterStore struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	rate      rate.Limit
	burstSize int
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiterStore(r rate.Limit, burst int) *rateLimiterStore {
	return &rateLimiterStore{
		limiters:  make(map[string]*limiterEntry),
		rate:      r,
		burstSize: burst,
		now:       time.Now,
	}
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) > limiterIdleTTL {
		for k, e := range s.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(s.limiters, k)
			}
		}
		s.lastSweep = now
	}

	entry, exists := s.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.rate, s.burstSize)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *rateLimiterStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// clientIP extracts the IP part from the request's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware applies per-IP rate limiting and an optional
// global cap on concurrent requests.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := newRateLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	var inFlight *semaphore.Weighted
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		inFlight = semaphore.NewWeighted(int64(cfg.RateLimiting.HTTP.MaxConcurrent))
	}

	return func(c *gin.Context) {
		if inFlight != nil {
			if !inFlight.TryAcquire(1) {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error": "too many concurrent requests",
				})
				return
			}
			defer inFlight.Release(1)
		}

		if !store.getLimiter(clientIP(c.Request)).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// ConnectionLimiter gates status feed upgrades: connections per minute per
// IP and a global cap on open connections.
type ConnectionLimiter struct {
	store *rateLimiterStore
	open  *semaphore.Weighted
}

func NewConnectionLimiter(cfg *config.Config) *ConnectionLimiter {
	if !cfg.RateLimiting.Enabled {
		return &ConnectionLimiter{}
	}
	ws := cfg.RateLimiting.WebSocket
	l := &ConnectionLimiter{
		store: newRateLimiterStore(rate.Every(time.Minute/time.Duration(ws.ConnectionsPerMinute)), max(ws.Burst, 1)),
	}
	if ws.MaxConcurrent > 0 {
		l.open = semaphore.NewWeighted(int64(ws.MaxConcurrent))
	}
	return l
}

// Acquire returns a release func, or an HTTP status explaining the refusal.
func (l *ConnectionLimiter) Acquire(r *http.Request) (release func(), status int) {
	if l.store != nil && !l.store.getLimiter(clientIP(r)).Allow() {
		return nil, http.StatusTooManyRequests
	}
	if l.open != nil {
		if !l.open.TryAcquire(1) {
			return nil, http.StatusServiceUnavailable
		}
		return func() { l.open.Release(1) }, 0
	}
	return func() {}, 0
}

// NewMessageLimiter returns the per-connection inbound message limiter, or
// nil when rate limiting is off.
func NewMessageLimiter(cfg *config.Config) *rate.Limiter {
	if !cfg.RateLimiting.Enabled {
		return nil
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimiting.WebSocket.MessagesPerSecond), cfg.RateLimiting.WebSocket.Burst)
}
