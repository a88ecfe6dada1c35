package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sirosfoundation/go-hello-listeners/pkg/config"
)

// PeerRateLimiter throttles requests per peer address using a token bucket
// per peer. Idle peers are dropped periodically.
type PeerRateLimiter struct {
	config config.RateLimitConfig
	logger *zap.Logger

	mu       sync.Mutex
	limiters map[string]*peerLimiter

	idleTimeout     time.Duration
	cleanupInterval time.Duration
	lastCleanup     time.Time
}

type peerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPeerRateLimiter creates a new per-peer rate limiter
func NewPeerRateLimiter(cfg config.RateLimitConfig, logger *zap.Logger) *PeerRateLimiter {
	return &PeerRateLimiter{
		config:          cfg,
		logger:          logger.Named("ratelimit"),
		limiters:        make(map[string]*peerLimiter),
		idleTimeout:     30 * time.Minute,
		cleanupInterval: 10 * time.Minute,
		lastCleanup:     time.Now(),
	}
}

func (r *PeerRateLimiter) getLimiter(peer string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Sub(r.lastCleanup) > r.cleanupInterval {
		r.cleanup(now)
	}

	l, ok := r.limiters[peer]
	if !ok {
		l = &peerLimiter{limiter: rate.NewLimiter(rate.Limit(r.config.RequestsPerSecond), r.config.Burst)}
		r.limiters[peer] = l
	}
	l.lastSeen = now
	return l.limiter
}

// cleanup must be called with r.mu held
func (r *PeerRateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-r.idleTimeout)
	for key, l := range r.limiters {
		if l.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
		}
	}
	r.lastCleanup = now
}

// Allow reports whether a request from peer may proceed
func (r *PeerRateLimiter) Allow(peer string) bool {
	if !r.config.Enabled {
		return true
	}
	return r.getLimiter(peer).Allow()
}

// Len returns the number of tracked peers
func (r *PeerRateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// RateLimit returns a Gin middleware that answers 429 once a peer exceeds its budget
func RateLimit(rl *PeerRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		peer := c.Request.RemoteAddr
		if host, _, err := net.SplitHostPort(peer); err == nil {
			peer = host
		}

		if !rl.Allow(peer) {
			rl.logger.Warn("rate limit exceeded",
				zap.String("peer_address", peer),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.RequestURI()),
			)
			c.String(http.StatusTooManyRequests, "Too Many Requests\n")
			c.Abort()
			return
		}

		c.Next()
	}
}
