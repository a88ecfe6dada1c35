package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-hello-listeners/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestPeerRateLimiter_Allow(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name        string
		burst       int
		requests    int
		wantAllowed int
	}{
		{"allows up to burst size", 5, 5, 5},
		{"blocks after burst exceeded", 3, 5, 3},
		{"single request allowed", 10, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewPeerRateLimiter(config.RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 0.001,
				Burst:             tt.burst,
			}, logger)

			allowed := 0
			for i := 0; i < tt.requests; i++ {
				if rl.Allow("127.0.0.1") {
					allowed++
				}
			}
			assert.Equal(t, tt.wantAllowed, allowed)
		})
	}
}

func TestPeerRateLimiter_Disabled(t *testing.T) {
	rl := NewPeerRateLimiter(config.RateLimitConfig{Enabled: false, RequestsPerSecond: 0.001, Burst: 1}, zap.NewNop())

	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("127.0.0.1"))
	}
	assert.Equal(t, 0, rl.Len())
}

func TestPeerRateLimiter_PeersAreIndependent(t *testing.T) {
	rl := NewPeerRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}, zap.NewNop())

	assert.True(t, rl.Allow("127.0.0.1"))
	assert.False(t, rl.Allow("127.0.0.1"))
	assert.True(t, rl.Allow("::1"))
	assert.Equal(t, 2, rl.Len())
}

func TestPeerRateLimiter_CleanupDropsIdlePeers(t *testing.T) {
	rl := NewPeerRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 1, Burst: 1}, zap.NewNop())
	rl.Allow("127.0.0.1")

	rl.mu.Lock()
	rl.limiters["127.0.0.1"].lastSeen = time.Now().Add(-time.Hour)
	rl.lastCleanup = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.Allow("::1")
	assert.Equal(t, 1, rl.Len())
}

func TestPeerRateLimiter_Concurrent(t *testing.T) {
	rl := NewPeerRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 50}, zap.NewNop())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("127.0.0.1") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestRateLimit_Middleware(t *testing.T) {
	rl := NewPeerRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 2}, zap.NewNop())

	router := gin.New()
	router.Use(RateLimit(rl))
	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/any", nil)
		req.RemoteAddr = "192.0.2.7:40000"
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// a different port on the same host shares the bucket
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/any", nil)
	req.RemoteAddr = "192.0.2.7:40001"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
