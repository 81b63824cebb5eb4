// Package ratelimit applies a per-client token bucket to the registry API.
// Registry writes fan out as config events to every bus instance, so a
// misbehaving client gets throttled here rather than amplified downstream.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"concord/pkg/metrics"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

func (c *clientLimiter) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *clientLimiter) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen.Before(cutoff)
}

// clientTable maps client IPs to limiters, evicting idle entries so the map
// does not grow with every scanner that ever hit the API.
type clientTable struct {
	cfg      RateLimitConfig
	mu       sync.RWMutex
	limiters map[string]*clientLimiter
}

func newClientTable(cfg RateLimitConfig) *clientTable {
	t := &clientTable{
		cfg:      cfg,
		limiters: make(map[string]*clientLimiter),
	}
	go t.evictLoop()
	return t
}

func (t *clientTable) evictLoop() {
	ticker := time.NewTicker(t.cfg.CleanupInterval)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-t.cfg.MaxAge)
		t.mu.Lock()
		for ip, limiter := range t.limiters {
			if limiter.idleSince(cutoff) {
				delete(t.limiters, ip)
			}
		}
		t.mu.Unlock()
	}
}

func (t *clientTable) get(clientIP string) *clientLimiter {
	t.mu.RLock()
	limiter, ok := t.limiters[clientIP]
	t.mu.RUnlock()
	if ok {
		return limiter
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if limiter, ok = t.limiters[clientIP]; ok {
		return limiter
	}
	limiter = &clientLimiter{
		limiter:  rate.NewLimiter(rate.Limit(t.cfg.RPS), t.cfg.Burst),
		lastSeen: time.Now(),
	}
	t.limiters[clientIP] = limiter
	return limiter
}

func RateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	table := newClientTable(config)
	limitHeader := strconv.Itoa(int(config.RPS))

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		limiter := table.get(clientIP)
		limiter.touch()

		c.Header("X-RateLimit-Limit", limitHeader)

		if !limiter.limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			c.Abort()
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		remaining := limiter.limiter.Burst() - int(limiter.limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}
