package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

// ByClientIP charges requests to the caller's IP.
func ByClientIP(c *gin.Context) string { return c.ClientIP() }

// BySessionParam charges requests to the :session_id route parameter.
func BySessionParam(c *gin.Context) string { return c.Param("session_id") }

// RateLimiter implements a simple in-process token bucket rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // Tokens per interval
	interval time.Duration // Refill interval
	key      KeyFunc
	now      func() time.Time
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a RateLimiter (e.g., 10 requests per minute) keyed
// by client IP.
func NewRateLimiter(rate int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		interval: interval,
		key:      ByClientIP,
		now:      time.Now,
	}
}

// WithKey changes the bucket selector.
func (rl *RateLimiter) WithKey(key KeyFunc) *RateLimiter {
	rl.key = key
	return rl
}

// StartCleanup drops idle buckets every minute until ctx is cancelled.
func (rl *RateLimiter) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.cleanup()
			}
		}
	}()
}

// Allow takes one token from the bucket for key.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.visitors[key]
	if !exists {
		v = &visitor{tokens: rl.rate, lastSeen: now}
		rl.visitors[key] = v
	}

	// Refill tokens based on elapsed time.
	elapsed := now.Sub(v.lastSeen)
	refill := int(elapsed/rl.interval) * rl.rate
	if refill > 0 {
		v.tokens += refill
		if v.tokens > rl.rate {
			v.tokens = rl.rate
		}
		v.lastSeen = now
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// Middleware returns a Gin middleware that rate-limits requests.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(rl.key(c)) {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, v := range rl.visitors {
		if now.Sub(v.lastSeen) > 3*rl.interval {
			delete(rl.visitors, key)
		}
	}
}

// SessionEventLimiter caps security event reports per session with a fixed
// one-minute window in Redis, so the cap holds across every API node.
type SessionEventLimiter struct {
	rdb   *redis.Client
	limit int
	log   zerolog.Logger
}

// NewSessionEventLimiter creates a SessionEventLimiter allowing limit reports
// per session per minute.
func NewSessionEventLimiter(rdb *redis.Client, limit int, log zerolog.Logger) *SessionEventLimiter {
	return &SessionEventLimiter{
		rdb:   rdb,
		limit: limit,
		log:   log.With().Str("component", "event_rate_limiter").Logger(),
	}
}

// Allow counts one report against the session's current window.
func (l *SessionEventLimiter) Allow(ctx context.Context, sessionID string) (bool, error) {
	key := config.CacheKey.SessionEventRateKey(sessionID)

	n, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, key, time.Minute).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(l.limit), nil
}

// Middleware rejects reports over the limit. A Redis outage fails open:
// the event ledger itself deduplicates and the limiter only sheds load.
func (l *SessionEventLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Param("session_id")
		if l.limit <= 0 || sessionID == "" {
			c.Next()
			return
		}

		ok, err := l.Allow(c.Request.Context(), sessionID)
		if err != nil {
			l.log.Warn().Err(err).Str("session_id", sessionID).Msg("Rate limiter unavailable, allowing request")
			c.Next()
			return
		}
		if !ok {
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}
