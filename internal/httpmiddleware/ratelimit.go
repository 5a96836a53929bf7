package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// TokenBucket is an in-memory per-key rate limiter.
type TokenBucket struct {
	capacity float64
	perSec   float64
	mu       sync.Mutex
	state    map[string]*bucket
	now      func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates limiter with capacity tokens refilled at perMinute.
func NewTokenBucket(capacity, perMinute int) *TokenBucket {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &TokenBucket{
		capacity: float64(capacity),
		perSec:   float64(perMinute) / 60,
		state:    make(map[string]*bucket),
		now:      time.Now,
	}
}

// KeyFunc selects the bucket for a request.
type KeyFunc func(c *gin.Context) string

// ClientIP buckets requests per remote address.
func ClientIP(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

// Middleware returns gin handler enforcing per-key limits.
func (l *TokenBucket) Middleware(key KeyFunc) gin.HandlerFunc {
	if key == nil {
		key = ClientIP
	}
	return func(c *gin.Context) {
		if !l.Allow(key(c)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

// Allow takes a token for key when one is available.
func (l *TokenBucket) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		l.sweep(now)
		return true
	}
	b.tokens += now.Sub(b.last).Seconds() * l.perSec
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// sweep drops buckets that have been full long enough to be indistinguishable from new ones.
func (l *TokenBucket) sweep(now time.Time) {
	if len(l.state) < 1024 || l.perSec <= 0 {
		return
	}
	idle := time.Duration(l.capacity/l.perSec*float64(time.Second)) + time.Minute
	for k, b := range l.state {
		if now.Sub(b.last) > idle {
			delete(l.state, k)
		}
	}
}
