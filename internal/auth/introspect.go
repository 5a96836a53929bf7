package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"aanmelden/internal/idp"
)

// Introspector resolves a machine bearer token.
type Introspector interface {
	Introspect(ctx context.Context, token string) (idp.Introspection, error)
}

// CachedIntrospector remembers introspection answers for a bounded time so
// machine clients do not trigger a provider round trip per request.
type CachedIntrospector struct {
	upstream Introspector
	cache    *expirable.LRU[string, idp.Introspection]
	now      func() time.Time
}

func NewCachedIntrospector(upstream Introspector, size int, ttl time.Duration) *CachedIntrospector {
	if size <= 0 {
		size = 256
	}
	return &CachedIntrospector{
		upstream: upstream,
		cache:    expirable.NewLRU[string, idp.Introspection](size, nil, ttl),
		now:      time.Now,
	}
}

func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Introspect serves cached answers until they expire. Upstream errors are not cached.
func (c *CachedIntrospector) Introspect(ctx context.Context, token string) (idp.Introspection, error) {
	key := cacheKey(token)
	if res, ok := c.cache.Get(key); ok {
		if res.Expired(c.now()) {
			c.cache.Remove(key)
			return idp.Introspection{}, nil
		}
		return res, nil
	}
	res, err := c.upstream.Introspect(ctx, token)
	if err != nil {
		return idp.Introspection{}, err
	}
	c.cache.Add(key, res)
	return res, nil
}
