package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aanmelden/internal/attendance"
)

const (
	principalKey = "principal"
	userKey      = "user"
)

// UserLoader loads the current state of a session's user.
type UserLoader interface {
	User(ctx context.Context, id int64) (attendance.User, error)
}

func bearer(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(authz[len("bearer "):])
	return tok, tok != ""
}

// MemberAuth enforces a member session JWT and loads the user it belongs to.
func MemberAuth(signingKey, issuer string, users UserLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, ok := bearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		user, err := users.User(c.Request.Context(), claims.UserID)
		if err != nil || !user.Active {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unknown user"})
			return
		}
		c.Set(userKey, user)
		c.Set(principalKey, attendance.Principal{User: &user})
		c.Next()
	}
}

// ClientAuth admits machine clients whose introspected client_id is on the allowlist.
func ClientAuth(introspector Introspector, allowlist []string, log *zap.Logger) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowlist))
	for _, id := range allowlist {
		allowed[id] = true
	}
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		tokenStr, ok := bearer(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		res, err := introspector.Introspect(c.Request.Context(), tokenStr)
		if err != nil {
			log.Warn("introspection failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		if !res.Active || !allowed[res.ClientID] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set(principalKey, attendance.Principal{ClientID: res.ClientID})
		c.Next()
	}
}

// PrincipalFrom returns the caller set by MemberAuth or ClientAuth.
func PrincipalFrom(c *gin.Context) attendance.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(attendance.Principal); ok {
			return p
		}
	}
	return attendance.Principal{}
}

// UserFrom returns the member set by MemberAuth.
func UserFrom(c *gin.Context) (attendance.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return attendance.User{}, false
	}
	u, ok := v.(attendance.User)
	return u, ok
}
