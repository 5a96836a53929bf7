package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestTokenBucketAllow(t *testing.T) {
	now := time.Unix(0, 0)
	l := NewTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst within capacity must pass")
	}
	if l.Allow("a") {
		t.Fatal("third request must be limited")
	}
	if !l.Allow("b") {
		t.Fatal("keys must not share buckets")
	}

	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Fatal("one token should refill after a second")
	}
	if l.Allow("a") {
		t.Fatal("refill must not exceed elapsed time")
	}

	now = now.Add(time.Hour)
	if !l.Allow("a") || !l.Allow("a") || l.Allow("a") {
		t.Fatal("refill must be capped at capacity")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewTokenBucket(1, 1)
	r := gin.New()
	r.POST("/event", l.Middleware(nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/event", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}
}
