package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"aanmelden/internal/attendance"
	"aanmelden/internal/auth"
	"aanmelden/internal/httpmiddleware"
	"aanmelden/internal/idp"
	"aanmelden/internal/metrics"
	"aanmelden/internal/queue"
)

// LoginProvider runs the member login against the identity provider.
type LoginProvider interface {
	AuthCodeURL(ctx context.Context, state string) (string, error)
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Profile(ctx context.Context, tok *oauth2.Token) (idp.Profile, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps carries everything the HTTP layer talks to.
type Deps struct {
	Service      *attendance.Service
	Queue        queue.Queue
	Login        LoginProvider
	Introspector auth.Introspector
	Allowlist    []string
	CORSOrigins  []string
	JWTIssuer    string
	JWTKey       string
	SessionTTL   time.Duration
	LogoutURL    string
	MacLimiter   *httpmiddleware.TokenBucket
	Health       map[string]HealthCheck
	Logger       *zap.Logger
}

type handlers struct {
	Deps
	log *zap.Logger
}

// NewRouter wires every route of the portal.
func NewRouter(d Deps) *gin.Engine {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if d.SessionTTL <= 0 {
		d.SessionTTL = 12 * time.Hour
	}
	if d.MacLimiter == nil {
		d.MacLimiter = httpmiddleware.NewTokenBucket(120, 120)
	}
	h := &handlers{Deps: d, log: log}

	r := gin.New()
	r.Use(requestLogger(log.Named("http"), "/healthz", "/metrics"))
	r.Use(recovery(log))
	r.Use(metrics.GinMiddleware())
	r.Use(corsMiddleware(d.CORSOrigins))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", h.healthz)

	r.GET("/login", h.login)
	r.GET("/oauth/callback", h.oauthCallback)
	r.GET("/logout", h.logout)

	r.GET("/api/v2/free", h.free)
	r.POST("/api/v1/mac_event", d.MacLimiter.Middleware(httpmiddleware.ClientIP), h.macEvent)

	member := r.Group("/api/v1", auth.MemberAuth(d.JWTKey, d.JWTIssuer, d.Service))
	member.GET("/slots", h.slots)
	member.POST("/register/:day/:pod", h.register)
	member.POST("/register/:day/:pod/:date", h.registerFuture)
	member.POST("/deregister/:day/:pod", h.deregister)
	member.POST("/deregister/:day/:pod/:date", h.deregisterFuture)
	member.POST("/register_manual/:day/:pod/:pk", h.registerManual)
	member.POST("/seen/:pk/:seen", h.markSeen)
	member.GET("/report.xlsx", h.report)
	member.POST("/future", h.future)

	clientAuth := auth.ClientAuth(d.Introspector, d.Allowlist, log.Named("client_auth"))
	machine := r.Group("/api/v2", clientAuth)
	machine.POST("/is_present/:day/:pod/:userid", h.isPresent)
	machine.POST("/are_present/:day/:pod", h.arePresent)
	machine.POST("/seen/:pk/:seen", h.markSeen)
	machine.POST("/future", h.future)
	r.GET("/api/v1/present_since_date/:userid/:year/:month/:day", clientAuth, h.presentSince)

	return r
}

func (h *handlers) healthz(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	degrade := func(name string) {
		body[name] = false
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	for name, check := range h.Health {
		if !check(ctx) {
			degrade(name)
			continue
		}
		body[name] = true
	}
	if sizer, ok := h.Queue.(queue.Sizer); ok {
		n, err := sizer.Len(ctx)
		if err != nil {
			h.log.Warn("queue depth unavailable", zap.Error(err))
			degrade("queue")
		} else {
			metrics.QueueDepth.Set(float64(n))
			body["queue_depth"] = n
		}
	}
	c.JSON(status, body)
}
