package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"aanmelden/internal/auth"
)

const stateCookie = "aanmelden_oauth_state"

func (h *handlers) denied(c *gin.Context, stage string, err error) {
	h.log.Warn("login denied", zap.String("request_id", requestID(c)), zap.String("stage", stage), zap.Error(err))
	c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
}

// login starts the authorization code flow at the identity provider.
func (h *handlers) login(c *gin.Context) {
	state := uuid.NewString()
	target, err := h.Login.AuthCodeURL(c.Request.Context(), state)
	if err != nil {
		h.denied(c, "authorize", err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(stateCookie, state, int((10 * time.Minute).Seconds()), "/", "", c.Request.TLS != nil, true)
	c.Redirect(http.StatusFound, target)
}

// oauthCallback finishes the login, syncs the local user and hands out a session.
func (h *handlers) oauthCallback(c *gin.Context) {
	state, err := c.Cookie(stateCookie)
	if err != nil || state == "" || state != c.Query("state") {
		h.denied(c, "state", err)
		return
	}
	c.SetCookie(stateCookie, "", -1, "/", "", c.Request.TLS != nil, true)

	code := c.Query("code")
	if code == "" {
		h.denied(c, "code", nil)
		return
	}
	ctx := c.Request.Context()
	tok, err := h.Login.Exchange(ctx, code)
	if err != nil {
		h.denied(c, "exchange", err)
		return
	}
	profile, err := h.Login.Profile(ctx, tok)
	if err != nil {
		h.denied(c, "profile", err)
		return
	}
	user, err := h.Service.SyncUser(ctx, profile.Identity())
	if err != nil {
		h.fail(c, err)
		return
	}
	if !user.Active {
		h.denied(c, "inactive", nil)
		return
	}
	sess, err := auth.Issue(user.ID, user.Username, string(user.Role), h.JWTIssuer, h.JWTKey, h.SessionTTL)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("member logged in", zap.Int64("user_id", user.ID), zap.String("role", string(user.Role)))
	c.JSON(http.StatusOK, gin.H{
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt,
		"user":       user,
		"redirect":   "/",
	})
}

// logout sends the browser to the provider's logout page.
func (h *handlers) logout(c *gin.Context) {
	target := h.LogoutURL
	if target == "" {
		target = "/"
	}
	c.Redirect(http.StatusFound, target)
}
