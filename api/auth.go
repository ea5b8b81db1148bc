package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/auth"
)

// Activate handles POST /api/auth/activate. A valid key is persisted and
// answered with a session cookie; an invalid one counts against the caller's
// rate-limit window.
func (h *Handlers) Activate(c *gin.Context) {
	var body struct {
		LicenseKey string `json:"licenseKey"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.LicenseKey == "" {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "licenseKey is required")
		return
	}

	payload, cookie, err := h.auth.Activate(body.LicenseKey)
	if err != nil {
		if errors.Is(err, auth.ErrBadFormat) || errors.Is(err, auth.ErrBadSignature) || errors.Is(err, auth.ErrExpired) {
			h.auth.Limiter.RecordFailure(c.ClientIP())
		}
		respondError(c, err)
		return
	}

	http.SetCookie(c.Writer, cookie)
	c.JSON(http.StatusOK, gin.H{
		"email":       payload.Email,
		"plan":        payload.Plan,
		"maxSessions": payload.MaxSessions,
		"expiresAt":   payload.ExpiresAt,
	})
}

// AuthStatus handles GET /api/auth/status. It answers for authenticated and
// unauthenticated callers alike; the activation gate polls it, so it must
// never 401.
func (h *Handlers) AuthStatus(c *gin.Context) {
	authenticated := true
	if h.auth.AuthRequired() {
		_, err := h.auth.VerifyRequest(c.Request)
		authenticated = err == nil
	}

	out := gin.H{
		"authRequired":  h.auth.AuthRequired(),
		"authenticated": authenticated,
	}
	if cfg, err := h.auth.AuthConfig(); err == nil && cfg.LicenseEmail != nil {
		out["email"] = *cfg.LicenseEmail
		if cfg.LicensePlan != nil {
			out["plan"] = *cfg.LicensePlan
		}
		if cfg.LicenseExpiresAt != nil {
			out["licenseExpiresAt"] = *cfg.LicenseExpiresAt
		}
	}
	c.JSON(http.StatusOK, out)
}

// Logout handles POST /api/auth/logout by expiring the session cookie. The
// license itself stays installed; re-activation is not required.
func (h *Handlers) Logout(c *gin.Context) {
	http.SetCookie(c.Writer, h.auth.Logout())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
