package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/auth"
)

// RequireAuth gates protected routes on the session cookie. When the hub
// binds to loopback, auth is derived off and every request passes.
func RequireAuth(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !svc.AuthRequired() {
			c.Next()
			return
		}
		if _, err := svc.VerifyRequest(c.Request); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"code":  CodeUnauthorized,
			})
			return
		}
		c.Next()
	}
}

// SecurityHeaders sets the browser hardening headers on every response. The
// UI is served same-origin, so the CSP stays narrow; ws: covers the terminal
// socket behind plain TLS-less local binds.
func SecurityHeaders() gin.HandlerFunc {
	const csp = "default-src 'self'; img-src 'self' data:; style-src 'self' 'unsafe-inline'; connect-src 'self' ws: wss:; frame-ancestors 'none'"
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", csp)
		c.Next()
	}
}

// LoopbackOnly admits hook callbacks only from the hub's own host while auth
// is required. The agent subprocess posts hook events without a session
// cookie; restricting the source address keeps that path closed to the
// network. The check reads RemoteAddr directly so forwarded headers cannot
// spoof it.
func LoopbackOnly(svc *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !svc.AuthRequired() {
			c.Next()
			return
		}
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "hook events are accepted from the hub host only",
				"code":  CodeForbidden,
			})
			return
		}
		c.Next()
	}
}

// RateLimitActivation rejects activation attempts from IPs that have failed
// too often. Failures are recorded by the handler, not here; a blocked
// request gets 429 with the remaining window.
func RateLimitActivation(limiter *auth.ActivationLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		blocked, retryAfter := limiter.Check(ip)
		if blocked {
			secs := int(retryAfter / time.Second)
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "too many failed activation attempts",
				"code":       CodeRateLimited,
				"retryAfter": secs,
			})
			return
		}
		c.Next()
	}
}
