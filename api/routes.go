package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes. Middleware that applies to the whole
// engine (recovery, logging, headers, gzip) is installed by the server before
// this runs; here only the per-group gates are added.
func SetupRoutes(r *gin.Engine, h *Handlers) {
	// The proxy route carries a full URL in one path segment. Match on the
	// raw path so escaped slashes survive routing; the handler unescapes.
	r.UseRawPath = true
	r.UnescapePathValues = false

	api := r.Group("/api")

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Auth routes stay open: the activation gate must be reachable before a
	// cookie exists. Activation alone sits behind the failure rate limiter.
	api.POST("/auth/activate", RateLimitActivation(h.auth.Limiter), h.Activate)
	api.GET("/auth/status", h.AuthStatus)
	api.POST("/auth/logout", h.Logout)

	// Hook callbacks come from agent subprocesses, which hold no cookie.
	hooks := api.Group("/hooks", LoopbackOnly(h.auth))
	hooks.POST("/event", h.HookEvent)

	protected := api.Group("", RequireAuth(h.auth))

	// Settings
	protected.GET("/settings", h.GetSettings)
	protected.PATCH("/settings", h.UpdateSettings)

	// Workers
	protected.GET("/workers", h.ListWorkers)
	protected.POST("/workers", h.CreateWorker)
	protected.PUT("/workers/:id", h.UpdateWorker)
	protected.DELETE("/workers/:id", h.DeleteWorker)
	protected.POST("/workers/:id/test", h.TestWorker)

	// Sessions
	protected.GET("/sessions", h.ListSessions)
	protected.POST("/sessions", h.CreateSession)
	protected.GET("/sessions/:id", h.GetSession)
	protected.PATCH("/sessions/:id", h.UpdateSession)
	protected.DELETE("/sessions/:id", h.DeleteSession)
	protected.POST("/sessions/:id/continue", h.ContinueSession)
	protected.POST("/sessions/:id/kill", h.KillSession)
	protected.POST("/sessions/:id/input", h.SessionInput)

	// Session workspace views
	protected.GET("/sessions/:id/files", h.ListSessionFiles)
	protected.GET("/sessions/:id/files/content", h.SessionFileContent)
	protected.GET("/sessions/:id/diff", h.SessionDiff)
	protected.GET("/sessions/:id/ports", h.SessionPorts)
	protected.GET("/sessions/:id/proxy-url/:encodedUrl", h.ProxyURL)

	// Review comments
	protected.GET("/sessions/:id/comments", h.ListComments)
	protected.POST("/sessions/:id/comments", h.CreateComment)
	protected.PUT("/comments/:id", h.UpdateComment)
	protected.DELETE("/comments/:id", h.DeleteComment)

	// Projects
	protected.GET("/projects", h.ListProjects)
	protected.POST("/projects", h.CreateProject)
	protected.PUT("/projects/:id", h.UpdateProject)
	protected.DELETE("/projects/:id", h.DeleteProject)

	// Directory browsing for the new-session picker
	protected.GET("/directories", h.GetDirectories)

	// Terminal stream; auth happens in the handler, before the upgrade.
	r.GET("/ws/sessions/:id", h.SessionSocket)
}
