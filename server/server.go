package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/api"
	"github.com/agentide/c3/auth"
	"github.com/agentide/c3/config"
	"github.com/agentide/c3/db"
	"github.com/agentide/c3/log"
	"github.com/agentide/c3/ports"
	"github.com/agentide/c3/session"
	"github.com/agentide/c3/term"
	"github.com/agentide/c3/tunnel"
)

// Server owns and coordinates all hub components
type Server struct {
	cfg *config.Config

	// Components (owned by server)
	store      *db.Store
	auth       *auth.Service
	tunnels    *tunnel.Manager
	mux        *term.Multiplexer
	extensions *term.ExtensionManager
	sessions   *session.Manager
	scheduler  *session.Scheduler
	scanner    *ports.Scanner

	// Shutdown context - cancelled when the hub is shutting down.
	// Long-running handlers (WebSocket) should listen to this.
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	// HTTP
	router *gin.Engine
	http   *http.Server
}

// New creates a new server with all components initialized
func New(cfg *config.Config) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:            cfg,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
	}

	// 1. Open database
	log.Info().Str("path", cfg.DatabasePath).Msg("initializing database")
	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s.store = store

	// 2. Create auth service and load any license installed via `c3 activate`
	authRequired := cfg.DeriveAuthRequired()
	secure := cfg.TLSEnabled || cfg.SelfSigned
	authSvc, err := auth.NewService(store, secure, authRequired)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}
	s.auth = authSvc
	s.auth.CheckBootLicense(cfg.LicensePath)

	// 3. Create terminal multiplexer (owns scrollback persistence)
	log.Info().Str("dir", cfg.ScrollbackDir).Msg("initializing terminal multiplexer")
	mux, err := term.NewMultiplexer(cfg.ScrollbackDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create multiplexer: %w", err)
	}
	s.mux = mux

	// 4. Create extension manager (watches the extensions dir)
	s.extensions = term.NewExtensionManager(cfg.ExtensionsDir)

	// 5. Create tunnel manager. Worker status flows back into the session
	// manager; the callback is only invoked once workers start connecting.
	s.tunnels = tunnel.NewManager(s.onWorkerStatus)

	// 6. Create session manager
	log.Info().Msg("initializing session manager")
	s.sessions = session.NewManager(session.Options{
		Store:      store,
		Mux:        mux,
		Tunnels:    s.tunnels,
		Extensions: s.extensions,
		HooksDir:   cfg.HooksDir,
		HomeDir:    cfg.HomeDir,
		HubPort:    cfg.Port,
	})

	// 7. Reconcile rows left behind by a previous run
	if err := s.sessions.RecoverAtBoot(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to recover sessions: %w", err)
	}

	// 8. Create scheduler and port scanner
	s.scheduler = session.NewScheduler(store, s.sessions, mux)
	s.scanner = ports.NewScanner(store, s.tunnels, mux)

	// 9. Setup HTTP router
	s.setupRouter()

	log.Info().Msg("server initialized successfully")
	return s, nil
}

// onWorkerStatus forwards tunnel state changes to the session manager.
func (s *Server) onWorkerStatus(workerID, status string) {
	if s.sessions != nil {
		s.sessions.HandleWorkerStatus(workerID, status)
	}
}

// setupRouter creates and configures the Gin router
func (s *Server) setupRouter() {
	// Set Gin mode
	if !s.cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router
	s.router = gin.New()

	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(log.GinLogger())

	// CORS for development (UI dev server runs on its own port)
	if s.cfg.IsDevelopment() {
		s.router.Use(s.corsMiddleware())
	}

	// Browser hardening headers
	s.router.Use(api.SecurityHeaders())

	// Gzip compression (skip the WebSocket endpoint - protocol upgrade)
	s.router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{
		"/ws",
	})))

	// Trust proxy headers
	s.router.SetTrustedProxies(nil)

	// Ignore .well-known requests
	s.router.GET("/.well-known/*path", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	// API routes
	handlers := api.NewHandlers(api.Options{
		Store:       s.store,
		Auth:        s.auth,
		Sessions:    s.sessions,
		Mux:         s.mux,
		Tunnels:     s.tunnels,
		Ports:       s.scanner,
		HomeDir:     s.cfg.HomeDir,
		ShutdownCtx: s.shutdownCtx,
	})
	api.SetupRoutes(s.router, handlers)

	// Bundled UI, when present
	if s.cfg.StaticDir != "" {
		s.setupStatic()
	}
}

// setupStatic serves the bundled single-page UI. Unknown paths outside /api
// and /ws fall back to index.html so client-side routing works.
func (s *Server) setupStatic() {
	staticDir := s.cfg.StaticDir
	index := filepath.Join(staticDir, "index.html")

	s.router.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.Status(http.StatusNotFound)
			return
		}
		// Clean as a rooted path so ".." cannot climb out of staticDir.
		p := path.Clean(c.Request.URL.Path)
		if strings.HasPrefix(p, "/api/") || strings.HasPrefix(p, "/ws/") {
			c.Status(http.StatusNotFound)
			return
		}
		full := filepath.Join(staticDir, filepath.FromSlash(strings.TrimPrefix(p, "/")))
		if info, err := os.Stat(full); err == nil && !info.IsDir() {
			c.File(full)
			return
		}
		c.File(index)
	})
}

// corsMiddleware handles CORS for development environments
func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:5173": true, // vite dev
			"http://localhost:4173": true, // vite preview
		}

		if allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			// The auth cookie must survive the cross-origin dev setup
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, HEAD, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Start starts all background services and the HTTP server
func (s *Server) Start() error {
	log.Info().Msg("starting server components")

	// Idle detection and queue dispatch
	s.mux.StartPoller()
	go s.scheduler.Run()

	// Port sweeps
	s.scanner.Run()

	// Dial configured remote workers in the background; the supervisor
	// keeps retrying until shutdown.
	go s.sessions.ConnectAllWorkers(s.shutdownCtx)

	// Create HTTP server
	s.http = &http.Server{
		Addr:     s.cfg.BindAddr(),
		Handler:  s.router,
		ErrorLog: log.StdErrorLogger(), // Route Go's internal HTTP errors through zerolog
	}

	scheme := "http"
	if s.cfg.TLSEnabled || s.cfg.SelfSigned {
		scheme = "https"
	}
	log.Info().
		Str("addr", s.http.Addr).
		Str("scheme", scheme).
		Str("env", s.cfg.Env).
		Bool("authRequired", s.auth.AuthRequired()).
		Msg("HTTP server starting")

	// Start HTTP server (blocks)
	if s.cfg.TLSEnabled || s.cfg.SelfSigned {
		certFile, keyFile, err := s.tlsFiles()
		if err != nil {
			return err
		}
		return s.http.ListenAndServeTLS(certFile, keyFile)
	}
	return s.http.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down server")

	// 1. Cancel the shutdown context to signal long-running handlers
	// (WebSocket) so they close before we stop the HTTP server
	log.Info().Msg("signaling handlers to stop")
	s.shutdownCancel()

	// Give handlers a moment to process the cancellation and close
	// connections. This prevents "response.WriteHeader on hijacked
	// connection" warnings.
	time.Sleep(100 * time.Millisecond)

	// 2. Shutdown HTTP server (stop accepting new requests and wait for existing ones)
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}

	// Stop background services (in reverse order of startup)
	s.scheduler.Stop()
	s.scanner.Stop()

	// Terminate live sessions with a drain grace and flush scrollback
	s.mux.Shutdown()

	// Tear down SSH tunnels and the extension watcher
	s.tunnels.DestroyAll()
	s.extensions.Close()

	// Close database last
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Error().Err(err).Msg("database close error")
			return err
		}
	}

	log.Info().Msg("server shutdown complete")
	return nil
}

// Component accessors
func (s *Server) Store() *db.Store                 { return s.store }
func (s *Server) Auth() *auth.Service              { return s.auth }
func (s *Server) Sessions() *session.Manager       { return s.sessions }
func (s *Server) Router() *gin.Engine              { return s.router }
func (s *Server) ShutdownContext() context.Context { return s.shutdownCtx }
