package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all hub configuration. It is loaded once in main from the
// environment, then CLI flags overwrite individual fields before anything
// else reads it.
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Logging
	LogLevel string

	// TLS
	TLSEnabled bool
	TLSCert    string
	TLSKey     string
	SelfSigned bool

	// Auth
	NoAuth bool // --no-auth: force authRequired=false regardless of bind address

	// Paths
	DatabasePath  string // <cwd>/c3.db
	ScrollbackDir string // <cwd>/scrollback unless SCROLLBACK_DIR
	HooksDir      string // <cwd>/.c3-hooks
	HomeDir       string
	AppDir        string // $HOME/.agentide
	LicensePath   string // $HOME/.agentide/license.key
	TLSDir        string // $HOME/.agentide/tls
	ExtensionsDir string // $HOME/.agentide/extensions

	// Frontend static files (optional; SPA fallback when present)
	StaticDir string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	appDir := filepath.Join(home, ".agentide")

	return &Config{
		Port:     getEnvInt("PORT", 3000),
		Host:     getEnv("HOST", "127.0.0.1"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabasePath:  filepath.Join(cwd, "c3.db"),
		ScrollbackDir: getEnv("SCROLLBACK_DIR", filepath.Join(cwd, "scrollback")),
		HooksDir:      filepath.Join(cwd, ".c3-hooks"),
		HomeDir:       home,
		AppDir:        appDir,
		LicensePath:   filepath.Join(appDir, "license.key"),
		TLSDir:        filepath.Join(appDir, "tls"),
		ExtensionsDir: filepath.Join(appDir, "extensions"),

		StaticDir: getEnv("STATIC_DIR", ""),
	}, nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// BindAddr returns the host:port the HTTP server listens on.
func (c *Config) BindAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DeriveAuthRequired implements the startup policy: loopback binds run open,
// anything else requires a license unless --no-auth was given.
func (c *Config) DeriveAuthRequired() bool {
	if c.NoAuth {
		return false
	}
	switch c.Host {
	case "127.0.0.1", "::1", "localhost":
		return false
	}
	return true
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
