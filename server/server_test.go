package server

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentide/c3/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	app := filepath.Join(base, ".agentide")
	return &config.Config{
		Port:          0,
		Host:          "127.0.0.1",
		Env:           "production",
		LogLevel:      "error",
		DatabasePath:  filepath.Join(base, "c3.db"),
		ScrollbackDir: filepath.Join(base, "scrollback"),
		HooksDir:      filepath.Join(base, ".c3-hooks"),
		HomeDir:       base,
		AppDir:        app,
		LicensePath:   filepath.Join(app, "license.key"),
		TLSDir:        filepath.Join(app, "tls"),
		ExtensionsDir: filepath.Join(app, "extensions"),
	}
}

// newTestServer boots the full component graph and starts the background
// loops the way Start does, minus the listening socket.
func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.mux.StartPoller()
	go s.scheduler.Run()
	s.scanner.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func TestServerBootAndShutdown(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	w := get(t, s, "/api/auth/status")
	if w.Code != http.StatusOK {
		t.Fatalf("auth status = %d, want 200", w.Code)
	}
	// Loopback bind derives auth off.
	if !strings.Contains(w.Body.String(), `"authRequired":false`) {
		t.Errorf("unexpected status body: %s", w.Body.String())
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}

	if w := get(t, s, "/.well-known/anything"); w.Code != http.StatusNotFound {
		t.Errorf(".well-known = %d, want 404", w.Code)
	}
	if w := get(t, s, "/api/health"); w.Code != http.StatusOK {
		t.Errorf("health = %d, want 200", w.Code)
	}
}

func TestServerServesBundledUI(t *testing.T) {
	cfg := testConfig(t)
	cfg.StaticDir = t.TempDir()
	index := "<!doctype html><title>c3</title>"
	if err := os.WriteFile(filepath.Join(cfg.StaticDir, "index.html"), []byte(index), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.StaticDir, "assets"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfg.StaticDir, "assets", "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newTestServer(t, cfg)

	if w := get(t, s, "/assets/app.js"); w.Code != http.StatusOK || w.Body.String() != "console.log(1)" {
		t.Errorf("asset = %d %q", w.Code, w.Body.String())
	}
	// Client-side routes fall back to the SPA shell.
	if w := get(t, s, "/sessions/123"); w.Code != http.StatusOK || w.Body.String() != index {
		t.Errorf("spa fallback = %d %q", w.Code, w.Body.String())
	}
	// API misses never fall back.
	if w := get(t, s, "/api/nope"); w.Code != http.StatusNotFound {
		t.Errorf("api miss = %d, want 404", w.Code)
	}
	// Traversal attempts resolve inside the static dir.
	if w := get(t, s, "/../../etc/passwd"); w.Code != http.StatusOK || w.Body.String() != index {
		t.Errorf("traversal = %d %q", w.Code, w.Body.String())
	}
}

func TestSelfSignedCertificate(t *testing.T) {
	cfg := testConfig(t)
	cfg.SelfSigned = true
	s := &Server{cfg: cfg}

	certFile, keyFile, err := s.tlsFiles()
	if err != nil {
		t.Fatalf("tlsFiles: %v", err)
	}
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		t.Fatal(err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		t.Fatalf("cert.pem is not a certificate: %v", block)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	foundLocalhost := false
	for _, n := range cert.DNSNames {
		if n == "localhost" {
			foundLocalhost = true
		}
	}
	if !foundLocalhost {
		t.Errorf("DNSNames = %v, want localhost", cert.DNSNames)
	}
	foundLoopback := false
	for _, ip := range cert.IPAddresses {
		if ip.String() == "127.0.0.1" {
			foundLoopback = true
		}
	}
	if !foundLoopback {
		t.Errorf("IPAddresses = %v, want 127.0.0.1", cert.IPAddresses)
	}

	keyInfo, err := os.Stat(keyFile)
	if err != nil {
		t.Fatal(err)
	}
	if keyInfo.Mode().Perm() != 0o600 {
		t.Errorf("key mode = %v, want 0600", keyInfo.Mode().Perm())
	}

	// A second call reuses the pair instead of regenerating.
	certFile2, _, err := s.tlsFiles()
	if err != nil {
		t.Fatalf("tlsFiles reuse: %v", err)
	}
	certPEM2, err := os.ReadFile(certFile2)
	if err != nil {
		t.Fatal(err)
	}
	if string(certPEM2) != string(certPEM) {
		t.Error("certificate was regenerated on second call")
	}
}

func TestTLSFilesHonorExplicitPair(t *testing.T) {
	cfg := testConfig(t)
	cfg.TLSEnabled = true
	cfg.TLSCert = "/etc/ssl/c3/cert.pem"
	cfg.TLSKey = "/etc/ssl/c3/key.pem"
	s := &Server{cfg: cfg}

	certFile, keyFile, err := s.tlsFiles()
	if err != nil {
		t.Fatal(err)
	}
	if certFile != cfg.TLSCert || keyFile != cfg.TLSKey {
		t.Errorf("got %q %q, want explicit pair", certFile, keyFile)
	}
}
