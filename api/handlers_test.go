package api

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/auth"
	"github.com/agentide/c3/db"
	"github.com/agentide/c3/ports"
	"github.com/agentide/c3/session"
	"github.com/agentide/c3/term"
	"github.com/agentide/c3/tunnel"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testAPI wires the full handler stack against a real store and multiplexer;
// only the network edges (SSH, spawned processes) are absent.
type testAPI struct {
	router   *gin.Engine
	handlers *Handlers
	store    *db.Store
	auth     *auth.Service
	mux      *term.Multiplexer
	sessions *session.Manager
	home     string
	license  string
}

func newTestAPI(t *testing.T, authRequired bool) *testAPI {
	t.Helper()

	home := t.TempDir()
	store, err := db.Open(filepath.Join(t.TempDir(), "c3.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	svc, err := auth.NewServiceWithKey(store, &priv.PublicKey, false, authRequired)
	if err != nil {
		t.Fatalf("NewServiceWithKey: %v", err)
	}

	mux, err := term.NewMultiplexer(t.TempDir())
	if err != nil {
		t.Fatalf("creating multiplexer: %v", err)
	}
	tunnels := tunnel.NewManager(nil)
	mgr := session.NewManager(session.Options{
		Store:    store,
		Mux:      mux,
		Tunnels:  tunnels,
		HooksDir: t.TempDir(),
		HomeDir:  home,
	})
	scanner := ports.NewScanner(store, tunnels, mux)

	h := NewHandlers(Options{
		Store:    store,
		Auth:     svc,
		Sessions: mgr,
		Mux:      mux,
		Tunnels:  tunnels,
		Ports:    scanner,
		HomeDir:  home,
	})

	r := gin.New()
	_ = r.SetTrustedProxies(nil)
	SetupRoutes(r, h)

	return &testAPI{
		router:   r,
		handlers: h,
		store:    store,
		auth:     svc,
		mux:      mux,
		sessions: mgr,
		home:     home,
		license:  signTestLicense(t, priv),
	}
}

// signTestLicense mints a license key the fixture's service accepts.
func signTestLicense(t *testing.T, priv *rsa.PrivateKey) string {
	t.Helper()

	payload := auth.LicensePayload{
		Email:       "dev@example.com",
		Plan:        "pro",
		MaxSessions: 4,
		ExpiresAt:   time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
		IssuedAt:    time.Now().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], nil)
	if err != nil {
		t.Fatalf("signing payload: %v", err)
	}
	return base64.RawURLEncoding.EncodeToString(data) + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// do runs one request through the router. body may be nil, a raw string, or
// anything JSON-marshalable.
func (a *testAPI) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, rdr)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// activate posts the fixture's license and returns the session cookie.
func (a *testAPI) activate(t *testing.T) *http.Cookie {
	t.Helper()

	w := a.do(t, http.MethodPost, "/api/auth/activate", gin.H{"licenseKey": a.license}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("activate status = %d, body %s", w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName && c.Value != "" {
			return c
		}
	}
	t.Fatal("activate response carried no session cookie")
	return nil
}

// decode unmarshals a JSON response body.
func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

// errCode extracts the code field from an error envelope.
func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	decode(t, w, &body)
	return body.Code
}

// createTestSession makes a queued local session through the API.
func (a *testAPI) createTestSession(t *testing.T, dir string) *db.Session {
	t.Helper()

	w := a.do(t, http.MethodPost, "/api/sessions", gin.H{"workingDirectory": dir}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", w.Code, w.Body.String())
	}
	var sess db.Session
	decode(t, w, &sess)
	return &sess
}
