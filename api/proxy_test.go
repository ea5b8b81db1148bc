package api

import (
	"net/http"
	"net/url"
	"path/filepath"
	"testing"
)

func TestProxyURLBlocksInternalTargets(t *testing.T) {
	a := newTestAPI(t, false)
	sess := a.createTestSession(t, filepath.Join(a.home, "p"))

	blocked := []string{
		"http://127.0.0.1:3000/admin",
		"http://10.0.0.5/",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]:8080/",
	}
	for _, raw := range blocked {
		path := "/api/sessions/" + sess.ID + "/proxy-url/" + url.PathEscape(raw)
		w := a.do(t, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", raw, w.Code)
		}
	}

	// Non-http schemes are refused before any dial.
	path := "/api/sessions/" + sess.ID + "/proxy-url/" + url.PathEscape("file:///etc/passwd")
	w := a.do(t, http.MethodGet, path, nil, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("file scheme status = %d, want 403", w.Code)
	}

	path = "/api/sessions/" + sess.ID + "/proxy-url/" + url.PathEscape("not a url at all\x7f")
	w = a.do(t, http.MethodGet, path, nil, nil)
	if w.Code != http.StatusBadRequest && w.Code != http.StatusForbidden {
		t.Errorf("garbage url status = %d, want 400 or 403", w.Code)
	}
}

func TestProxyURLUnknownSession(t *testing.T) {
	a := newTestAPI(t, false)

	path := "/api/sessions/b3f4a1de-968c-4dcb-a5c7-3f2f1cfa1e40/proxy-url/" + url.PathEscape("http://93.184.216.34/")
	w := a.do(t, http.MethodGet, path, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
