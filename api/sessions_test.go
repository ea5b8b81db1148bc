package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentide/c3/db"
)

func TestCreateSessionValidation(t *testing.T) {
	a := newTestAPI(t, false)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing directory", gin.H{}, http.StatusBadRequest},
		{"blank directory", gin.H{"workingDirectory": "  "}, http.StatusBadRequest},
		{"relative directory", gin.H{"workingDirectory": "projects/app"}, http.StatusBadRequest},
		{"outside home", gin.H{"workingDirectory": "/etc/app"}, http.StatusForbidden},
		{"unknown worker", gin.H{"workingDirectory": filepath.Join(a.home, "x"), "targetWorker": uuid.NewString()}, http.StatusNotFound},
	}
	for _, tt := range tests {
		w := a.do(t, http.MethodPost, "/api/sessions", tt.body, nil)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d (body %s)", tt.name, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestSessionCRUD(t *testing.T) {
	a := newTestAPI(t, false)

	dir := filepath.Join(a.home, "work", "app")
	sess := a.createTestSession(t, dir)
	if sess.Status != db.SessionStatusQueued {
		t.Errorf("new session status = %q, want queued", sess.Status)
	}
	if sess.Title != "app" {
		t.Errorf("default title = %q, want app (directory basename)", sess.Title)
	}

	// The directory is created eagerly, at create time.
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("working directory not created: %v", err)
	}

	w := a.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w = a.do(t, http.MethodGet, "/api/sessions", nil, nil)
	var list []db.Session
	decode(t, w, &list)
	if len(list) != 1 || list[0].ID != sess.ID {
		t.Fatalf("list = %+v, want the created session", list)
	}

	// Rename, then lock.
	w = a.do(t, http.MethodPatch, "/api/sessions/"+sess.ID, gin.H{"title": " renamed "}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d, body %s", w.Code, w.Body.String())
	}
	var updated db.Session
	decode(t, w, &updated)
	if updated.Title != "renamed" {
		t.Errorf("title = %q, want renamed (trimmed)", updated.Title)
	}
	w = a.do(t, http.MethodPatch, "/api/sessions/"+sess.ID, gin.H{"lock": true}, nil)
	decode(t, w, &updated)
	if !updated.Lock {
		t.Error("lock not applied")
	}

	w = a.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = a.do(t, http.MethodGet, "/api/sessions/"+sess.ID, nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestSessionEndpointErrors(t *testing.T) {
	a := newTestAPI(t, false)
	sess := a.createTestSession(t, filepath.Join(a.home, "p"))

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"get malformed id", http.MethodGet, "/api/sessions/not-a-uuid", nil, http.StatusBadRequest},
		{"get unknown id", http.MethodGet, "/api/sessions/" + uuid.NewString(), nil, http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/sessions?status=archived", nil, http.StatusBadRequest},
		{"patch nothing", http.MethodPatch, "/api/sessions/" + sess.ID, gin.H{}, http.StatusBadRequest},
		{"patch empty title", http.MethodPatch, "/api/sessions/" + sess.ID, gin.H{"title": "  "}, http.StatusBadRequest},
		{"continue queued session", http.MethodPost, "/api/sessions/" + sess.ID + "/continue", nil, http.StatusConflict},
		{"input without live process", http.MethodPost, "/api/sessions/" + sess.ID + "/input", gin.H{"data": "ls\n"}, http.StatusConflict},
		{"input without data", http.MethodPost, "/api/sessions/" + sess.ID + "/input", gin.H{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := a.do(t, tt.method, tt.path, tt.body, nil)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d (body %s)", tt.name, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestListSessionsReturnsEmptyArray(t *testing.T) {
	a := newTestAPI(t, false)

	w := a.do(t, http.MethodGet, "/api/sessions", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("empty list body = %q, want []", body)
	}
}

func TestSessionPorts(t *testing.T) {
	a := newTestAPI(t, false)
	sess := a.createTestSession(t, filepath.Join(a.home, "srv"))

	w := a.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/ports", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("ports body = %q, want []", body)
	}

	w = a.do(t, http.MethodGet, "/api/sessions/"+uuid.NewString()+"/ports", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown session ports status = %d, want 404", w.Code)
	}
}
