package api

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
)

func TestListWorkersHasLocal(t *testing.T) {
	a := newTestAPI(t, false)

	w := a.do(t, http.MethodGet, "/api/workers", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var workers []db.Worker
	decode(t, w, &workers)
	if len(workers) != 1 || workers[0].Type != db.WorkerTypeLocal {
		t.Fatalf("workers = %+v, want just the local worker", workers)
	}
	if workers[0].Status != db.WorkerStatusConnected {
		t.Errorf("local worker status = %q, want connected", workers[0].Status)
	}
}

func TestCreateWorkerValidation(t *testing.T) {
	a := newTestAPI(t, false)

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing name", gin.H{"host": "h", "user": "u", "sshKeyPath": "/k"}, http.StatusBadRequest},
		{"missing ssh fields", gin.H{"name": "build box"}, http.StatusBadRequest},
		{"port out of range", gin.H{"name": "b", "host": "h", "user": "u", "sshKeyPath": "/k", "port": 70000}, http.StatusBadRequest},
		{"bad maxSessions", gin.H{"name": "b", "host": "h", "user": "u", "sshKeyPath": "/k", "maxSessions": 0}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := a.do(t, http.MethodPost, "/api/workers", tt.body, nil)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d (body %s)", tt.name, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestCreateWorkerDefaults(t *testing.T) {
	a := newTestAPI(t, false)

	// The key path does not exist, so the background dial fails fast and
	// the worker simply stays disconnected.
	body := gin.H{
		"name":       "  build box  ",
		"host":       "192.0.2.10",
		"user":       "ci",
		"sshKeyPath": filepath.Join(a.home, "no-such-key"),
	}
	w := a.do(t, http.MethodPost, "/api/workers", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var created db.Worker
	decode(t, w, &created)
	if created.Name != "build box" {
		t.Errorf("name = %q, want trimmed", created.Name)
	}
	if created.Port == nil || *created.Port != 22 {
		t.Errorf("port = %v, want default 22", created.Port)
	}
	if created.MaxSessions != 1 {
		t.Errorf("maxSessions = %d, want default 1", created.MaxSessions)
	}
	if created.Type != db.WorkerTypeRemote {
		t.Errorf("type = %q, want remote", created.Type)
	}
}

func TestDeleteWorkerGuards(t *testing.T) {
	a := newTestAPI(t, false)

	local, err := a.store.GetLocalWorker()
	if err != nil {
		t.Fatalf("local worker: %v", err)
	}
	w := a.do(t, http.MethodDelete, "/api/workers/"+local.ID, nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("delete local status = %d, want 409", w.Code)
	}
	if code := errCode(t, w); code != string(CodeConflict) {
		t.Errorf("code = %q", code)
	}

	host, user, key := "192.0.2.11", "ci", "/tmp/k"
	port := 22
	remote := &db.Worker{Name: "spare", Host: &host, Port: &port, User: &user, PrivateKeyPath: &key}
	if err := a.store.CreateWorker(remote); err != nil {
		t.Fatalf("creating worker: %v", err)
	}

	// A queued session pins the worker; remote directories are not
	// validated against the hub's home.
	sw := a.do(t, http.MethodPost, "/api/sessions", gin.H{
		"workingDirectory": "/srv/app",
		"targetWorker":     remote.ID,
	}, nil)
	if sw.Code != http.StatusCreated {
		t.Fatalf("create remote session status = %d, body %s", sw.Code, sw.Body.String())
	}
	var sess db.Session
	decode(t, sw, &sess)

	w = a.do(t, http.MethodDelete, "/api/workers/"+remote.ID, nil, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("delete busy worker status = %d, want 409", w.Code)
	}

	if dw := a.do(t, http.MethodDelete, "/api/sessions/"+sess.ID, nil, nil); dw.Code != http.StatusOK {
		t.Fatalf("delete session status = %d", dw.Code)
	}
	w = a.do(t, http.MethodDelete, "/api/workers/"+remote.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete idle worker status = %d, want 200", w.Code)
	}
}

func TestUpdateWorkerPatch(t *testing.T) {
	a := newTestAPI(t, false)

	host, user, key := "192.0.2.12", "ci", "/tmp/key"
	port := 22
	remote := &db.Worker{Name: "box", Host: &host, Port: &port, User: &user, PrivateKeyPath: &key}
	if err := a.store.CreateWorker(remote); err != nil {
		t.Fatalf("creating worker: %v", err)
	}

	max := 3
	w := a.do(t, http.MethodPut, "/api/workers/"+remote.ID, gin.H{"maxSessions": max}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var updated db.Worker
	decode(t, w, &updated)
	if updated.MaxSessions != 3 {
		t.Errorf("maxSessions = %d, want 3", updated.MaxSessions)
	}
	if updated.Host == nil || *updated.Host != host {
		t.Errorf("host = %v, want unchanged %q", updated.Host, host)
	}
}
