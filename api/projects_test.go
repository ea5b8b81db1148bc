package api

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
)

func TestProjectBookmarks(t *testing.T) {
	a := newTestAPI(t, false)

	dir := filepath.Join(a.home, "apps", "web")
	w := a.do(t, http.MethodPost, "/api/projects", gin.H{
		"directoryPath": dir,
		"bookmarked":    true,
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var project db.Project
	decode(t, w, &project)
	if project.DisplayName != "web" {
		t.Errorf("displayName = %q, want basename", project.DisplayName)
	}
	if !project.Bookmarked {
		t.Error("bookmarked flag lost")
	}

	w = a.do(t, http.MethodGet, "/api/projects", nil, nil)
	var list []db.Project
	decode(t, w, &list)
	if len(list) != 1 || list[0].ID != project.ID {
		t.Fatalf("list = %+v", list)
	}

	name := "Web App"
	w = a.do(t, http.MethodPut, "/api/projects/"+project.ID, gin.H{"displayName": name}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	var updated db.Project
	decode(t, w, &updated)
	if updated.DisplayName != name {
		t.Errorf("displayName = %q", updated.DisplayName)
	}

	w = a.do(t, http.MethodDelete, "/api/projects/"+project.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
}

func TestProjectValidation(t *testing.T) {
	a := newTestAPI(t, false)

	w := a.do(t, http.MethodPost, "/api/projects", gin.H{"directoryPath": "relative/path"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("relative path status = %d, want 400", w.Code)
	}

	w = a.do(t, http.MethodPost, "/api/projects", gin.H{
		"directoryPath": "/srv/app",
		"workerId":      "b3f4a1de-968c-4dcb-a5c7-3f2f1cfa1e40",
	}, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown worker status = %d, want 404", w.Code)
	}
}

func TestSessionCreateRecordsProject(t *testing.T) {
	a := newTestAPI(t, false)

	dir := filepath.Join(a.home, "svc")
	a.createTestSession(t, dir)

	w := a.do(t, http.MethodGet, "/api/projects", nil, nil)
	var list []db.Project
	decode(t, w, &list)
	if len(list) != 1 || list[0].DirectoryPath != dir {
		t.Fatalf("projects after session create = %+v", list)
	}
}
