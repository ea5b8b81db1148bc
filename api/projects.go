package api

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
)

// ListProjects handles GET /api/projects: bookmarked first, then recents.
func (h *Handlers) ListProjects(c *gin.Context) {
	projects, err := h.store.ListProjects()
	if err != nil {
		respondError(c, err)
		return
	}
	if projects == nil {
		projects = []db.Project{}
	}
	c.JSON(http.StatusOK, projects)
}

// CreateProject handles POST /api/projects: bookmark a directory explicitly.
func (h *Handlers) CreateProject(c *gin.Context) {
	var body struct {
		WorkerID      string `json:"workerId"`
		DirectoryPath string `json:"directoryPath"`
		DisplayName   string `json:"displayName"`
		Bookmarked    bool   `json:"bookmarked"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	dir := filepath.Clean(body.DirectoryPath)
	if !filepath.IsAbs(dir) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "directoryPath must be absolute")
		return
	}

	workerID := body.WorkerID
	if workerID == "" {
		local, err := h.store.GetLocalWorker()
		if err != nil {
			respondError(c, err)
			return
		}
		workerID = local.ID
	} else if w, err := h.store.GetWorker(workerID); err != nil || w == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "worker not found")
		return
	}

	name := strings.TrimSpace(body.DisplayName)
	if name == "" {
		name = filepath.Base(dir)
	}

	p := &db.Project{
		WorkerID:      workerID,
		DirectoryPath: dir,
		DisplayName:   name,
		Bookmarked:    body.Bookmarked,
	}
	if err := h.store.CreateProject(p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// UpdateProject handles PUT /api/projects/:id: rename, bookmark toggle, or
// reorder within the bookmark list.
func (h *Handlers) UpdateProject(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid project id")
		return
	}
	var body struct {
		DisplayName *string `json:"displayName"`
		Bookmarked  *bool   `json:"bookmarked"`
		Position    *int    `json:"position"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if body.DisplayName != nil && strings.TrimSpace(*body.DisplayName) == "" {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "displayName cannot be empty")
		return
	}

	if err := h.store.UpdateProject(id, db.ProjectPatch{
		DisplayName: body.DisplayName,
		Bookmarked:  body.Bookmarked,
		Position:    body.Position,
	}); err != nil {
		respondError(c, err)
		return
	}
	p, err := h.store.GetProject(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if p == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "project not found")
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeleteProject handles DELETE /api/projects/:id.
func (h *Handlers) DeleteProject(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid project id")
		return
	}
	if err := h.store.DeleteProject(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
