package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
	"github.com/agentide/c3/session"
)

// ListSessions handles GET /api/sessions?status=.
func (h *Handlers) ListSessions(c *gin.Context) {
	status := c.Query("status")
	switch status {
	case "", db.SessionStatusQueued, db.SessionStatusActive, db.SessionStatusCompleted, db.SessionStatusFailed:
	default:
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "unknown status filter")
		return
	}
	sessions, err := h.store.ListSessions(status)
	if err != nil {
		respondError(c, err)
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	c.JSON(http.StatusOK, sessions)
}

// CreateSession handles POST /api/sessions.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req session.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.WorkingDirectory) == "" {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "workingDirectory is required")
		return
	}
	sess, err := h.sessions.Create(req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// GetSession handles GET /api/sessions/:id.
func (h *Handlers) GetSession(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}
	sess, err := h.store.GetSession(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if sess == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "session not found")
		return
	}
	c.JSON(http.StatusOK, sess)
}

// UpdateSession handles PATCH /api/sessions/:id. Only the title and the
// suspension lock are client-mutable.
func (h *Handlers) UpdateSession(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}
	var body struct {
		Title *string `json:"title"`
		Lock  *bool   `json:"lock"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if body.Title == nil && body.Lock == nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "nothing to update")
		return
	}
	if body.Title != nil {
		trimmed := strings.TrimSpace(*body.Title)
		if trimmed == "" {
			respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "title cannot be empty")
			return
		}
		body.Title = &trimmed
	}

	if err := h.store.UpdateSession(id, db.SessionPatch{Title: body.Title, Lock: body.Lock}); err != nil {
		respondError(c, err)
		return
	}
	sess, err := h.store.GetSession(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if body.Lock != nil {
		h.sessions.Poke()
	}
	c.JSON(http.StatusOK, sess)
}

// DeleteSession handles DELETE /api/sessions/:id: kill if live, then remove
// the row, its comments and its scrollback.
func (h *Handlers) DeleteSession(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}
	if err := h.sessions.Delete(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ContinueSession handles POST /api/sessions/:id/continue: requeue a finished
// session at the head of the queue.
func (h *Handlers) ContinueSession(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}
	sess, err := h.sessions.Continue(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// KillSession handles POST /api/sessions/:id/kill.
func (h *Handlers) KillSession(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}
	if err := h.sessions.Kill(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SessionInput handles POST /api/sessions/:id/input — the REST fallback for
// sending keystrokes when no WebSocket is attached.
func (h *Handlers) SessionInput(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}
	var body struct {
		Data string `json:"data"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Data == "" {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "data is required")
		return
	}
	if err := h.sessions.RecordInput(id, []byte(body.Data)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// SessionPorts handles GET /api/sessions/:id/ports: the listeners the scanner
// currently attributes to this session.
func (h *Handlers) SessionPorts(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}
	sess, err := h.store.GetSession(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if sess == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "session not found")
		return
	}
	c.JSON(http.StatusOK, h.ports.Ports(id))
}
