package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
	"github.com/agentide/c3/tunnel"
)

// workerRequest is the create/update payload. The key path is accepted under
// either name; older clients send privateKeyPath.
type workerRequest struct {
	Name        string  `json:"name"`
	Host        *string `json:"host"`
	Port        *int    `json:"port"`
	User        *string `json:"user"`
	SSHKeyPath  *string `json:"sshKeyPath"`
	PrivateKey  *string `json:"privateKeyPath"`
	MaxSessions *int    `json:"maxSessions"`
}

func (r *workerRequest) keyPath() *string {
	if r.SSHKeyPath != nil {
		return r.SSHKeyPath
	}
	return r.PrivateKey
}

// ListWorkers handles GET /api/workers.
func (h *Handlers) ListWorkers(c *gin.Context) {
	workers, err := h.store.ListWorkers()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, workers)
}

// CreateWorker handles POST /api/workers: register a remote machine and start
// dialing its tunnel in the background.
func (h *Handlers) CreateWorker(c *gin.Context) {
	var req workerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "name is required")
		return
	}

	port := 22
	if req.Port != nil {
		port = *req.Port
	}
	if port < 1 || port > 65535 {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "port is out of range")
		return
	}
	maxSessions := 1
	if req.MaxSessions != nil {
		maxSessions = *req.MaxSessions
	}
	if maxSessions < 1 {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "maxSessions must be at least 1")
		return
	}

	w := &db.Worker{
		Type:           db.WorkerTypeRemote,
		Name:           strings.TrimSpace(req.Name),
		Host:           req.Host,
		Port:           &port,
		User:           req.User,
		PrivateKeyPath: req.keyPath(),
		MaxSessions:    maxSessions,
	}
	if err := h.store.CreateWorker(w); err != nil {
		respondError(c, err)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = h.sessions.ConnectWorker(ctx, w)
	}()

	c.JSON(http.StatusCreated, w)
}

// UpdateWorker handles PUT /api/workers/:id. Changing SSH coordinates drops
// the existing tunnel and redials with the new ones.
func (h *Handlers) UpdateWorker(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid worker id")
		return
	}
	var req workerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}

	patch := db.WorkerPatch{
		Host:           req.Host,
		Port:           req.Port,
		User:           req.User,
		PrivateKeyPath: req.keyPath(),
		MaxSessions:    req.MaxSessions,
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		patch.Name = &name
	}
	if err := h.store.UpdateWorker(id, patch); err != nil {
		respondError(c, err)
		return
	}

	w, err := h.store.GetWorker(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if w == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "worker not found")
		return
	}

	endpointChanged := req.Host != nil || req.Port != nil || req.User != nil || req.keyPath() != nil
	if endpointChanged && w.Type == db.WorkerTypeRemote {
		h.sessions.DisconnectWorker(id)
		worker := *w
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = h.sessions.ConnectWorker(ctx, &worker)
		}()
	}
	if req.MaxSessions != nil {
		h.sessions.Poke()
	}
	c.JSON(http.StatusOK, w)
}

// DeleteWorker handles DELETE /api/workers/:id. The local worker and workers
// with live sessions are protected.
func (h *Handlers) DeleteWorker(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid worker id")
		return
	}
	if err := h.store.DeleteWorker(id); err != nil {
		respondError(c, err)
		return
	}
	h.sessions.DisconnectWorker(id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// TestWorker handles POST /api/workers/:id/test: dial (or reuse) the tunnel
// and run a trivial command so the user learns immediately whether the
// coordinates work.
func (h *Handlers) TestWorker(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid worker id")
		return
	}
	w, err := h.store.GetWorker(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if w == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "worker not found")
		return
	}
	if w.Type == db.WorkerTypeLocal {
		c.JSON(http.StatusOK, gin.H{"ok": true})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 15*time.Second)
	defer cancel()

	if h.tunnels.State(id) != tunnel.StateConnected {
		if err := h.sessions.ConnectWorker(ctx, w); err != nil {
			respondError(c, err)
			return
		}
	}
	out, err := h.tunnels.Exec(ctx, id, "uname -sr && command -v claude >/dev/null && echo claude-ok || echo claude-missing")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "output": strings.TrimSpace(out)})
}
