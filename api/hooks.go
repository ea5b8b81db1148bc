package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HookEvent handles POST /api/hooks/event — the callback the injected
// SessionEnd hook fires from inside the agent subprocess. It delivers the
// agent-side session id so later continuations can --resume it.
func (h *Handlers) HookEvent(c *gin.Context) {
	var body struct {
		SessionID       string `json:"sessionId"`
		ClaudeSessionID string `json:"claudeSessionId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.SessionID == "" {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "sessionId is required")
		return
	}
	if !isUUID(body.SessionID) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}
	if err := h.sessions.HandleHookEvent(body.SessionID, body.ClaudeSessionID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
