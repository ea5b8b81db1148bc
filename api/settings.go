package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
)

// GetSettings handles GET /api/settings.
func (h *Handlers) GetSettings(c *gin.Context) {
	settings, err := h.store.GetSettings()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings handles PATCH /api/settings. A changed concurrency ceiling
// wakes the dispatcher so a raised limit takes effect immediately.
func (h *Handlers) UpdateSettings(c *gin.Context) {
	var patch struct {
		MaxConcurrentSessions *int    `json:"maxConcurrentSessions"`
		MaxVisibleSessions    *int    `json:"maxVisibleSessions"`
		AutoApprove           *bool   `json:"autoApprove"`
		GridLayout            *string `json:"gridLayout"`
		Theme                 *string `json:"theme"`
	}
	if err := c.ShouldBindJSON(&patch); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if patch.MaxConcurrentSessions != nil && *patch.MaxConcurrentSessions < 1 {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "maxConcurrentSessions must be at least 1")
		return
	}
	if patch.MaxVisibleSessions != nil && *patch.MaxVisibleSessions < 1 {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "maxVisibleSessions must be at least 1")
		return
	}

	settings, err := h.store.UpdateSettings(db.SettingsPatch{
		MaxConcurrentSessions: patch.MaxConcurrentSessions,
		MaxVisibleSessions:    patch.MaxVisibleSessions,
		AutoApprove:           patch.AutoApprove,
		GridLayout:            patch.GridLayout,
		Theme:                 patch.Theme,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if patch.MaxConcurrentSessions != nil {
		h.sessions.Poke()
	}
	c.JSON(http.StatusOK, settings)
}
