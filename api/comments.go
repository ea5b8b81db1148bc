package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
)

// ListComments handles GET /api/sessions/:id/comments.
func (h *Handlers) ListComments(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid session id")
		return
	}
	comments, err := h.store.ListCommentsBySession(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if comments == nil {
		comments = []db.Comment{}
	}
	c.JSON(http.StatusOK, comments)
}

// CreateComment handles POST /api/sessions/:id/comments: attach an inline
// review note to a file range in the session's diff.
func (h *Handlers) CreateComment(c *gin.Context) {
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

	var body struct {
		FilePath    string `json:"filePath"`
		StartLine   int    `json:"startLine"`
		EndLine     int    `json:"endLine"`
		CodeSnippet string `json:"codeSnippet"`
		CommentText string `json:"commentText"`
		Side        string `json:"side"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if body.FilePath == "" || strings.TrimSpace(body.CommentText) == "" {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "filePath and commentText are required")
		return
	}
	if body.StartLine < 1 || body.EndLine < body.StartLine {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid line range")
		return
	}
	switch body.Side {
	case "", db.CommentSideOld, db.CommentSideNew:
	default:
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "side must be old or new")
		return
	}

	comment := &db.Comment{
		SessionID:   id,
		FilePath:    body.FilePath,
		StartLine:   body.StartLine,
		EndLine:     body.EndLine,
		CodeSnippet: body.CodeSnippet,
		CommentText: body.CommentText,
		Side:        body.Side,
	}
	if err := h.store.CreateComment(comment); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// UpdateComment handles PUT /api/comments/:id. Sent comments are immutable.
func (h *Handlers) UpdateComment(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid comment id")
		return
	}
	var body struct {
		CommentText *string `json:"commentText"`
		StartLine   *int    `json:"startLine"`
		EndLine     *int    `json:"endLine"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid request body")
		return
	}
	if body.CommentText != nil && strings.TrimSpace(*body.CommentText) == "" {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "commentText cannot be empty")
		return
	}

	if err := h.store.UpdateComment(id, db.CommentPatch{
		CommentText: body.CommentText,
		StartLine:   body.StartLine,
		EndLine:     body.EndLine,
	}); err != nil {
		respondError(c, err)
		return
	}
	comment, err := h.store.GetComment(id)
	if err != nil {
		respondError(c, err)
		return
	}
	if comment == nil {
		respondErrorMsg(c, http.StatusNotFound, CodeNotFound, "comment not found")
		return
	}
	c.JSON(http.StatusOK, comment)
}

// DeleteComment handles DELETE /api/comments/:id (pending comments only).
func (h *Handlers) DeleteComment(c *gin.Context) {
	id := c.Param("id")
	if !isUUID(id) {
		respondErrorMsg(c, http.StatusBadRequest, CodeBadRequest, "invalid comment id")
		return
	}
	if err := h.store.DeleteComment(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
