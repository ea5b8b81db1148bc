package api

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/agentide/c3/db"
)

func TestCommentLifecycle(t *testing.T) {
	a := newTestAPI(t, false)
	sess := a.createTestSession(t, filepath.Join(a.home, "review"))

	w := a.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/comments", gin.H{
		"filePath":    "src/main.go",
		"startLine":   10,
		"endLine":     12,
		"commentText": "rename this",
		"side":        "new",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}
	var comment db.Comment
	decode(t, w, &comment)
	if comment.Status != db.CommentStatusPending {
		t.Errorf("status = %q, want pending", comment.Status)
	}

	w = a.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/comments", nil, nil)
	var list []db.Comment
	decode(t, w, &list)
	if len(list) != 1 || list[0].ID != comment.ID {
		t.Fatalf("list = %+v", list)
	}

	text := "rename this method"
	w = a.do(t, http.MethodPut, "/api/comments/"+comment.ID, gin.H{"commentText": text}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", w.Code, w.Body.String())
	}
	var updated db.Comment
	decode(t, w, &updated)
	if updated.CommentText != text {
		t.Errorf("commentText = %q", updated.CommentText)
	}

	w = a.do(t, http.MethodDelete, "/api/comments/"+comment.ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = a.do(t, http.MethodGet, "/api/sessions/"+sess.ID+"/comments", nil, nil)
	decode(t, w, &list)
	if len(list) != 0 {
		t.Errorf("list after delete = %+v", list)
	}
}

func TestCommentValidation(t *testing.T) {
	a := newTestAPI(t, false)
	sess := a.createTestSession(t, filepath.Join(a.home, "review"))

	tests := []struct {
		name string
		body gin.H
	}{
		{"missing filePath", gin.H{"startLine": 1, "endLine": 1, "commentText": "x"}},
		{"blank text", gin.H{"filePath": "a.go", "startLine": 1, "endLine": 1, "commentText": " "}},
		{"zero startLine", gin.H{"filePath": "a.go", "startLine": 0, "endLine": 1, "commentText": "x"}},
		{"inverted range", gin.H{"filePath": "a.go", "startLine": 5, "endLine": 3, "commentText": "x"}},
		{"bad side", gin.H{"filePath": "a.go", "startLine": 1, "endLine": 1, "commentText": "x", "side": "left"}},
	}
	for _, tt := range tests {
		w := a.do(t, http.MethodPost, "/api/sessions/"+sess.ID+"/comments", tt.body, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tt.name, w.Code)
		}
	}
}

func TestSentCommentsAreImmutable(t *testing.T) {
	a := newTestAPI(t, false)
	sess := a.createTestSession(t, filepath.Join(a.home, "review"))

	comment := &db.Comment{
		SessionID:   sess.ID,
		FilePath:    "a.go",
		StartLine:   1,
		EndLine:     2,
		CommentText: "delivered already",
	}
	if err := a.store.CreateComment(comment); err != nil {
		t.Fatalf("creating comment: %v", err)
	}
	if err := a.store.MarkCommentsSent([]string{comment.ID}); err != nil {
		t.Fatalf("marking sent: %v", err)
	}

	text := "rewrite"
	w := a.do(t, http.MethodPut, "/api/comments/"+comment.ID, gin.H{"commentText": text}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("update sent comment status = %d, want 409", w.Code)
	}
	if code := errCode(t, w); code != string(CodeConflict) {
		t.Errorf("code = %q", code)
	}

	w = a.do(t, http.MethodDelete, "/api/comments/"+comment.ID, nil, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("delete sent comment status = %d, want 409", w.Code)
	}
}
