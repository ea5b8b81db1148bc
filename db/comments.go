package db

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// ErrCommentImmutable is returned when a sent comment is modified or deleted.
var ErrCommentImmutable = errors.New("sent comments cannot be modified")

const commentColumns = `id, session_id, file_path, start_line, end_line, code_snippet, comment_text, status, side, created_at, updated_at`

// CreateComment inserts a pending review comment.
func (s *Store) CreateComment(c *Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = CommentStatusPending
	}
	if c.Side == "" {
		c.Side = CommentSideNew
	}
	now := nowISO()
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := Run(s, `
		INSERT INTO comments (id, session_id, file_path, start_line, end_line, code_snippet, comment_text, status, side, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.FilePath, c.StartLine, c.EndLine,
		c.CodeSnippet, c.CommentText, c.Status, c.Side, now, now,
	)
	return err
}

// GetComment returns a comment by id, or nil when absent.
func (s *Store) GetComment(id string) (*Comment, error) {
	return SelectOne(s,
		`SELECT `+commentColumns+` FROM comments WHERE id = ?`,
		[]QueryParam{id}, func(row *sql.Row) (Comment, error) { return scanComment(row) },
	)
}

// ListCommentsBySession returns a session's comments in creation order.
func (s *Store) ListCommentsBySession(sessionID string) ([]Comment, error) {
	return Select(s,
		`SELECT `+commentColumns+` FROM comments WHERE session_id = ? ORDER BY created_at ASC`,
		[]QueryParam{sessionID}, func(rows *sql.Rows) (Comment, error) { return scanComment(rows) },
	)
}

// CommentPatch carries optional comment field updates.
type CommentPatch struct {
	CommentText *string
	StartLine   *int
	EndLine     *int
}

// UpdateComment applies the non-nil fields of patch. Only pending comments
// are mutable.
func (s *Store) UpdateComment(id string, patch CommentPatch) error {
	set := "updated_at = ?"
	args := []QueryParam{nowISO()}

	if patch.CommentText != nil {
		set += ", comment_text = ?"
		args = append(args, *patch.CommentText)
	}
	if patch.StartLine != nil {
		set += ", start_line = ?"
		args = append(args, *patch.StartLine)
	}
	if patch.EndLine != nil {
		set += ", end_line = ?"
		args = append(args, *patch.EndLine)
	}

	args = append(args, id)
	res, err := Run(s, "UPDATE comments SET "+set+" WHERE id = ? AND status = 'pending'", args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.GetComment(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrCommentImmutable
		}
	}
	return nil
}

// DeleteComment removes a pending comment.
func (s *Store) DeleteComment(id string) error {
	res, err := Run(s, `DELETE FROM comments WHERE id = ? AND status = 'pending'`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.GetComment(id)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrCommentImmutable
		}
	}
	return nil
}

// MarkCommentsSent flips comments to sent after delivery to the agent.
func (s *Store) MarkCommentsSent(ids []string) error {
	now := nowISO()
	for _, id := range ids {
		if _, err := Run(s,
			`UPDATE comments SET status = 'sent', updated_at = ? WHERE id = ?`,
			now, id,
		); err != nil {
			return err
		}
	}
	return nil
}
