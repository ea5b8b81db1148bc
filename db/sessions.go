package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by mutations that require an existing row.
var ErrSessionNotFound = errors.New("session not found")

const sessionColumns = `id, worker_id, claude_session_id, status, working_directory, title, position, pid, needs_input, lock, continuation_count, worktree, created_at, updated_at, started_at, ended_at`

// CreateSession inserts a new queued session at the tail of the queue. The
// position is assigned inside the INSERT so concurrent creates cannot race.
func (s *Store) CreateSession(sess *Session) error {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	now := nowISO()
	sess.Status = SessionStatusQueued
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := Run(s, `
		INSERT INTO sessions (id, worker_id, status, working_directory, title, position, worktree, created_at, updated_at)
		VALUES (?, ?, 'queued', ?, ?,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM sessions WHERE status = 'queued'),
			?, ?, ?)`,
		sess.ID, sess.WorkerID, sess.WorkingDirectory, sess.Title,
		boolToInt(sess.Worktree), now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}

	created, err := s.GetSession(sess.ID)
	if err != nil {
		return err
	}
	if created != nil {
		*sess = *created
	}
	return nil
}

// GetSession returns a session by id, or nil when absent.
func (s *Store) GetSession(id string) (*Session, error) {
	return SelectOne(s,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`,
		[]QueryParam{id}, func(row *sql.Row) (Session, error) { return scanSession(row) },
	)
}

// ListSessions returns sessions, optionally filtered by status, newest first.
func (s *Store) ListSessions(status string) ([]Session, error) {
	if status != "" {
		return Select(s,
			`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at DESC`,
			[]QueryParam{status}, func(rows *sql.Rows) (Session, error) { return scanSession(rows) },
		)
	}
	return Select(s,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC`,
		nil, func(rows *sql.Rows) (Session, error) { return scanSession(rows) },
	)
}

// QueuedSessionsInOrder returns all queued sessions by ascending position.
func (s *Store) QueuedSessionsInOrder() ([]Session, error) {
	return Select(s,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = 'queued' ORDER BY position ASC`,
		nil, func(rows *sql.Rows) (Session, error) { return scanSession(rows) },
	)
}

// NextQueuedSession returns the queued session with the lowest position,
// restricted to one worker when workerID is non-empty. Nil when the queue
// (or that worker's slice of it) is empty.
func (s *Store) NextQueuedSession(workerID string) (*Session, error) {
	if workerID != "" {
		return SelectOne(s, `
			SELECT `+sessionColumns+` FROM sessions
			WHERE status = 'queued' AND worker_id = ?
			ORDER BY position ASC LIMIT 1`,
			[]QueryParam{workerID}, func(row *sql.Row) (Session, error) { return scanSession(row) },
		)
	}
	return SelectOne(s, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'queued'
		ORDER BY position ASC LIMIT 1`,
		nil, func(row *sql.Row) (Session, error) { return scanSession(row) },
	)
}

// ListActiveSessions returns all status=active rows (crash recovery, port
// scanning, capacity accounting).
func (s *Store) ListActiveSessions() ([]Session, error) {
	return Select(s,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' ORDER BY started_at ASC`,
		nil, func(rows *sql.Rows) (Session, error) { return scanSession(rows) },
	)
}

// CountActiveSessionsOnWorker counts active sessions bound to one worker.
func (s *Store) CountActiveSessionsOnWorker(workerID string) (int, error) {
	n, err := Count(s,
		`SELECT COUNT(*) FROM sessions WHERE worker_id = ? AND status = 'active'`,
		workerID,
	)
	return int(n), err
}

// CountActiveSessions counts active sessions across all workers.
func (s *Store) CountActiveSessions() (int, error) {
	n, err := Count(s, `SELECT COUNT(*) FROM sessions WHERE status = 'active'`)
	return int(n), err
}

// SessionPatch carries optional session field updates; nil fields are left
// untouched.
type SessionPatch struct {
	Title           *string
	NeedsInput      *bool
	Lock            *bool
	ClaudeSessionID *string
}

// UpdateSession applies the non-nil fields of patch.
func (s *Store) UpdateSession(id string, patch SessionPatch) error {
	set := "updated_at = ?"
	args := []QueryParam{nowISO()}

	if patch.Title != nil {
		set += ", title = ?"
		args = append(args, *patch.Title)
	}
	if patch.NeedsInput != nil {
		set += ", needs_input = ?"
		args = append(args, boolToInt(*patch.NeedsInput))
	}
	if patch.Lock != nil {
		set += ", lock = ?"
		args = append(args, boolToInt(*patch.Lock))
	}
	if patch.ClaudeSessionID != nil {
		set += ", claude_session_id = ?"
		args = append(args, *patch.ClaudeSessionID)
	}

	args = append(args, id)
	res, err := Run(s, "UPDATE sessions SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// MarkSessionActive flips a queued session to active: position cleared, pid
// recorded (nil for remote sessions), needs_input reset for the new cycle.
func (s *Store) MarkSessionActive(id string, pid *int) error {
	now := nowISO()
	res, err := Run(s, `
		UPDATE sessions
		SET status = 'active', position = NULL, pid = ?, needs_input = 0,
			started_at = ?, updated_at = ?
		WHERE id = ?`,
		nullInt(pid), now, now, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SetSessionPID records the spawned process id after activation.
func (s *Store) SetSessionPID(id string, pid int) error {
	_, err := Run(s,
		`UPDATE sessions SET pid = ?, updated_at = ? WHERE id = ?`,
		pid, nowISO(), id,
	)
	return err
}

// MarkSessionEnded finalizes an active session as completed or failed. A
// non-nil claudeSessionID overwrites the stored one; nil preserves whatever a
// hooks callback already delivered.
func (s *Store) MarkSessionEnded(id, status string, claudeSessionID *string) error {
	now := nowISO()
	res, err := Run(s, `
		UPDATE sessions
		SET status = ?, position = NULL, pid = NULL,
			claude_session_id = COALESCE(?, claude_session_id),
			ended_at = ?, updated_at = ?
		WHERE id = ?`,
		status, NullString(claudeSessionID), now, now, id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RequeueAtHead puts a finished session back at position 1 and bumps its
// continuation count. Existing queued sessions shift down by one.
func (s *Store) RequeueAtHead(id string) error {
	return s.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE sessions SET position = position + 1 WHERE status = 'queued'`); err != nil {
			return err
		}
		now := nowISO()
		res, err := tx.Exec(`
			UPDATE sessions
			SET status = 'queued', position = 1, pid = NULL, needs_input = 0,
				continuation_count = continuation_count + 1, updated_at = ?
			WHERE id = ? AND status IN ('completed', 'failed')`,
			now, id,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrSessionNotFound
		}
		return nil
	})
}

// LatestCompletedSessionInDirectory finds the most recent completed session
// in a directory that captured a claude session id; used for transparent
// auto-continue.
func (s *Store) LatestCompletedSessionInDirectory(workerID, dir string) (*Session, error) {
	return SelectOne(s, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE worker_id = ? AND working_directory = ? AND status = 'completed'
			AND claude_session_id IS NOT NULL
		ORDER BY ended_at DESC LIMIT 1`,
		[]QueryParam{workerID, dir}, func(row *sql.Row) (Session, error) { return scanSession(row) },
	)
}

// DeleteSession removes a session row; comments cascade with it.
func (s *Store) DeleteSession(id string) error {
	_, err := Run(s, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}
