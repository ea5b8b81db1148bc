package db

import (
	"database/sql"
	"time"
)

// Worker types
const (
	WorkerTypeLocal  = "local"
	WorkerTypeRemote = "remote"
)

// Worker statuses
const (
	WorkerStatusConnected    = "connected"
	WorkerStatusDisconnected = "disconnected"
	WorkerStatusError        = "error"
)

// Session statuses
const (
	SessionStatusQueued    = "queued"
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusFailed    = "failed"
)

// Comment statuses and diff sides
const (
	CommentStatusPending = "pending"
	CommentStatusSent    = "sent"
	CommentSideOld       = "old"
	CommentSideNew       = "new"
)

// Worker is a machine (local or SSH-reachable) that hosts agent subprocesses.
// Exactly one row has Type=local; it is created at store init and can never
// be deleted.
type Worker struct {
	ID             string  `json:"id"`
	Type           string  `json:"type"`
	Name           string  `json:"name"`
	Host           *string `json:"host,omitempty"`
	Port           *int    `json:"port,omitempty"`
	User           *string `json:"user,omitempty"`
	PrivateKeyPath *string `json:"privateKeyPath,omitempty"`
	Status         string  `json:"status"`
	MaxSessions    int     `json:"maxSessions"`
	LastHeartbeat  *string `json:"lastHeartbeat,omitempty"`
	CreatedAt      string  `json:"createdAt"`
	UpdatedAt      string  `json:"updatedAt"`
}

// Session is one agent conversation bound to a worker. Queued sessions hold a
// queue position; active ones hold a live process (local pid or remote shell
// channel).
type Session struct {
	ID                string  `json:"id"`
	WorkerID          string  `json:"workerId"`
	ClaudeSessionID   *string `json:"claudeSessionId,omitempty"`
	Status            string  `json:"status"`
	WorkingDirectory  string  `json:"workingDirectory"`
	Title             string  `json:"title"`
	Position          *int    `json:"position,omitempty"`
	PID               *int    `json:"pid,omitempty"`
	NeedsInput        bool    `json:"needsInput"`
	Lock              bool    `json:"lock"`
	ContinuationCount int     `json:"continuationCount"`
	Worktree          bool    `json:"worktree"`
	CreatedAt         string  `json:"createdAt"`
	UpdatedAt         string  `json:"updatedAt"`
	StartedAt         *string `json:"startedAt,omitempty"`
	EndedAt           *string `json:"endedAt,omitempty"`
}

// Project is a working directory remembered per worker, optionally bookmarked.
// Non-bookmarked rows beyond the 10 most recently used are evicted on upsert.
type Project struct {
	ID            string `json:"id"`
	WorkerID      string `json:"workerId"`
	DirectoryPath string `json:"directoryPath"`
	DisplayName   string `json:"displayName"`
	Bookmarked    bool   `json:"bookmarked"`
	Position      *int   `json:"position,omitempty"`
	LastUsedAt    string `json:"lastUsedAt"`
	CreatedAt     string `json:"createdAt"`
}

// Settings is the singleton (id=1) hub configuration row.
type Settings struct {
	MaxConcurrentSessions int    `json:"maxConcurrentSessions"`
	MaxVisibleSessions    int    `json:"maxVisibleSessions"`
	AutoApprove           bool   `json:"autoApprove"`
	GridLayout            string `json:"gridLayout"`
	Theme                 string `json:"theme"`
	UpdatedAt             string `json:"updatedAt"`
}

// AuthConfig is the singleton (id=1) auth state row. JWTSecret is generated
// once at store init and stays stable across restarts.
type AuthConfig struct {
	JWTSecret          string  `json:"-"`
	LicenseKeyHash     *string `json:"-"`
	LicenseEmail       *string `json:"email,omitempty"`
	LicensePlan        *string `json:"plan,omitempty"`
	LicenseMaxSessions *int    `json:"maxSessions,omitempty"`
	LicenseExpiresAt   *string `json:"expiresAt,omitempty"`
	LicenseIssuedAt    *string `json:"issuedAt,omitempty"`
	AuthRequired       bool    `json:"authRequired"`
	UpdatedAt          string  `json:"-"`
}

// Comment is an inline review comment attached to a session. Sent comments
// are immutable; deleting a session cascades its comments.
type Comment struct {
	ID          string `json:"id"`
	SessionID   string `json:"sessionId"`
	FilePath    string `json:"filePath"`
	StartLine   int    `json:"startLine"`
	EndLine     int    `json:"endLine"`
	CodeSnippet string `json:"codeSnippet,omitempty"`
	CommentText string `json:"commentText"`
	Status      string `json:"status"`
	Side        string `json:"side"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// scanner abstracts *sql.Row and *sql.Rows so one scan helper serves both.
type scanner interface{ Scan(...any) error }

func scanWorker(row scanner) (Worker, error) {
	var w Worker
	var host, user, keyPath, heartbeat sql.NullString
	var port sql.NullInt64
	err := row.Scan(
		&w.ID, &w.Type, &w.Name, &host, &port, &user, &keyPath,
		&w.Status, &w.MaxSessions, &heartbeat, &w.CreatedAt, &w.UpdatedAt,
	)
	w.Host = StringPtr(host)
	w.User = StringPtr(user)
	w.PrivateKeyPath = StringPtr(keyPath)
	w.LastHeartbeat = StringPtr(heartbeat)
	if port.Valid {
		p := int(port.Int64)
		w.Port = &p
	}
	return w, err
}

func scanSession(row scanner) (Session, error) {
	var s Session
	var claudeID, startedAt, endedAt sql.NullString
	var position, pid sql.NullInt64
	var needsInput, lock, worktree int
	err := row.Scan(
		&s.ID, &s.WorkerID, &claudeID, &s.Status, &s.WorkingDirectory, &s.Title,
		&position, &pid, &needsInput, &lock, &s.ContinuationCount, &worktree,
		&s.CreatedAt, &s.UpdatedAt, &startedAt, &endedAt,
	)
	s.ClaudeSessionID = StringPtr(claudeID)
	s.StartedAt = StringPtr(startedAt)
	s.EndedAt = StringPtr(endedAt)
	s.Position = intPtr(position)
	s.PID = intPtr(pid)
	s.NeedsInput = needsInput == 1
	s.Lock = lock == 1
	s.Worktree = worktree == 1
	return s, err
}

func scanProject(row scanner) (Project, error) {
	var p Project
	var position sql.NullInt64
	var bookmarked int
	err := row.Scan(
		&p.ID, &p.WorkerID, &p.DirectoryPath, &p.DisplayName,
		&bookmarked, &position, &p.LastUsedAt, &p.CreatedAt,
	)
	p.Bookmarked = bookmarked == 1
	p.Position = intPtr(position)
	return p, err
}

func scanComment(row scanner) (Comment, error) {
	var c Comment
	var snippet sql.NullString
	err := row.Scan(
		&c.ID, &c.SessionID, &c.FilePath, &c.StartLine, &c.EndLine,
		&snippet, &c.CommentText, &c.Status, &c.Side, &c.CreatedAt, &c.UpdatedAt,
	)
	c.CodeSnippet = snippet.String
	return c, err
}

// nowISO returns the current UTC time in RFC3339 format, the representation
// used for every timestamp column.
func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// NullString converts *string to sql.NullString
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// StringPtr converts sql.NullString to *string
func StringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	v := int(ni.Int64)
	return &v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
