package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/agentide/c3/log"
)

var (
	// ErrLocalWorkerProtected is returned when a caller tries to delete the
	// local worker row.
	ErrLocalWorkerProtected = errors.New("the local worker cannot be deleted")
	// ErrWorkerHasSessions is returned when a worker still has queued or
	// active sessions.
	ErrWorkerHasSessions = errors.New("worker has queued or active sessions")
	// ErrRemoteFieldsRequired is returned when a remote worker is created or
	// updated without the full SSH coordinates.
	ErrRemoteFieldsRequired = errors.New("remote workers require host, port, user and privateKeyPath")
)

const workerColumns = `id, type, name, host, port, user, private_key_path, status, max_sessions, last_heartbeat, created_at, updated_at`

// ensureLocalWorker inserts the local worker row on first init.
func (s *Store) ensureLocalWorker() error {
	existing, err := s.GetLocalWorker()
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	now := nowISO()
	_, err = Run(s, `
		INSERT INTO workers (id, type, name, status, max_sessions, last_heartbeat, created_at, updated_at)
		VALUES (?, 'local', 'Local', 'connected', 2, ?, ?, ?)`,
		uuid.NewString(), now, now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting local worker: %w", err)
	}
	log.Info().Msg("created local worker")
	return nil
}

// GetLocalWorker returns the single type=local row.
func (s *Store) GetLocalWorker() (*Worker, error) {
	return SelectOne(s,
		`SELECT `+workerColumns+` FROM workers WHERE type = 'local'`,
		nil, func(row *sql.Row) (Worker, error) { return scanWorker(row) },
	)
}

// CreateWorker inserts a remote worker. The caller supplies name and SSH
// coordinates; id, status and timestamps are assigned here.
func (s *Store) CreateWorker(w *Worker) error {
	if w.Type == "" {
		w.Type = WorkerTypeRemote
	}
	if w.Type == WorkerTypeRemote {
		if w.Host == nil || w.Port == nil || w.User == nil || w.PrivateKeyPath == nil {
			return ErrRemoteFieldsRequired
		}
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.Status == "" {
		w.Status = WorkerStatusDisconnected
	}
	if w.MaxSessions < 1 {
		w.MaxSessions = 1
	}
	now := nowISO()
	w.CreatedAt = now
	w.UpdatedAt = now

	_, err := Run(s, `
		INSERT INTO workers (id, type, name, host, port, user, private_key_path, status, max_sessions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Type, w.Name, NullString(w.Host), nullInt(w.Port), NullString(w.User),
		NullString(w.PrivateKeyPath), w.Status, w.MaxSessions, now, now,
	)
	return err
}

// GetWorker returns a worker by id, or nil when absent.
func (s *Store) GetWorker(id string) (*Worker, error) {
	return SelectOne(s,
		`SELECT `+workerColumns+` FROM workers WHERE id = ?`,
		[]QueryParam{id}, func(row *sql.Row) (Worker, error) { return scanWorker(row) },
	)
}

// ListWorkers returns all workers, local first, then by name.
func (s *Store) ListWorkers() ([]Worker, error) {
	return Select(s,
		`SELECT `+workerColumns+` FROM workers ORDER BY type = 'local' DESC, name ASC`,
		nil, func(rows *sql.Rows) (Worker, error) { return scanWorker(rows) },
	)
}

// WorkerPatch carries optional worker field updates; nil fields are left
// untouched.
type WorkerPatch struct {
	Name           *string
	Host           *string
	Port           *int
	User           *string
	PrivateKeyPath *string
	MaxSessions    *int
}

// UpdateWorker applies the non-nil fields of patch.
func (s *Store) UpdateWorker(id string, patch WorkerPatch) error {
	set := "updated_at = ?"
	args := []QueryParam{nowISO()}

	if patch.Name != nil {
		set += ", name = ?"
		args = append(args, *patch.Name)
	}
	if patch.Host != nil {
		set += ", host = ?"
		args = append(args, *patch.Host)
	}
	if patch.Port != nil {
		set += ", port = ?"
		args = append(args, *patch.Port)
	}
	if patch.User != nil {
		set += ", user = ?"
		args = append(args, *patch.User)
	}
	if patch.PrivateKeyPath != nil {
		set += ", private_key_path = ?"
		args = append(args, *patch.PrivateKeyPath)
	}
	if patch.MaxSessions != nil {
		set += ", max_sessions = ?"
		args = append(args, *patch.MaxSessions)
	}

	args = append(args, id)
	_, err := Run(s, "UPDATE workers SET "+set+" WHERE id = ?", args...)
	return err
}

// SetWorkerStatus records a status transition observed by the tunnel
// manager; connected transitions refresh the heartbeat.
func (s *Store) SetWorkerStatus(id, status string) error {
	now := nowISO()
	if status == WorkerStatusConnected {
		_, err := Run(s,
			`UPDATE workers SET status = ?, last_heartbeat = ?, updated_at = ? WHERE id = ?`,
			status, now, now, id,
		)
		return err
	}
	_, err := Run(s,
		`UPDATE workers SET status = ?, updated_at = ? WHERE id = ?`,
		status, now, id,
	)
	return err
}

// TouchWorkerHeartbeat refreshes last_heartbeat after a successful keepalive.
func (s *Store) TouchWorkerHeartbeat(id string) error {
	_, err := Run(s,
		`UPDATE workers SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		nowISO(), nowISO(), id,
	)
	return err
}

// DeleteWorker removes a remote worker. The local worker is protected, and a
// worker with queued or active sessions must be drained first. Historical
// sessions are removed with the worker via FK cascade.
func (s *Store) DeleteWorker(id string) error {
	w, err := s.GetWorker(id)
	if err != nil {
		return err
	}
	if w == nil {
		return nil
	}
	if w.Type == WorkerTypeLocal {
		return ErrLocalWorkerProtected
	}

	busy, err := Exists(s,
		`SELECT 1 FROM sessions WHERE worker_id = ? AND status IN ('queued', 'active')`,
		id,
	)
	if err != nil {
		return err
	}
	if busy {
		return ErrWorkerHasSessions
	}

	_, err = Run(s, `DELETE FROM workers WHERE id = ?`, id)
	return err
}

func nullInt(i *int) interface{} {
	if i == nil {
		return nil
	}
	return *i
}
