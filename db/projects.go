package db

import (
	"database/sql"
	"path/filepath"

	"github.com/google/uuid"
)

// recentProjectLimit bounds how many non-bookmarked projects are kept per
// worker before eviction.
const recentProjectLimit = 10

const projectColumns = `id, worker_id, directory_path, display_name, bookmarked, position, last_used_at, created_at`

// TouchProject upserts the project row for a directory and refreshes its
// last_used_at, then evicts stale non-bookmarked rows. Called on every
// session creation.
func (s *Store) TouchProject(workerID, dir, displayName string) (*Project, error) {
	if displayName == "" {
		displayName = filepath.Base(dir)
	}
	now := nowISO()

	_, err := Run(s, `
		INSERT INTO projects (id, worker_id, directory_path, display_name, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (worker_id, directory_path)
		DO UPDATE SET last_used_at = excluded.last_used_at`,
		uuid.NewString(), workerID, dir, displayName, now, now,
	)
	if err != nil {
		return nil, err
	}

	if err := s.EvictOldRecentProjects(workerID, recentProjectLimit); err != nil {
		return nil, err
	}

	return s.GetProjectByPath(workerID, dir)
}

// EvictOldRecentProjects deletes non-bookmarked projects beyond the limit
// most recently used, per worker.
func (s *Store) EvictOldRecentProjects(workerID string, limit int) error {
	_, err := Run(s, `
		DELETE FROM projects
		WHERE worker_id = ? AND bookmarked = 0 AND id NOT IN (
			SELECT id FROM projects
			WHERE worker_id = ? AND bookmarked = 0
			ORDER BY last_used_at DESC LIMIT ?
		)`,
		workerID, workerID, limit,
	)
	return err
}

// ListProjects returns all projects: bookmarked first by position, then
// recents by last use.
func (s *Store) ListProjects() ([]Project, error) {
	return Select(s, `
		SELECT `+projectColumns+` FROM projects
		ORDER BY bookmarked DESC, position ASC, last_used_at DESC`,
		nil, func(rows *sql.Rows) (Project, error) { return scanProject(rows) },
	)
}

// GetProject returns a project by id, or nil when absent.
func (s *Store) GetProject(id string) (*Project, error) {
	return SelectOne(s,
		`SELECT `+projectColumns+` FROM projects WHERE id = ?`,
		[]QueryParam{id}, func(row *sql.Row) (Project, error) { return scanProject(row) },
	)
}

// GetProjectByPath returns the project for a worker+directory pair.
func (s *Store) GetProjectByPath(workerID, dir string) (*Project, error) {
	return SelectOne(s,
		`SELECT `+projectColumns+` FROM projects WHERE worker_id = ? AND directory_path = ?`,
		[]QueryParam{workerID, dir}, func(row *sql.Row) (Project, error) { return scanProject(row) },
	)
}

// CreateProject inserts an explicit (usually bookmarked) project.
func (s *Store) CreateProject(p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := nowISO()
	p.LastUsedAt = now
	p.CreatedAt = now

	_, err := Run(s, `
		INSERT INTO projects (id, worker_id, directory_path, display_name, bookmarked, position, last_used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (worker_id, directory_path)
		DO UPDATE SET bookmarked = excluded.bookmarked, display_name = excluded.display_name`,
		p.ID, p.WorkerID, p.DirectoryPath, p.DisplayName,
		boolToInt(p.Bookmarked), nullInt(p.Position), now, now,
	)
	return err
}

// ProjectPatch carries optional project field updates.
type ProjectPatch struct {
	DisplayName *string
	Bookmarked  *bool
	Position    *int
}

// UpdateProject applies the non-nil fields of patch.
func (s *Store) UpdateProject(id string, patch ProjectPatch) error {
	set := "last_used_at = last_used_at"
	args := []QueryParam{}

	if patch.DisplayName != nil {
		set += ", display_name = ?"
		args = append(args, *patch.DisplayName)
	}
	if patch.Bookmarked != nil {
		set += ", bookmarked = ?"
		args = append(args, boolToInt(*patch.Bookmarked))
	}
	if patch.Position != nil {
		set += ", position = ?"
		args = append(args, *patch.Position)
	}

	args = append(args, id)
	_, err := Run(s, "UPDATE projects SET "+set+" WHERE id = ?", args...)
	return err
}

// DeleteProject removes a project row.
func (s *Store) DeleteProject(id string) error {
	_, err := Run(s, `DELETE FROM projects WHERE id = ?`, id)
	return err
}
