package db

import (
	"database/sql"
)

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "Initial schema - workers, sessions, projects, settings, auth config, comments",
		Up:          migration001_initial,
	})
}

func migration001_initial(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Workers table. Exactly one local row; remote rows carry SSH fields.
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS workers (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL CHECK (type IN ('local', 'remote')),
			name TEXT NOT NULL,
			host TEXT,
			port INTEGER,
			user TEXT,
			private_key_path TEXT,
			status TEXT NOT NULL DEFAULT 'disconnected'
				CHECK (status IN ('connected', 'disconnected', 'error')),
			max_sessions INTEGER NOT NULL DEFAULT 2 CHECK (max_sessions >= 1),
			last_heartbeat TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// Sessions table. The CHECK ties queue membership to a position so the
	// two can never drift apart.
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			worker_id TEXT NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
			claude_session_id TEXT,
			status TEXT NOT NULL DEFAULT 'queued'
				CHECK (status IN ('queued', 'active', 'completed', 'failed')),
			working_directory TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			position INTEGER,
			pid INTEGER,
			needs_input INTEGER NOT NULL DEFAULT 0,
			lock INTEGER NOT NULL DEFAULT 0,
			continuation_count INTEGER NOT NULL DEFAULT 0 CHECK (continuation_count >= 0),
			worktree INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			started_at TEXT,
			ended_at TEXT,
			CHECK ((status = 'queued') = (position IS NOT NULL))
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_worker_id ON sessions(worker_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_position ON sessions(position);
		CREATE INDEX IF NOT EXISTS idx_sessions_needs_input ON sessions(needs_input);
	`)
	if err != nil {
		return err
	}

	// Projects table: recently used directories per worker, with bookmarks.
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			worker_id TEXT NOT NULL REFERENCES workers(id) ON DELETE CASCADE,
			directory_path TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			bookmarked INTEGER NOT NULL DEFAULT 0,
			position INTEGER,
			last_used_at TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE (worker_id, directory_path)
		);

		CREATE INDEX IF NOT EXISTS idx_projects_worker_id ON projects(worker_id);
		CREATE INDEX IF NOT EXISTS idx_projects_last_used_at ON projects(last_used_at DESC);
	`)
	if err != nil {
		return err
	}

	// Settings singleton.
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			max_concurrent_sessions INTEGER NOT NULL DEFAULT 2 CHECK (max_concurrent_sessions >= 1),
			max_visible_sessions INTEGER NOT NULL DEFAULT 8,
			auto_approve INTEGER NOT NULL DEFAULT 0,
			grid_layout TEXT NOT NULL DEFAULT 'auto',
			theme TEXT NOT NULL DEFAULT 'dark',
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// Auth config singleton.
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS auth_config (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			jwt_secret TEXT NOT NULL,
			license_key_hash TEXT,
			license_email TEXT,
			license_plan TEXT,
			license_max_sessions INTEGER,
			license_expires_at TEXT,
			license_issued_at TEXT,
			auth_required INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return err
	}

	// Comments table: inline review comments, removed with their session.
	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS comments (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			file_path TEXT NOT NULL,
			start_line INTEGER NOT NULL DEFAULT 0,
			end_line INTEGER NOT NULL DEFAULT 0,
			code_snippet TEXT,
			comment_text TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'sent')),
			side TEXT NOT NULL DEFAULT 'new' CHECK (side IN ('old', 'new')),
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_comments_session_id ON comments(session_id);
	`)
	if err != nil {
		return err
	}

	return tx.Commit()
}
