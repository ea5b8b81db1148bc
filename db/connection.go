package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/agentide/c3/log"
)

// Store owns the embedded database. It is constructed once at hub startup and
// handed to every component explicitly; nothing reaches it through package
// state.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path, applies pragmas,
// runs migrations and seeds the singleton rows plus the local worker.
func Open(path string) (*Store, error) {
	if err := ensureDatabaseDirectory(path); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	// WAL mode, foreign keys, single writer: the settings SQLite wants for an
	// embedded store with concurrent readers.
	dsn := path + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=-16000"

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := runMigrations(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := &Store{db: sqlDB, path: path}

	if err := s.bootstrap(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("seeding database: %w", err)
	}

	log.Info().Str("path", path).Msg("database initialized")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// bootstrap seeds the rows that must exist before anything else runs: the
// settings singleton, the auth config singleton (with a fresh JWT secret on
// first init) and the local worker.
func (s *Store) bootstrap() error {
	if err := s.ensureSettings(); err != nil {
		return err
	}
	if err := s.ensureAuthConfig(); err != nil {
		return err
	}
	return s.ensureLocalWorker()
}

// ensureDatabaseDirectory creates the directory for the database file if it doesn't exist
func ensureDatabaseDirectory(dbPath string) error {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		log.Info().Str("dir", dir).Msg("created database directory")
	}
	return nil
}

// Transaction executes a function within a database transaction
func (s *Store) Transaction(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
