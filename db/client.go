package db

import (
	"database/sql"
	"os"

	"github.com/agentide/c3/log"
)

// QueryParam represents a parameter for database queries
type QueryParam interface{}

var shouldLogQueries = os.Getenv("DB_LOG_QUERIES") == "1"

func logQuery(kind string, sql string, params []QueryParam) {
	if !shouldLogQueries {
		return
	}
	log.Debug().
		Str("kind", kind).
		Str("sql", sql).
		Interface("params", params).
		Msg("db query")
}

// Select runs a SELECT query returning multiple rows.
// The scanner function is called for each row to map results.
func Select[T any](s *Store, query string, params []QueryParam, scan func(*sql.Rows) (T, error)) ([]T, error) {
	logQuery("select", query, params)

	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// SelectOne runs a SELECT query returning a single row, or nil when no row
// matches. A missing row is never an error.
func SelectOne[T any](s *Store, query string, params []QueryParam, scan func(*sql.Row) (T, error)) (*T, error) {
	logQuery("get", query, params)

	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}

	row := s.db.QueryRow(query, args...)
	result, err := scan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// Run executes an INSERT/UPDATE/DELETE query
func Run(s *Store, query string, params ...QueryParam) (sql.Result, error) {
	logQuery("run", query, params)

	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}

	return s.db.Exec(query, args...)
}

// RunResult represents the result of a Run operation
type RunResult struct {
	LastInsertID int64
	RowsAffected int64
}

// RunWithResult executes a query and returns simplified result
func RunWithResult(s *Store, query string, params ...QueryParam) (*RunResult, error) {
	result, err := Run(s, query, params...)
	if err != nil {
		return nil, err
	}

	lastID, _ := result.LastInsertId()
	affected, _ := result.RowsAffected()

	return &RunResult{
		LastInsertID: lastID,
		RowsAffected: affected,
	}, nil
}

// Exists checks if a row exists matching the query
func Exists(s *Store, query string, params ...QueryParam) (bool, error) {
	logQuery("exists", query, params)

	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}

	var exists bool
	err := s.db.QueryRow("SELECT EXISTS("+query+")", args...).Scan(&exists)
	if err != nil {
		return false, err
	}

	return exists, nil
}

// Count returns the count of rows matching the query
func Count(s *Store, query string, params ...QueryParam) (int64, error) {
	logQuery("count", query, params)

	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p
	}

	var count int64
	err := s.db.QueryRow(query, args...).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}
