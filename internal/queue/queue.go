// Package queue provides the SQLite-backed queue of migration requests.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable request queue.
//
// Claiming a request is a single read followed by a conditional update and
// takes no lock; one worker instance per queue file is assumed.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the queue database at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_loc=auto")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

const selectColumns = `
	SELECT id, email, user_name, source_alias, source_region, dest_region, dest_alias,
	       status, request_date, start_date, end_date, alias
	FROM migration_requests
`

// Enqueue stores a new pending request and returns its id.
func (s *Store) Enqueue(ctx context.Context, r *Request) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	if r.RequestDate.IsZero() {
		r.RequestDate = time.Now().UTC()
	}
	r.Status = StatusPending

	result, err := s.conn.ExecContext(ctx, `
		INSERT INTO migration_requests (email, user_name, source_alias, source_region, dest_region, dest_alias, status, request_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Email, r.UserName, r.SourceAlias, r.SourceRegion, r.DestRegion, r.DestAlias, string(r.Status), r.RequestDate.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	r.ID = id
	return id, nil
}

// NextPending returns the oldest pending request, or ErrNoPending.
func (s *Store) NextPending(ctx context.Context) (*Request, error) {
	row := s.conn.QueryRowContext(ctx, selectColumns+`
		WHERE status = ?
		ORDER BY request_date ASC, id ASC
		LIMIT 1
	`, string(StatusPending))

	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPending
	}
	return r, err
}

// Get returns the request with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Request, error) {
	r, err := scanRequest(s.conn.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	return r, err
}

// Filter narrows List results.
type Filter struct {
	// Status limits results to one status. Empty means all.
	Status Status
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// List returns requests, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Request, error) {
	query := selectColumns
	var args []any
	if f.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY request_date DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *r)
	}
	return requests, rows.Err()
}

// MarkInWork claims a pending request and records its start time.
func (s *Store) MarkInWork(ctx context.Context, id int64, now time.Time) error {
	return s.transition(ctx, id, StatusInWork, `start_date = ?, end_date = NULL`, now.UTC())
}

// MarkSuccess completes a request with the destination alias.
func (s *Store) MarkSuccess(ctx context.Context, id int64, alias string, now time.Time) error {
	return s.transition(ctx, id, StatusSuccess, `end_date = ?, alias = ?`, now.UTC(), alias)
}

// MarkError fails a request.
func (s *Store) MarkError(ctx context.Context, id int64, now time.Time) error {
	return s.transition(ctx, id, StatusError, `end_date = ?`, now.UTC())
}

// Requeue returns a failed request to the queue.
func (s *Store) Requeue(ctx context.Context, id int64) error {
	return s.transition(ctx, id, StatusPending, `start_date = NULL, end_date = NULL, alias = ''`)
}

// transition moves a request to status `to`, applying set. The update is
// conditional on the status read just before it.
func (s *Store) transition(ctx context.Context, id int64, to Status, set string, args ...any) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidateTransition(current.Status, to); err != nil {
		return fmt.Errorf("request %d: %w", id, err)
	}

	query := `UPDATE migration_requests SET status = ?, ` + set + ` WHERE id = ? AND status = ?`
	params := append([]any{string(to)}, args...)
	params = append(params, id, string(current.Status))

	result, err := s.conn.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("failed to update request %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("request %d changed concurrently: %w", id, ErrInvalidTransition)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*Request, error) {
	var r Request
	var status string
	var start, end sql.NullTime
	err := row.Scan(&r.ID, &r.Email, &r.UserName, &r.SourceAlias, &r.SourceRegion, &r.DestRegion, &r.DestAlias,
		&status, &r.RequestDate, &start, &end, &r.Alias)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.RequestDate = r.RequestDate.UTC()
	if start.Valid {
		t := start.Time.UTC()
		r.StartDate = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		r.EndDate = &t
	}
	return &r, nil
}
