package queue

// initSchema creates the database schema if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS migration_requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL DEFAULT '',
		user_name TEXT NOT NULL DEFAULT '',
		source_alias TEXT NOT NULL,
		source_region TEXT NOT NULL DEFAULT '',
		dest_region TEXT NOT NULL DEFAULT '',
		dest_alias TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		request_date DATETIME NOT NULL,
		start_date DATETIME,
		end_date DATETIME,
		alias TEXT NOT NULL DEFAULT ''
	);

	-- The worker polls for the oldest pending request
	CREATE INDEX IF NOT EXISTS idx_migration_requests_status_date ON migration_requests(status, request_date);
	`

	_, err := s.conn.Exec(schema)
	return err
}
