package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for run history
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("run history store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// BackupRun Operations
// ============================================================================

// CreateBackupRun inserts a new BackupRun and sets its ID
func (s *Store) CreateBackupRun(run *BackupRun) error {
	const query = `
		INSERT INTO backup_runs (
			install_root, archive_path, sha256, file_count, total_bytes,
			attempts, status, error_message, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.InstallRoot, run.ArchivePath, run.SHA256, run.FileCount,
		run.TotalBytes, run.Attempts, run.Status, run.Error,
		run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backup run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// ListBackupRuns retrieves BackupRuns, newest first
func (s *Store) ListBackupRuns(limit int) ([]BackupRun, error) {
	query := `
		SELECT id, install_root, archive_path, sha256, file_count, total_bytes,
		       attempts, status, error_message, started_at, finished_at
		FROM backup_runs ORDER BY started_at DESC
	`
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup runs: %w", err)
	}
	defer rows.Close()

	var runs []BackupRun
	for rows.Next() {
		run := BackupRun{}
		err := rows.Scan(
			&run.ID, &run.InstallRoot, &run.ArchivePath, &run.SHA256,
			&run.FileCount, &run.TotalBytes, &run.Attempts, &run.Status,
			&run.Error, &run.StartedAt, &run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backup run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backup runs: %w", err)
	}

	return runs, nil
}

// LatestBackupRun returns the most recent successful backup, or an error
// when none is recorded.
func (s *Store) LatestBackupRun() (*BackupRun, error) {
	const query = `
		SELECT id, install_root, archive_path, sha256, file_count, total_bytes,
		       attempts, status, error_message, started_at, finished_at
		FROM backup_runs WHERE status = ? ORDER BY started_at DESC LIMIT 1
	`

	run := &BackupRun{}
	err := s.db.QueryRow(query, StatusOK).Scan(
		&run.ID, &run.InstallRoot, &run.ArchivePath, &run.SHA256,
		&run.FileCount, &run.TotalBytes, &run.Attempts, &run.Status,
		&run.Error, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no successful backup recorded")
		}
		return nil, fmt.Errorf("failed to query latest backup run: %w", err)
	}

	return run, nil
}

// ============================================================================
// BootstrapRun Operations
// ============================================================================

// CreateBootstrapRun inserts a new BootstrapRun and sets its ID
func (s *Store) CreateBootstrapRun(run *BootstrapRun) error {
	const query = `
		INSERT INTO bootstrap_runs (
			install_root, result_code, state, schema_missing, passes,
			started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.InstallRoot, run.ResultCode, run.State, run.SchemaMissing,
		run.Passes, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bootstrap run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// ListBootstrapRuns retrieves BootstrapRuns, newest first
func (s *Store) ListBootstrapRuns(limit int) ([]BootstrapRun, error) {
	query := `
		SELECT id, install_root, result_code, state, schema_missing, passes,
		       started_at, finished_at
		FROM bootstrap_runs ORDER BY started_at DESC
	`
	var args []interface{}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bootstrap runs: %w", err)
	}
	defer rows.Close()

	var runs []BootstrapRun
	for rows.Next() {
		run := BootstrapRun{}
		err := rows.Scan(
			&run.ID, &run.InstallRoot, &run.ResultCode, &run.State,
			&run.SchemaMissing, &run.Passes, &run.StartedAt, &run.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bootstrap run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bootstrap runs: %w", err)
	}

	return runs, nil
}
