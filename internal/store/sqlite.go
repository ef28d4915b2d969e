package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed catalog of archive runs
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("catalog opened", "path", dbPath)
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
// Run Operations
// ============================================================================

const runColumns = `
	id, uuid, direction, source, destination, codec, dry_run, raw_output_dirs,
	files_included, files_excluded, dirs_skipped, total_size, archive_sha256,
	status, error_message, start_time, end_time
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	err := row.Scan(
		&run.ID, &run.UUID, &run.Direction, &run.Source, &run.Destination,
		&run.Codec, &run.DryRun, &run.RawOutputDirs, &run.FilesIncluded,
		&run.FilesExcluded, &run.DirsSkipped, &run.TotalSize, &run.ArchiveSHA256,
		&run.Status, &run.ErrorMessage, &run.StartTime, &run.EndTime,
	)
	return run, err
}

// CreateRun inserts a new Run and sets its ID. A UUID is assigned when empty.
func (s *Store) CreateRun(run *Run) error {
	if run.UUID == "" {
		run.UUID = uuid.NewString()
	}

	const query = `
		INSERT INTO runs (
			uuid, direction, source, destination, codec, dry_run, raw_output_dirs,
			files_included, files_excluded, dirs_skipped, total_size, archive_sha256,
			status, error_message, start_time, end_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.Exec(
		query,
		run.UUID, run.Direction, run.Source, run.Destination, run.Codec,
		run.DryRun, run.RawOutputDirs, run.FilesIncluded, run.FilesExcluded,
		run.DirsSkipped, run.TotalSize, run.ArchiveSHA256, run.Status,
		run.ErrorMessage, run.StartTime, run.EndTime,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	run.ID = id
	return nil
}

// UpdateRun updates an existing Run by ID
func (s *Store) UpdateRun(run *Run) error {
	const query = `
		UPDATE runs SET
			codec = ?, dry_run = ?, raw_output_dirs = ?, files_included = ?,
			files_excluded = ?, dirs_skipped = ?, total_size = ?, archive_sha256 = ?,
			status = ?, error_message = ?, end_time = ?
		WHERE id = ?
	`

	result, err := s.db.Exec(
		query,
		run.Codec, run.DryRun, run.RawOutputDirs, run.FilesIncluded,
		run.FilesExcluded, run.DirsSkipped, run.TotalSize, run.ArchiveSHA256,
		run.Status, run.ErrorMessage, run.EndTime, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("run not found: %d", run.ID)
	}

	return nil
}

// GetRun retrieves a Run by ID
func (s *Store) GetRun(id int64) (*Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE id = ?"

	run, err := scanRun(s.db.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found: %d", id)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}

	return &run, nil
}

// ListRuns retrieves Runs newest first, optionally filtered by direction
func (s *Store) ListRuns(direction string, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs"
	var args []interface{}

	if direction != "" {
		query += " WHERE direction = ?"
		args = append(args, direction)
	}

	query += " ORDER BY start_time DESC, id DESC"

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ============================================================================
// Exclusion Operations
// ============================================================================

// AddExclusions records the excluded paths of a run in one transaction
func (s *Store) AddExclusions(runID int64, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO run_exclusions (run_id, path) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare exclusion insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range paths {
		if _, err := stmt.Exec(runID, p); err != nil {
			return fmt.Errorf("failed to insert exclusion %s: %w", p, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit exclusions: %w", err)
	}
	return nil
}

// ListExclusions retrieves the excluded paths of a run in insertion order
func (s *Store) ListExclusions(runID int64) ([]Exclusion, error) {
	const query = "SELECT id, run_id, path FROM run_exclusions WHERE run_id = ? ORDER BY id"

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query exclusions: %w", err)
	}
	defer rows.Close()

	var exclusions []Exclusion
	for rows.Next() {
		var e Exclusion
		if err := rows.Scan(&e.ID, &e.RunID, &e.Path); err != nil {
			return nil, fmt.Errorf("failed to scan exclusion: %w", err)
		}
		exclusions = append(exclusions, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exclusions: %w", err)
	}

	return exclusions, nil
}
