// package history persists finished action runs so the panel can show what
// happened to a project across restarts.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"pipedeck/internal/runner"
)

// Run is one recorded action execution.
type Run struct {
	ID          string    `json:"id"`
	Sequence    int       `json:"sequence"`
	ProjectPath string    `json:"project_path"`
	ProjectName string    `json:"project_name"`
	Subproject  string    `json:"subproject,omitempty"`
	Action      string    `json:"action"`
	Status      string    `json:"status"`
	Detail      string    `json:"detail,omitempty"`
	LogPath     string    `json:"log_path,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Store implements [runner.Recorder] over SQLite.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store with the given database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a finished outcome with the next sequence number.
func (s *Store) Record(outcome runner.Outcome) error {
	sequence, err := s.nextSequence()
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	query := `
		INSERT INTO runs (id, sequence, project_path, project_name, subproject, action, status, detail, log_path, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.Exec(query,
		outcome.ID,
		sequence,
		outcome.ProjectPath,
		outcome.ProjectName,
		outcome.Subproject,
		outcome.Action,
		outcome.Status,
		outcome.Detail,
		outcome.LogPath,
		outcome.StartedAt,
		outcome.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// Recent returns up to limit runs, newest first, optionally filtered to one
// project path.
func (s *Store) Recent(projectPath string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, sequence, project_path, project_name, subproject, action, status, detail, log_path, started_at, finished_at
		FROM runs
	`
	var args []any
	if projectPath != "" {
		query += " WHERE project_path = ?"
		args = append(args, projectPath)
	}
	query += " ORDER BY sequence DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var subproject, detail, logPath sql.NullString
		err := rows.Scan(&run.ID, &run.Sequence, &run.ProjectPath, &run.ProjectName,
			&subproject, &run.Action, &run.Status, &detail, &logPath,
			&run.StartedAt, &run.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Subproject = subproject.String
		run.Detail = detail.String
		run.LogPath = logPath.String
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// nextSequence atomically increments and returns the runs sequence counter.
func (s *Store) nextSequence() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE runs_sequence SET value = value + 1 WHERE id = 1"); err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	var sequence int
	if err := tx.QueryRow("SELECT value FROM runs_sequence WHERE id = 1").Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to get sequence value: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sequence transaction: %w", err)
	}

	return sequence, nil
}
