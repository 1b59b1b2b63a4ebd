package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/korimako/fieldtest/internal/shared"
)

// Run is one recorded invocation against a deployment.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	ServerURL  string
	Outcome    string // running, passed, failed, aborted
}

// RunRepository persists [Run] rows.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new [RunRepository] with the given database connection
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Start inserts a new run in the running state and returns it.
func (r *RunRepository) Start(serverURL string) (*Run, error) {
	run := &Run{
		ID:        shared.GenerateID(),
		StartedAt: time.Now().UTC(),
		ServerURL: serverURL,
		Outcome:   "running",
	}

	query := `
		INSERT INTO runs (id, started_at, server_url, outcome) VALUES (?, ?, ?, ?)
	`
	if _, err := r.db.Exec(query, run.ID, run.StartedAt, run.ServerURL, run.Outcome); err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	return run, nil
}

// Finish stamps a run with its outcome and finish time.
func (r *RunRepository) Finish(id, outcome string) error {
	result, err := r.db.Exec(
		"UPDATE runs SET outcome = ?, finished_at = ? WHERE id = ?",
		outcome, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// Get retrieves a run by ID
func (r *RunRepository) Get(id string) (*Run, error) {
	query := `
		SELECT id, started_at, finished_at, server_url, outcome FROM runs WHERE id = ?
	`
	return scanRun(r.db.QueryRow(query, id))
}

// List returns all runs, most recent first.
func (r *RunRepository) List() ([]*Run, error) {
	query := `
		SELECT id, started_at, finished_at, server_url, outcome FROM runs ORDER BY started_at DESC
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var finished sql.NullTime
	if err := row.Scan(&run.ID, &run.StartedAt, &finished, &run.ServerURL, &run.Outcome); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("run not found")
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}
