package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/provender/shelfsync/pkg/catalog"
	"github.com/provender/shelfsync/pkg/errors"
)

// DefaultRunHistory is how many recent runs survive pruning.
const DefaultRunHistory = 50

// Runs persists the sync run audit trail.
type Runs struct {
	db   *DB
	keep int
}

// NewRuns creates the run accessor. keep <= 0 uses DefaultRunHistory.
func NewRuns(db *DB, keep int) *Runs {
	if keep <= 0 {
		keep = DefaultRunHistory
	}
	return &Runs{db: db, keep: keep}
}

// Start records a run in progress. Finalize completes it.
func (r *Runs) Start(ctx context.Context, run *catalog.Run) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO sync_runs (run_id, mode, started_at, dry_run)
		VALUES (?, ?, ?, ?)`,
		run.RunID, run.Mode, formatTime(run.StartedAt), boolInt(run.DryRun))
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.RunID, err)
	}
	return nil
}

// Finalize writes the run's outcome and prunes history beyond the window.
func (r *Runs) Finalize(ctx context.Context, run *catalog.Run) error {
	errsJSON, err := json.Marshal(run.Errors)
	if err != nil {
		return fmt.Errorf("failed to encode run errors for %s: %w", run.RunID, err)
	}

	res, err := r.db.conn.ExecContext(ctx, `
		UPDATE sync_runs
		SET finished_at = ?, created = ?, updated = ?, deleted = ?, errors = ?, success = ?
		WHERE run_id = ?`,
		formatTime(run.FinishedAt), run.Created, run.Updated, run.Deleted,
		string(errsJSON), boolInt(run.Success), run.RunID)
	if err != nil {
		return fmt.Errorf("failed to finalize run %s: %w", run.RunID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("run", run.RunID)
	}

	return r.prune(ctx)
}

// Recent returns the latest runs, newest first, up to limit.
func (r *Runs) Recent(ctx context.Context, limit int) ([]catalog.Run, error) {
	if limit <= 0 {
		limit = r.keep
	}

	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT run_id, mode, started_at, finished_at, created, updated, deleted, errors, success, dry_run
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []catalog.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// LastSuccessful returns the most recent finished successful run, or
// ErrNotFound when no run has succeeded yet. Dry runs don't count: they
// never moved the catalog forward.
func (r *Runs) LastSuccessful(ctx context.Context) (*catalog.Run, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT run_id, mode, started_at, finished_at, created, updated, deleted, errors, success, dry_run
		FROM sync_runs
		WHERE success = 1 AND dry_run = 0 AND finished_at IS NOT NULL
		ORDER BY started_at DESC LIMIT 1`)

	run, err := scanRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFoundError("run", "last successful")
		}
		return nil, fmt.Errorf("failed to get last successful run: %w", err)
	}
	return &run, nil
}

// prune drops rows beyond the retention window, oldest first.
func (r *Runs) prune(ctx context.Context) error {
	_, err := r.db.conn.ExecContext(ctx, `
		DELETE FROM sync_runs WHERE run_id NOT IN (
			SELECT run_id FROM sync_runs ORDER BY started_at DESC LIMIT ?
		)`, r.keep)
	if err != nil {
		return fmt.Errorf("failed to prune run history: %w", err)
	}
	return nil
}

func scanRun(row rowScanner) (catalog.Run, error) {
	var (
		run        catalog.Run
		startedAt  string
		finishedAt sql.NullString
		errsJSON   string
		success    int
		dryRun     int
	)

	err := row.Scan(&run.RunID, &run.Mode, &startedAt, &finishedAt,
		&run.Created, &run.Updated, &run.Deleted, &errsJSON, &success, &dryRun)
	if err != nil {
		return catalog.Run{}, err
	}

	if errsJSON != "" && errsJSON != "[]" && errsJSON != "null" {
		if err := json.Unmarshal([]byte(errsJSON), &run.Errors); err != nil {
			return catalog.Run{}, fmt.Errorf("failed to decode run errors for %s: %w", run.RunID, err)
		}
	}

	run.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		run.FinishedAt = parseTime(finishedAt.String)
	}
	run.Success = success != 0
	run.DryRun = dryRun != 0
	return run, nil
}
