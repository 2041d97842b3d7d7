package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SyncRunStore = (*SyncRunRepo)(nil)

// SyncRunRepo is the SQLite implementation of the SyncRunStore port.
type SyncRunRepo struct {
	db *DB
}

// NewSyncRunRepo creates a new SyncRunRepo backed by the given DB.
func NewSyncRunRepo(db *DB) *SyncRunRepo {
	return &SyncRunRepo{db: db}
}

// Append inserts one sync run audit row. Runs are append-only.
func (r *SyncRunRepo) Append(ctx context.Context, run model.SyncRun) error {
	const query = `
		INSERT INTO sync_runs (
			run_id, trigger_kind, status, started_at, finished_at,
			pulled_count, upserted_count, error_count, errors, viewer_login
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	errs := run.Errors
	if errs == nil {
		errs = []model.SyncError{}
	}
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshal sync errors: %w", err)
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		run.RunID, string(run.Trigger), string(run.Status),
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.PulledCount, run.UpsertedCount, run.ErrorCount,
		string(errsJSON), run.ViewerLogin,
	)
	if err != nil {
		return fmt.Errorf("append sync run %s: %w", run.RunID, err)
	}

	return nil
}

// ListRecent returns the most recent sync runs, newest first.
func (r *SyncRunRepo) ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error) {
	const query = `
		SELECT run_id, trigger_kind, status, started_at, finished_at,
		       pulled_count, upserted_count, error_count, errors, viewer_login
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []model.SyncRun
	for rows.Next() {
		var run model.SyncRun
		var trigger, status, startedAt, finishedAt, errsJSON string

		err := rows.Scan(
			&run.RunID, &trigger, &status, &startedAt, &finishedAt,
			&run.PulledCount, &run.UpsertedCount, &run.ErrorCount,
			&errsJSON, &run.ViewerLogin,
		)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}

		run.Trigger = model.SyncTrigger(trigger)
		run.Status = model.SyncStatus(status)

		if err := json.Unmarshal([]byte(errsJSON), &run.Errors); err != nil {
			run.Errors = []model.SyncError{}
		}

		run.StartedAt, err = parseTime(startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		run.FinishedAt, err = parseTime(finishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}

	return runs, nil
}
