package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TrackedRepoStore = (*TrackedRepoRepo)(nil)

// TrackedRepoRepo is the SQLite implementation of the TrackedRepoStore port.
type TrackedRepoRepo struct {
	db *DB
}

// NewTrackedRepoRepo creates a new TrackedRepoRepo backed by the given DB.
func NewTrackedRepoRepo(db *DB) *TrackedRepoRepo {
	return &TrackedRepoRepo{db: db}
}

// Add inserts a new tracking. Returns ErrAlreadyTracked when the user already
// tracks the repository.
func (r *TrackedRepoRepo) Add(ctx context.Context, tr model.TrackedRepository) error {
	const query = `
		INSERT INTO tracked_repositories (user_login, full_name, repository_id, created_at)
		VALUES (?, ?, ?, ?)
	`

	createdAt := tr.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Writer.ExecContext(ctx, query, tr.UserLogin, tr.FullName, tr.RepositoryID, createdAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("track %s for %s: %w", tr.FullName, tr.UserLogin, driven.ErrAlreadyTracked)
		}
		return fmt.Errorf("track %s for %s: %w", tr.FullName, tr.UserLogin, err)
	}

	return nil
}

// Remove deletes a tracking. Returns ErrTrackingNotFound when no such
// tracking exists.
func (r *TrackedRepoRepo) Remove(ctx context.Context, userLogin, fullName string) error {
	const query = `DELETE FROM tracked_repositories WHERE user_login = ? AND full_name = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, userLogin, fullName)
	if err != nil {
		return fmt.Errorf("untrack %s for %s: %w", fullName, userLogin, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("untrack %s for %s: %w", fullName, userLogin, driven.ErrTrackingNotFound)
	}

	return nil
}

// ListByUser returns the user's trackings ordered by repository name.
func (r *TrackedRepoRepo) ListByUser(ctx context.Context, userLogin string) ([]model.TrackedRepository, error) {
	const query = `
		SELECT id, user_login, full_name, repository_id, created_at
		FROM tracked_repositories
		WHERE user_login = ?
		ORDER BY full_name
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, userLogin)
	if err != nil {
		return nil, fmt.Errorf("list trackings for %s: %w", userLogin, err)
	}
	defer rows.Close()

	var trackings []model.TrackedRepository
	for rows.Next() {
		var tr model.TrackedRepository
		var createdAt string

		if err := rows.Scan(&tr.ID, &tr.UserLogin, &tr.FullName, &tr.RepositoryID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan tracking: %w", err)
		}

		tr.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		trackings = append(trackings, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trackings: %w", err)
	}

	return trackings, nil
}

// ListDistinctRepos returns every distinct tracked repository full name across
// all users.
func (r *TrackedRepoRepo) ListDistinctRepos(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT full_name FROM tracked_repositories ORDER BY full_name`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list distinct repos: %w", err)
	}
	defer rows.Close()

	var repos []string
	for rows.Next() {
		var fullName string
		if err := rows.Scan(&fullName); err != nil {
			return nil, fmt.Errorf("scan repo name: %w", err)
		}
		repos = append(repos, fullName)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repos: %w", err)
	}

	return repos, nil
}
