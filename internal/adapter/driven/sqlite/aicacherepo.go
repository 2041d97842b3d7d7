package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AICacheStore = (*AICacheRepo)(nil)

// AICacheRepo is the SQLite implementation of the AICacheStore port.
type AICacheRepo struct {
	db *DB
}

// NewAICacheRepo creates a new AICacheRepo backed by the given DB.
func NewAICacheRepo(db *DB) *AICacheRepo {
	return &AICacheRepo{db: db}
}

// UpsertForPullRequest atomically inserts or updates the unique
// (pull_request_id, feature_type) row. The conflict target is the partial
// unique index on PR-scoped entries, so concurrent writes for the same PR and
// feature cannot create duplicates.
func (r *AICacheRepo) UpsertForPullRequest(ctx context.Context, entry model.AICacheEntry) error {
	const query = `
		INSERT INTO ai_cache_entries (
			feature_type, pull_request_id, result_json, result_text, generated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(pull_request_id, feature_type) WHERE pull_request_id IS NOT NULL DO UPDATE SET
			result_json = excluded.result_json,
			result_text = excluded.result_text,
			generated_at = excluded.generated_at,
			expires_at = excluded.expires_at
	`

	if entry.PullRequestID == 0 {
		return fmt.Errorf("upsert cache entry: missing pull request id")
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		string(entry.FeatureType), entry.PullRequestID,
		string(entry.ResultJSON), entry.ResultText,
		entry.GeneratedAt.UTC(), entry.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert cache entry %s/pr-%d: %w", entry.FeatureType, entry.PullRequestID, err)
	}

	return nil
}

// InsertForRepository appends one repository-scoped history row.
func (r *AICacheRepo) InsertForRepository(ctx context.Context, entry model.AICacheEntry) error {
	const query = `
		INSERT INTO ai_cache_entries (
			feature_type, repo_full_name, result_json, result_text, generated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	if entry.Repository == "" {
		return fmt.Errorf("insert cache entry: missing repository")
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		string(entry.FeatureType), entry.Repository,
		string(entry.ResultJSON), entry.ResultText,
		entry.GeneratedAt.UTC(), entry.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert cache entry %s/%s: %w", entry.FeatureType, entry.Repository, err)
	}

	return nil
}

// GetByPullRequest returns the unique PR-scoped row for the feature, or nil.
// Expiry is not checked here; the cache service owns the time policy.
func (r *AICacheRepo) GetByPullRequest(ctx context.Context, feature model.FeatureType, pullRequestID int64) (*model.AICacheEntry, error) {
	const query = `
		SELECT id, feature_type, pull_request_id, COALESCE(repo_full_name, ''),
		       result_json, result_text, generated_at, expires_at
		FROM ai_cache_entries
		WHERE pull_request_id = ? AND feature_type = ?
	`

	entry, err := scanCacheEntry(r.db.Reader.QueryRowContext(ctx, query, pullRequestID, string(feature)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry %s/pr-%d: %w", feature, pullRequestID, err)
	}

	return entry, nil
}

// LatestByRepository returns the repository's still-live history rows for the
// feature, newest first, capped at limit. Expired rows are excluded in SQL so
// the limit only counts rows a caller could actually use.
func (r *AICacheRepo) LatestByRepository(ctx context.Context, feature model.FeatureType, repoFullName string, liveAt time.Time, limit int) ([]model.AICacheEntry, error) {
	const query = `
		SELECT id, feature_type, COALESCE(pull_request_id, 0), repo_full_name,
		       result_json, result_text, generated_at, expires_at
		FROM ai_cache_entries
		WHERE repo_full_name = ? AND feature_type = ? AND expires_at > ?
		ORDER BY generated_at DESC
		LIMIT ?
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoFullName, string(feature), liveAt.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list cache entries %s/%s: %w", feature, repoFullName, err)
	}
	defer rows.Close()

	var entries []model.AICacheEntry
	for rows.Next() {
		entry, err := scanCacheEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cache entries: %w", err)
	}

	return entries, nil
}

func scanCacheEntry(s scanner) (*model.AICacheEntry, error) {
	var entry model.AICacheEntry
	var feature, resultJSON, generatedAt, expiresAt string
	var prID sql.NullInt64

	err := s.Scan(
		&entry.ID, &feature, &prID, &entry.Repository,
		&resultJSON, &entry.ResultText, &generatedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	entry.FeatureType = model.FeatureType(feature)
	entry.PullRequestID = prID.Int64
	entry.ResultJSON = json.RawMessage(resultJSON)

	entry.GeneratedAt, err = parseTime(generatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse generated_at: %w", err)
	}
	entry.ExpiresAt, err = parseTime(expiresAt)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}

	return &entry, nil
}
