package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PRStore = (*PRRepo)(nil)

// PRRepo is the SQLite implementation of the PRStore port interface.
type PRRepo struct {
	db *DB
}

// NewPRRepo creates a new PRRepo backed by the given DB.
func NewPRRepo(db *DB) *PRRepo {
	return &PRRepo{db: db}
}

const prColumns = `
	id, repo_full_name, number, title, body, author, state, is_draft,
	labels, assignees, requested_reviewers, milestone, head_ref, base_ref,
	mergeable, additions, deletions, comment_count, commit_count,
	ci_state, review_state, github_created_at, github_updated_at, last_activity_at
`

// Upsert inserts or updates a pull request keyed on (repo_full_name, number).
// String sets are serialized as JSON arrays in TEXT columns.
func (r *PRRepo) Upsert(ctx context.Context, pr model.PullRequest) error {
	const query = `
		INSERT INTO pull_requests (
			repo_full_name, number, title, body, author, state, is_draft,
			labels, assignees, requested_reviewers, milestone, head_ref, base_ref,
			mergeable, additions, deletions, comment_count, commit_count,
			ci_state, review_state, github_created_at, github_updated_at, last_activity_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repo_full_name, number) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			author = excluded.author,
			state = excluded.state,
			is_draft = excluded.is_draft,
			labels = excluded.labels,
			assignees = excluded.assignees,
			requested_reviewers = excluded.requested_reviewers,
			milestone = excluded.milestone,
			head_ref = excluded.head_ref,
			base_ref = excluded.base_ref,
			mergeable = excluded.mergeable,
			additions = excluded.additions,
			deletions = excluded.deletions,
			comment_count = excluded.comment_count,
			commit_count = excluded.commit_count,
			ci_state = excluded.ci_state,
			review_state = excluded.review_state,
			github_created_at = excluded.github_created_at,
			github_updated_at = excluded.github_updated_at,
			last_activity_at = excluded.last_activity_at
	`

	labels, err := encodeStringArray(pr.Labels)
	if err != nil {
		return err
	}
	assignees, err := encodeStringArray(pr.Assignees)
	if err != nil {
		return err
	}
	reviewers, err := encodeStringArray(pr.RequestedReviewers)
	if err != nil {
		return err
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		pr.RepoFullName, pr.Number, pr.Title, pr.Body, pr.Author, string(pr.State), boolToInt(pr.IsDraft),
		labels, assignees, reviewers, pr.Milestone, pr.HeadRef, pr.BaseRef,
		string(pr.Mergeable), pr.Additions, pr.Deletions, pr.CommentCount, pr.CommitCount,
		string(pr.CIState), string(pr.ReviewState),
		pr.GithubCreatedAt.UTC(), pr.GithubUpdatedAt.UTC(), pr.LastActivityAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert pull request %s#%d: %w", pr.RepoFullName, pr.Number, err)
	}

	return nil
}

// GetByNumber retrieves a single pull request by repository and number.
// Returns nil, nil if the pull request does not exist.
func (r *PRRepo) GetByNumber(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE repo_full_name = ? AND number = ?`

	pr, err := scanPR(r.db.Reader.QueryRowContext(ctx, query, repoFullName, number))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get PR %s#%d: %w", repoFullName, number, err)
	}

	return pr, nil
}

// GetByID retrieves a single pull request by its row ID.
// Returns nil, nil if the pull request does not exist.
func (r *PRRepo) GetByID(ctx context.Context, id int64) (*model.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE id = ?`

	pr, err := scanPR(r.db.Reader.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get PR %d: %w", id, err)
	}

	return pr, nil
}

// GetByRepository returns all pull requests for the repository, ordered by number.
func (r *PRRepo) GetByRepository(ctx context.Context, repoFullName string) ([]model.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests WHERE repo_full_name = ? ORDER BY number`

	return r.queryPRs(ctx, query, repoFullName)
}

// ListAll returns all pull requests ordered by last upstream update, newest first.
func (r *PRRepo) ListAll(ctx context.Context) ([]model.PullRequest, error) {
	query := `SELECT ` + prColumns + ` FROM pull_requests ORDER BY github_updated_at DESC`

	return r.queryPRs(ctx, query)
}

func (r *PRRepo) queryPRs(ctx context.Context, query string, args ...any) ([]model.PullRequest, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pull requests: %w", err)
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, *pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}

	return prs, nil
}

func scanPR(s scanner) (*model.PullRequest, error) {
	var pr model.PullRequest
	var state, mergeable, ciState, reviewState string
	var isDraft int
	var labels, assignees, reviewers string
	var createdAt, updatedAt, lastActivityAt string

	err := s.Scan(
		&pr.ID, &pr.RepoFullName, &pr.Number, &pr.Title, &pr.Body, &pr.Author, &state, &isDraft,
		&labels, &assignees, &reviewers, &pr.Milestone, &pr.HeadRef, &pr.BaseRef,
		&mergeable, &pr.Additions, &pr.Deletions, &pr.CommentCount, &pr.CommitCount,
		&ciState, &reviewState, &createdAt, &updatedAt, &lastActivityAt,
	)
	if err != nil {
		return nil, err
	}

	pr.State = model.PRState(state)
	pr.IsDraft = isDraft != 0
	pr.Mergeable = model.MergeableState(mergeable)
	pr.CIState = model.CIState(ciState)
	pr.ReviewState = model.ReviewState(reviewState)

	// Corrupt array columns decode to empty sets; see decodeStringArray.
	pr.Labels = decodeStringArray(labels)
	pr.Assignees = decodeStringArray(assignees)
	pr.RequestedReviewers = decodeStringArray(reviewers)

	pr.GithubCreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse github_created_at: %w", err)
	}

	pr.GithubUpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse github_updated_at: %w", err)
	}

	pr.LastActivityAt, err = parseTime(lastActivityAt)
	if err != nil {
		return nil, fmt.Errorf("parse last_activity_at: %w", err)
	}

	return &pr, nil
}
