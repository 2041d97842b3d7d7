package model

import "time"

// PullRequest is the canonical local mirror of one remote pull request.
// It is upserted by the reconciler and never deleted by the sync core;
// its lifecycle is tied to the tracking relationship.
type PullRequest struct {
	ID           int64
	RepoFullName string
	Number       int
	Title        string
	Body         string
	Author       string
	State        PRState
	IsDraft      bool

	Labels             []string
	Assignees          []string
	RequestedReviewers []string
	Milestone          string

	HeadRef   string
	BaseRef   string
	Mergeable MergeableState // Default MergeableUnknown.

	Additions    int
	Deletions    int
	CommentCount int
	CommitCount  int

	CIState     CIState     // Default CIStateUnknown.
	ReviewState ReviewState // Default ReviewStateUnreviewed.

	GithubCreatedAt time.Time
	GithubUpdatedAt time.Time
	LastActivityAt  time.Time

	// Transient: login of the last actor on the PR, populated during fetch
	// when available. Not persisted.
	LastActor string
}

// TotalChanges returns the combined line delta of the PR.
func (pr PullRequest) TotalChanges() int {
	return pr.Additions + pr.Deletions
}

// DaysSinceUpdated returns the number of whole days since the PR was last
// updated upstream.
func (pr PullRequest) DaysSinceUpdated() int {
	return int(time.Since(pr.GithubUpdatedAt).Hours() / 24)
}
