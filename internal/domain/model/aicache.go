package model

import (
	"encoding/json"
	"time"
)

// CacheKey scopes an AI cache entry to either a single pull request or a
// whole repository. Exactly one of the two identifiers is set; the unexported
// fields and the two constructors enforce the invariant, so the lookup paths
// cannot be conflated.
type CacheKey struct {
	pullRequestID int64
	repository    string
}

// PullRequestKey returns a cache key scoped to one pull request.
func PullRequestKey(pullRequestID int64) CacheKey {
	return CacheKey{pullRequestID: pullRequestID}
}

// RepositoryKey returns a cache key scoped to a repository aggregate.
func RepositoryKey(fullName string) CacheKey {
	return CacheKey{repository: fullName}
}

// IsPullRequest reports whether the key is pull-request scoped.
func (k CacheKey) IsPullRequest() bool { return k.pullRequestID != 0 }

// PullRequestID returns the pull request ID for PR-scoped keys, zero otherwise.
func (k CacheKey) PullRequestID() int64 { return k.pullRequestID }

// Repository returns the repository full name for repo-scoped keys, empty otherwise.
func (k CacheKey) Repository() string { return k.repository }

// AICacheEntry is one cached enrichment result. PR-scoped entries are unique
// per (pull request, feature) and upserted in place; repository-scoped entries
// are append-only history where the most recent non-expired row wins on read.
type AICacheEntry struct {
	ID            int64
	FeatureType   FeatureType
	PullRequestID int64  // Zero for repository-scoped entries.
	Repository    string // Empty for PR-scoped entries.
	ResultJSON    json.RawMessage
	ResultText    string
	GeneratedAt   time.Time
	ExpiresAt     time.Time
}

// Expired reports whether the entry's TTL has passed at the given instant.
// Expiry is exclusively time-checked at read; rows are never actively evicted.
func (e AICacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
