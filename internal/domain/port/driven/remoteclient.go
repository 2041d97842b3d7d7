// Package driven defines the driven (outbound) port interfaces of the sync
// core: the remote source of truth, the persistent store, the LLM runner,
// and the audit sink.
package driven

import (
	"context"
	"errors"
	"time"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// Sentinel errors returned by RemoteClient implementations. They classify
// failures for the orchestrator's retry policy: ErrNotFound and ErrForbidden
// are recorded as per-item errors and never retried.
var (
	ErrNotFound  = errors.New("remote resource not found")
	ErrForbidden = errors.New("remote access forbidden")
)

// RemoteClient is the driven port for the remote pull-request source of truth.
// List methods paginate internally and return normalized snapshots; fields the
// list endpoint does not carry (diff size, commit count, CI state, review
// state) are filled by GetPullRequest.
type RemoteClient interface {
	// ListOpenPullRequests returns all open pull requests for the repository.
	ListOpenPullRequests(ctx context.Context, repoFullName string) ([]model.PullRequest, error)
	// ListRecentlyUpdated returns closed or merged pull requests updated
	// since the given instant.
	ListRecentlyUpdated(ctx context.Context, repoFullName string, since time.Time) ([]model.PullRequest, error)
	// GetPullRequest returns the full normalized snapshot of one pull
	// request, including diff stats, mergeability, CI and review state.
	GetPullRequest(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error)
	// ViewerLogin returns the login of the authenticated user, or an empty
	// string when no identity is available.
	ViewerLogin(ctx context.Context) (string, error)
}
