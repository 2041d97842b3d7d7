package driven

import (
	"context"
	"errors"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// Sentinel errors returned by TrackedRepoStore implementations.
var (
	// ErrTrackingNotFound indicates the requested tracking does not exist.
	ErrTrackingNotFound = errors.New("tracked repository not found")

	// ErrAlreadyTracked indicates the user already tracks the repository.
	ErrAlreadyTracked = errors.New("repository already tracked")
)

// TrackedRepoStore defines the driven port for repository subscriptions.
// Add returns ErrAlreadyTracked on a duplicate (user, repository) pair;
// Remove returns ErrTrackingNotFound when no such tracking exists.
type TrackedRepoStore interface {
	Add(ctx context.Context, tr model.TrackedRepository) error
	Remove(ctx context.Context, userLogin, fullName string) error
	ListByUser(ctx context.Context, userLogin string) ([]model.TrackedRepository, error)
	// ListDistinctRepos returns every distinct tracked repository full name
	// across all users, for scheduled polls without a user scope.
	ListDistinctRepos(ctx context.Context) ([]string, error)
}
