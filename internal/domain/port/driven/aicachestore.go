package driven

import (
	"context"
	"time"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// AICacheStore defines the driven port for cached enrichment results.
// UpsertForPullRequest must be a single atomic insert-or-update keyed on the
// unique (pull_request_id, feature_type) pair, not a read-then-write sequence,
// so two concurrent enrichment calls for the same PR and feature cannot race.
// InsertForRepository appends to the repository-scoped history.
type AICacheStore interface {
	UpsertForPullRequest(ctx context.Context, entry model.AICacheEntry) error
	InsertForRepository(ctx context.Context, entry model.AICacheEntry) error
	GetByPullRequest(ctx context.Context, feature model.FeatureType, pullRequestID int64) (*model.AICacheEntry, error)
	// LatestByRepository returns entries for the repository and feature whose
	// expiry lies after liveAt, newest first, capped at limit. Filtering at
	// the store keeps a run of freshly expired rows from hiding an older
	// still-live one behind the limit.
	LatestByRepository(ctx context.Context, feature model.FeatureType, repoFullName string, liveAt time.Time, limit int) ([]model.AICacheEntry, error)
}
