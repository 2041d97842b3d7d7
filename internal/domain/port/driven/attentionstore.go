package driven

import (
	"context"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// AttentionStore defines the driven port for the derived attention rows.
// Replace fully overwrites the row for the pull request; attention state is
// recomputed as a unit, never patched field by field. Risk fields are the
// exception: they are owned by the enrichment feature and written through
// SetRisk without disturbing the scorer's output.
type AttentionStore interface {
	Replace(ctx context.Context, att model.PullRequestAttention) error
	GetByPullRequestID(ctx context.Context, pullRequestID int64) (*model.PullRequestAttention, error)
	SetRisk(ctx context.Context, pullRequestID int64, level string, factors []string) error
	ListNeedingAttention(ctx context.Context) ([]model.PullRequestAttention, error)
}
