package driven

import (
	"context"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// PRStore defines the driven port for pull request persistence. Upsert is
// keyed on the unique (repo_full_name, number) pair.
type PRStore interface {
	Upsert(ctx context.Context, pr model.PullRequest) error
	GetByNumber(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error)
	GetByID(ctx context.Context, id int64) (*model.PullRequest, error)
	GetByRepository(ctx context.Context, repoFullName string) ([]model.PullRequest, error)
	ListAll(ctx context.Context) ([]model.PullRequest, error)
}
