package driven

import (
	"context"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// SyncRunStore defines the driven port for the append-only sync audit trail.
type SyncRunStore interface {
	Append(ctx context.Context, run model.SyncRun) error
	ListRecent(ctx context.Context, limit int) ([]model.SyncRun, error)
}
