package driven

import (
	"context"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// AuditStore defines the driven port for the append-only action audit sink.
type AuditStore interface {
	Append(ctx context.Context, rec model.AuditRecord) error
	// Latest returns the most recent record for the action scoped to the
	// given repository and PR number (zero for repo-level actions), or nil
	// when none exists.
	Latest(ctx context.Context, action, repoFullName string, pullNumber int) (*model.AuditRecord, error)
}
