package model

import (
	"encoding/json"
	"time"
)

// AuditRecord is one append-only action record written to the audit sink.
// Consumed for observability, not required for correctness.
type AuditRecord struct {
	ID         int64
	Action     string
	Status     AuditStatus
	Repository string
	PullNumber int // Zero when the action is not PR-scoped.
	Actor      string
	Payload    json.RawMessage
	Error      string
	CreatedAt  time.Time
}
