package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.AuditStore = (*AuditRepo)(nil)

// AuditRepo is the SQLite implementation of the append-only AuditStore port.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new AuditRepo backed by the given DB.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// Append inserts one action record.
func (r *AuditRepo) Append(ctx context.Context, rec model.AuditRecord) error {
	const query = `
		INSERT INTO audit_log (action, status, repo_full_name, pr_number, actor, payload, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		rec.Action, string(rec.Status), rec.Repository, rec.PullNumber,
		rec.Actor, string(payload), rec.Error, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("append audit record %s: %w", rec.Action, err)
	}

	return nil
}

// Latest returns the most recent record for the action in the given scope,
// or nil when none exists.
func (r *AuditRepo) Latest(ctx context.Context, action, repoFullName string, pullNumber int) (*model.AuditRecord, error) {
	const query = `
		SELECT id, action, status, repo_full_name, pr_number, actor, payload, error, created_at
		FROM audit_log
		WHERE action = ? AND repo_full_name = ? AND pr_number = ?
		ORDER BY id DESC
		LIMIT 1
	`

	var rec model.AuditRecord
	var status, payload, createdAt string

	err := r.db.Reader.QueryRowContext(ctx, query, action, repoFullName, pullNumber).Scan(
		&rec.ID, &rec.Action, &status, &rec.Repository, &rec.PullNumber,
		&rec.Actor, &payload, &rec.Error, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest audit record %s: %w", action, err)
	}

	rec.Status = model.AuditStatus(status)
	rec.Payload = json.RawMessage(payload)

	rec.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &rec, nil
}
