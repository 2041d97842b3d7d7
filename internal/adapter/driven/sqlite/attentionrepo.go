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
var _ driven.AttentionStore = (*AttentionRepo)(nil)

// AttentionRepo is the SQLite implementation of the AttentionStore port.
type AttentionRepo struct {
	db *DB
}

// NewAttentionRepo creates a new AttentionRepo backed by the given DB.
func NewAttentionRepo(db *DB) *AttentionRepo {
	return &AttentionRepo{db: db}
}

const attentionColumns = `
	pull_request_id, needs_attention, attention_reason, urgency_score,
	score_breakdown, flow_phase, risk_level, risk_factors, last_synced_at
`

// Replace fully overwrites the scorer-owned fields of the attention row.
// Risk columns belong to the enrichment feature and survive the replace.
func (r *AttentionRepo) Replace(ctx context.Context, att model.PullRequestAttention) error {
	const query = `
		INSERT INTO pr_attention (
			pull_request_id, needs_attention, attention_reason, urgency_score,
			score_breakdown, flow_phase, last_synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pull_request_id) DO UPDATE SET
			needs_attention = excluded.needs_attention,
			attention_reason = excluded.attention_reason,
			urgency_score = excluded.urgency_score,
			score_breakdown = excluded.score_breakdown,
			flow_phase = excluded.flow_phase,
			last_synced_at = excluded.last_synced_at
	`

	breakdown, err := json.Marshal(att.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal score breakdown: %w", err)
	}

	var reason any
	if att.AttentionReason != "" {
		reason = att.AttentionReason
	}

	_, err = r.db.Writer.ExecContext(ctx, query,
		att.PullRequestID, boolToInt(att.NeedsAttention), reason, att.UrgencyScore,
		string(breakdown), att.FlowPhase, att.LastSyncedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("replace attention for PR %d: %w", att.PullRequestID, err)
	}

	return nil
}

// SetRisk writes the enrichment-owned risk columns without touching the
// scorer's output. Inserts a neutral row if the PR has no attention row yet.
func (r *AttentionRepo) SetRisk(ctx context.Context, pullRequestID int64, level string, factors []string) error {
	const query = `
		INSERT INTO pr_attention (pull_request_id, risk_level, risk_factors, last_synced_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(pull_request_id) DO UPDATE SET
			risk_level = excluded.risk_level,
			risk_factors = excluded.risk_factors
	`

	encoded, err := encodeStringArray(factors)
	if err != nil {
		return err
	}

	if _, err := r.db.Writer.ExecContext(ctx, query, pullRequestID, level, encoded); err != nil {
		return fmt.Errorf("set risk for PR %d: %w", pullRequestID, err)
	}

	return nil
}

// GetByPullRequestID retrieves the attention row for a pull request.
// Returns nil, nil if none exists.
func (r *AttentionRepo) GetByPullRequestID(ctx context.Context, pullRequestID int64) (*model.PullRequestAttention, error) {
	query := `SELECT ` + attentionColumns + ` FROM pr_attention WHERE pull_request_id = ?`

	att, err := scanAttention(r.db.Reader.QueryRowContext(ctx, query, pullRequestID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attention for PR %d: %w", pullRequestID, err)
	}

	return att, nil
}

// ListNeedingAttention returns all attention rows flagged as needing
// attention, most urgent first.
func (r *AttentionRepo) ListNeedingAttention(ctx context.Context) ([]model.PullRequestAttention, error) {
	query := `SELECT ` + attentionColumns + ` FROM pr_attention WHERE needs_attention = 1 ORDER BY urgency_score DESC`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list attention rows: %w", err)
	}
	defer rows.Close()

	var atts []model.PullRequestAttention
	for rows.Next() {
		att, err := scanAttention(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attention row: %w", err)
		}
		atts = append(atts, *att)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attention rows: %w", err)
	}

	return atts, nil
}

func scanAttention(s scanner) (*model.PullRequestAttention, error) {
	var att model.PullRequestAttention
	var needsAttention int
	var reason sql.NullString
	var breakdown, riskFactors string
	var lastSyncedAt string

	err := s.Scan(
		&att.PullRequestID, &needsAttention, &reason, &att.UrgencyScore,
		&breakdown, &att.FlowPhase, &att.RiskLevel, &riskFactors, &lastSyncedAt,
	)
	if err != nil {
		return nil, err
	}

	att.NeedsAttention = needsAttention != 0
	att.AttentionReason = reason.String

	// A malformed breakdown decodes to the zero value; the fail-open policy
	// for stored JSON applies here the same as for array columns.
	if err := json.Unmarshal([]byte(breakdown), &att.Breakdown); err != nil {
		att.Breakdown = model.ScoreBreakdown{}
	}
	att.RiskFactors = decodeStringArray(riskFactors)

	att.LastSyncedAt, err = parseTime(lastSyncedAt)
	if err != nil {
		return nil, fmt.Errorf("parse last_synced_at: %w", err)
	}

	return &att, nil
}
