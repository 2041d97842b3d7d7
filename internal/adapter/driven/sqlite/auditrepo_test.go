package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

func makeAuditRecord(status model.AuditStatus, createdAt time.Time) model.AuditRecord {
	return model.AuditRecord{
		Action:     string(model.FeaturePRSummary),
		Status:     status,
		Repository: "octocat/hello-world",
		PullNumber: 7,
		Actor:      "pullwatch",
		Payload:    json.RawMessage(`{"model": "default"}`),
		CreatedAt:  createdAt,
	}
}

func TestAuditRepo_AppendAndLatest(t *testing.T) {
	db := setupTestDB(t)
	auditRepo := NewAuditRepo(db)
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, auditRepo.Append(ctx, makeAuditRecord(model.AuditStatusRunning, now)))
	require.NoError(t, auditRepo.Append(ctx, makeAuditRecord(model.AuditStatusCompleted, now.Add(time.Second))))

	got, err := auditRepo.Latest(ctx, string(model.FeaturePRSummary), "octocat/hello-world", 7)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, model.AuditStatusCompleted, got.Status)
	assert.Equal(t, "pullwatch", got.Actor)
	assert.JSONEq(t, `{"model": "default"}`, string(got.Payload))
	assert.True(t, got.CreatedAt.Equal(now.Add(time.Second)))
}

func TestAuditRepo_Latest_ScopedByRepoAndNumber(t *testing.T) {
	db := setupTestDB(t)
	auditRepo := NewAuditRepo(db)
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, auditRepo.Append(ctx, makeAuditRecord(model.AuditStatusFailed, now)))

	other := makeAuditRecord(model.AuditStatusCompleted, now.Add(time.Minute))
	other.PullNumber = 8
	require.NoError(t, auditRepo.Append(ctx, other))

	got, err := auditRepo.Latest(ctx, string(model.FeaturePRSummary), "octocat/hello-world", 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.AuditStatusFailed, got.Status, "records for other PRs are out of scope")

	miss, err := auditRepo.Latest(ctx, string(model.FeatureRiskAssessment), "octocat/hello-world", 7)
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestAuditRepo_Latest_None(t *testing.T) {
	db := setupTestDB(t)
	auditRepo := NewAuditRepo(db)

	got, err := auditRepo.Latest(context.Background(), "pr_summary", "octocat/unseen", 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestAuditRepo_Append_EmptyPayloadDefaults(t *testing.T) {
	db := setupTestDB(t)
	auditRepo := NewAuditRepo(db)
	ctx := context.Background()

	rec := makeAuditRecord(model.AuditStatusCompleted, time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	rec.Payload = nil
	require.NoError(t, auditRepo.Append(ctx, rec))

	got, err := auditRepo.Latest(ctx, rec.Action, rec.Repository, rec.PullNumber)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{}`, string(got.Payload))
}

func TestAuditRepo_ErrorField(t *testing.T) {
	db := setupTestDB(t)
	auditRepo := NewAuditRepo(db)
	ctx := context.Background()

	rec := makeAuditRecord(model.AuditStatusFailed, time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	rec.Error = "model endpoint returned HTTP 503"
	require.NoError(t, auditRepo.Append(ctx, rec))

	got, err := auditRepo.Latest(ctx, rec.Action, rec.Repository, rec.PullNumber)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "model endpoint returned HTTP 503", got.Error)
}
