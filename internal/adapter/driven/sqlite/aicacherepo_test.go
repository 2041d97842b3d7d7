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

func makePRCacheEntry(prID int64, feature model.FeatureType, generatedAt time.Time) model.AICacheEntry {
	return model.AICacheEntry{
		FeatureType:   feature,
		PullRequestID: prID,
		ResultJSON:    json.RawMessage(`{"level": "low", "factors": []}`),
		GeneratedAt:   generatedAt,
		ExpiresAt:     generatedAt.Add(time.Hour),
	}
}

func makeRepoCacheEntry(repo string, feature model.FeatureType, generatedAt time.Time) model.AICacheEntry {
	return model.AICacheEntry{
		FeatureType: feature,
		Repository:  repo,
		ResultJSON:  json.RawMessage(`{"reviewers": ["alice"]}`),
		GeneratedAt: generatedAt,
		ExpiresAt:   generatedAt.Add(time.Hour),
	}
}

func TestAICacheRepo_UpsertForPullRequest(t *testing.T) {
	db := setupTestDB(t)
	cacheRepo := NewAICacheRepo(db)
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cacheRepo.UpsertForPullRequest(ctx, makePRCacheEntry(42, model.FeatureRiskAssessment, now)))

	got, err := cacheRepo.GetByPullRequest(ctx, model.FeatureRiskAssessment, 42)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, int64(42), got.PullRequestID)
	assert.Equal(t, model.FeatureRiskAssessment, got.FeatureType)
	assert.JSONEq(t, `{"level": "low", "factors": []}`, string(got.ResultJSON))
	assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
}

func TestAICacheRepo_UpsertReplacesInPlace(t *testing.T) {
	db := setupTestDB(t)
	cacheRepo := NewAICacheRepo(db)
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cacheRepo.UpsertForPullRequest(ctx, makePRCacheEntry(42, model.FeatureRiskAssessment, now)))

	refreshed := makePRCacheEntry(42, model.FeatureRiskAssessment, now.Add(30*time.Minute))
	refreshed.ResultJSON = json.RawMessage(`{"level": "high", "factors": ["large diff"]}`)
	require.NoError(t, cacheRepo.UpsertForPullRequest(ctx, refreshed))

	got, err := cacheRepo.GetByPullRequest(ctx, model.FeatureRiskAssessment, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"level": "high", "factors": ["large diff"]}`, string(got.ResultJSON))

	// Still exactly one row for the (PR, feature) pair.
	var count int
	require.NoError(t, db.Reader.QueryRow(
		`SELECT COUNT(*) FROM ai_cache_entries WHERE pull_request_id = 42`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAICacheRepo_FeaturesAreIndependent(t *testing.T) {
	db := setupTestDB(t)
	cacheRepo := NewAICacheRepo(db)
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cacheRepo.UpsertForPullRequest(ctx, makePRCacheEntry(42, model.FeatureRiskAssessment, now)))

	summary := makePRCacheEntry(42, model.FeaturePRSummary, now)
	summary.ResultText = "A tidy summary."
	require.NoError(t, cacheRepo.UpsertForPullRequest(ctx, summary))

	got, err := cacheRepo.GetByPullRequest(ctx, model.FeaturePRSummary, 42)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A tidy summary.", got.ResultText)

	miss, err := cacheRepo.GetByPullRequest(ctx, model.FeatureReviewerSuggestion, 42)
	require.NoError(t, err)
	assert.Nil(t, miss)
}

func TestAICacheRepo_UpsertRequiresPullRequestID(t *testing.T) {
	db := setupTestDB(t)
	cacheRepo := NewAICacheRepo(db)

	entry := makePRCacheEntry(0, model.FeaturePRSummary, time.Now())
	err := cacheRepo.UpsertForPullRequest(context.Background(), entry)
	assert.Error(t, err)
}

func TestAICacheRepo_RepositoryHistoryIsAppendOnly(t *testing.T) {
	db := setupTestDB(t)
	cacheRepo := NewAICacheRepo(db)
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	first := makeRepoCacheEntry("octocat/hello-world", model.FeatureReviewerSuggestion, now)
	second := makeRepoCacheEntry("octocat/hello-world", model.FeatureReviewerSuggestion, now.Add(time.Hour))
	second.ResultJSON = json.RawMessage(`{"reviewers": ["bob"]}`)

	require.NoError(t, cacheRepo.InsertForRepository(ctx, first))
	require.NoError(t, cacheRepo.InsertForRepository(ctx, second))

	entries, err := cacheRepo.LatestByRepository(ctx, model.FeatureReviewerSuggestion, "octocat/hello-world", now, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first, both rows retained.
	assert.JSONEq(t, `{"reviewers": ["bob"]}`, string(entries[0].ResultJSON))
	assert.JSONEq(t, `{"reviewers": ["alice"]}`, string(entries[1].ResultJSON))
}

func TestAICacheRepo_LatestByRepository_Limit(t *testing.T) {
	db := setupTestDB(t)
	cacheRepo := NewAICacheRepo(db)
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		entry := makeRepoCacheEntry("octocat/hello-world", model.FeatureReviewerSuggestion, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, cacheRepo.InsertForRepository(ctx, entry))
	}

	entries, err := cacheRepo.LatestByRepository(ctx, model.FeatureReviewerSuggestion, "octocat/hello-world", now, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].GeneratedAt.After(entries[1].GeneratedAt))
}

func TestAICacheRepo_LatestByRepository_ExcludesExpired(t *testing.T) {
	db := setupTestDB(t)
	cacheRepo := NewAICacheRepo(db)
	ctx := context.Background()

	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	live := makeRepoCacheEntry("octocat/hello-world", model.FeatureReviewerSuggestion, now)
	live.ExpiresAt = now.Add(72 * time.Hour)
	require.NoError(t, cacheRepo.InsertForRepository(ctx, live))

	// Newer rows that are already expired at read time must not crowd the
	// older live row out of a small limit.
	for i := range 3 {
		expired := makeRepoCacheEntry("octocat/hello-world", model.FeatureReviewerSuggestion, now.Add(time.Duration(i+1)*time.Minute))
		expired.ExpiresAt = now.Add(5 * time.Minute)
		expired.ResultJSON = json.RawMessage(`{"reviewers": ["bob"]}`)
		require.NoError(t, cacheRepo.InsertForRepository(ctx, expired))
	}

	readAt := now.Add(time.Hour)
	entries, err := cacheRepo.LatestByRepository(ctx, model.FeatureReviewerSuggestion, "octocat/hello-world", readAt, 2)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"reviewers": ["alice"]}`, string(entries[0].ResultJSON))
}

func TestAICacheRepo_InsertRequiresRepository(t *testing.T) {
	db := setupTestDB(t)
	cacheRepo := NewAICacheRepo(db)

	entry := makeRepoCacheEntry("", model.FeatureReviewerSuggestion, time.Now())
	err := cacheRepo.InsertForRepository(context.Background(), entry)
	assert.Error(t, err)
}

func TestAICacheRepo_GetByPullRequest_Miss(t *testing.T) {
	db := setupTestDB(t)
	cacheRepo := NewAICacheRepo(db)

	got, err := cacheRepo.GetByPullRequest(context.Background(), model.FeaturePRSummary, 7)
	require.NoError(t, err)
	assert.Nil(t, got)
}
