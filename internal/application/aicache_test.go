package application

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// memCacheStore is an in-memory AICacheStore mirroring the SQLite semantics:
// PR-scoped rows unique per (pull request, feature), repo-scoped rows
// append-only returned newest first.
type memCacheStore struct {
	prRows   map[string]model.AICacheEntry
	repoRows []model.AICacheEntry
	nextID   int64
}

func newMemCacheStore() *memCacheStore {
	return &memCacheStore{prRows: map[string]model.AICacheEntry{}}
}

func prKey(feature model.FeatureType, id int64) string {
	return string(feature) + "/" + strconv.FormatInt(id, 10)
}

func (m *memCacheStore) UpsertForPullRequest(_ context.Context, entry model.AICacheEntry) error {
	m.nextID++
	entry.ID = m.nextID
	m.prRows[prKey(entry.FeatureType, entry.PullRequestID)] = entry
	return nil
}

func (m *memCacheStore) InsertForRepository(_ context.Context, entry model.AICacheEntry) error {
	m.nextID++
	entry.ID = m.nextID
	m.repoRows = append(m.repoRows, entry)
	return nil
}

func (m *memCacheStore) GetByPullRequest(_ context.Context, feature model.FeatureType, pullRequestID int64) (*model.AICacheEntry, error) {
	entry, ok := m.prRows[prKey(feature, pullRequestID)]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *memCacheStore) LatestByRepository(_ context.Context, feature model.FeatureType, repo string, liveAt time.Time, limit int) ([]model.AICacheEntry, error) {
	var out []model.AICacheEntry
	for i := len(m.repoRows) - 1; i >= 0 && len(out) < limit; i-- {
		row := m.repoRows[i]
		if row.FeatureType == feature && row.Repository == repo && row.ExpiresAt.After(liveAt) {
			out = append(out, row)
		}
	}
	return out, nil
}

func newTestCache(opts ...CacheOption) (*CacheService, *memCacheStore, *fakeClock) {
	store := newMemCacheStore()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	all := append([]CacheOption{WithCacheClock(clock.Now)}, opts...)
	return NewCacheService(store, all...), store, clock
}

func TestCacheSetAndGetPullRequestScoped(t *testing.T) {
	cache, _, _ := newTestCache()
	ctx := context.Background()
	key := model.PullRequestKey(42)

	require.NoError(t, cache.SetCachedResult(ctx, model.FeaturePRSummary, key,
		json.RawMessage(`{"summary": "adds a cache"}`), WithResultText("adds a cache")))

	entry, err := cache.GetCachedResult(ctx, model.FeaturePRSummary, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(42), entry.PullRequestID)
	assert.Equal(t, "adds a cache", entry.ResultText)
	assert.JSONEq(t, `{"summary": "adds a cache"}`, string(entry.ResultJSON))
}

func TestCacheMissOnOtherFeatureOrPR(t *testing.T) {
	cache, _, _ := newTestCache()
	ctx := context.Background()

	require.NoError(t, cache.SetCachedResult(ctx, model.FeaturePRSummary,
		model.PullRequestKey(42), json.RawMessage(`{}`)))

	entry, err := cache.GetCachedResult(ctx, model.FeatureRiskAssessment, model.PullRequestKey(42))
	require.NoError(t, err)
	assert.Nil(t, entry, "features are cached independently")

	entry, err = cache.GetCachedResult(ctx, model.FeaturePRSummary, model.PullRequestKey(43))
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestCacheExpiryIsCheckedAtRead(t *testing.T) {
	cache, _, clock := newTestCache(WithFeatureTTL(model.FeaturePRSummary, time.Hour))
	ctx := context.Background()
	key := model.PullRequestKey(42)

	require.NoError(t, cache.SetCachedResult(ctx, model.FeaturePRSummary, key, json.RawMessage(`{}`)))

	clock.Advance(59 * time.Minute)
	entry, err := cache.GetCachedResult(ctx, model.FeaturePRSummary, key)
	require.NoError(t, err)
	assert.NotNil(t, entry, "entry still live before the TTL")

	clock.Advance(time.Minute)
	entry, err = cache.GetCachedResult(ctx, model.FeaturePRSummary, key)
	require.NoError(t, err)
	assert.Nil(t, entry, "exactly at the TTL boundary the entry is a miss")
}

func TestCacheUpsertReplacesPRScopedRow(t *testing.T) {
	cache, store, clock := newTestCache()
	ctx := context.Background()
	key := model.PullRequestKey(42)

	require.NoError(t, cache.SetCachedResult(ctx, model.FeaturePRSummary, key, json.RawMessage(`"old"`)))
	clock.Advance(time.Minute)
	require.NoError(t, cache.SetCachedResult(ctx, model.FeaturePRSummary, key, json.RawMessage(`"new"`)))

	assert.Len(t, store.prRows, 1, "PR-scoped writes upsert in place")

	entry, err := cache.GetCachedResult(ctx, model.FeaturePRSummary, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, `"new"`, string(entry.ResultJSON))
}

func TestCacheRepositoryScopedLatestWins(t *testing.T) {
	cache, store, clock := newTestCache()
	ctx := context.Background()
	key := model.RepositoryKey("octocat/demo")

	require.NoError(t, cache.SetCachedResult(ctx, model.FeatureReviewerSuggestion, key, json.RawMessage(`"first"`)))
	clock.Advance(time.Minute)
	require.NoError(t, cache.SetCachedResult(ctx, model.FeatureReviewerSuggestion, key, json.RawMessage(`"second"`)))

	assert.Len(t, store.repoRows, 2, "repo-scoped writes append history")

	entry, err := cache.GetCachedResult(ctx, model.FeatureReviewerSuggestion, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, `"second"`, string(entry.ResultJSON))
}

func TestCacheRepositoryScopedSkipsExpiredHead(t *testing.T) {
	cache, _, clock := newTestCache()
	ctx := context.Background()
	key := model.RepositoryKey("octocat/demo")

	require.NoError(t, cache.SetCachedResult(ctx, model.FeatureReviewerSuggestion, key,
		json.RawMessage(`"long-lived"`), WithTTL(24*time.Hour)))
	clock.Advance(time.Minute)
	require.NoError(t, cache.SetCachedResult(ctx, model.FeatureReviewerSuggestion, key,
		json.RawMessage(`"short-lived"`), WithTTL(time.Minute)))

	// The newest row expires; the older live row is served instead.
	clock.Advance(2 * time.Minute)
	entry, err := cache.GetCachedResult(ctx, model.FeatureReviewerSuggestion, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, `"long-lived"`, string(entry.ResultJSON))
}

func TestCacheRepositoryScopedExpiredRunDoesNotHideLiveRow(t *testing.T) {
	cache, _, clock := newTestCache()
	ctx := context.Background()
	key := model.RepositoryKey("octocat/demo")

	require.NoError(t, cache.SetCachedResult(ctx, model.FeatureReviewerSuggestion, key,
		json.RawMessage(`"long-lived"`), WithTTL(72*time.Hour)))

	// A burst of short-lived rows larger than the read window, all expired by
	// read time. The store-side liveness filter must still surface the older
	// live row.
	for i := 0; i < repoHistoryScan+2; i++ {
		clock.Advance(time.Minute)
		require.NoError(t, cache.SetCachedResult(ctx, model.FeatureReviewerSuggestion, key,
			json.RawMessage(`"short-lived"`), WithTTL(time.Second)))
	}
	clock.Advance(time.Hour)

	entry, err := cache.GetCachedResult(ctx, model.FeatureReviewerSuggestion, key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, `"long-lived"`, string(entry.ResultJSON))
}

func TestCacheRejectsEmptyKey(t *testing.T) {
	cache, _, _ := newTestCache()
	ctx := context.Background()

	_, err := cache.GetCachedResult(ctx, model.FeaturePRSummary, model.CacheKey{})
	assert.ErrorIs(t, err, ErrEmptyCacheKey)

	err = cache.SetCachedResult(ctx, model.FeaturePRSummary, model.CacheKey{}, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrEmptyCacheKey)
}
