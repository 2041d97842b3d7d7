package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// ErrEmptyCacheKey is returned when a cache operation receives a zero-value
// key that names neither a pull request nor a repository.
var ErrEmptyCacheKey = errors.New("cache key names neither pull request nor repository")

// repoHistoryScan bounds the repository-scoped history query. The store
// filters out expired rows, and reads take the newest live one.
const repoHistoryScan = 10

// Default TTL per feature type: a risk assessment is valid until the diff
// changes, reviewer workload goes stale within hours. TTL is caller policy;
// these are the fallbacks when the caller supplies none.
var defaultTTLs = map[model.FeatureType]time.Duration{
	model.FeaturePRSummary:          24 * time.Hour,
	model.FeatureRiskAssessment:     12 * time.Hour,
	model.FeatureReviewerSuggestion: 6 * time.Hour,
}

// CacheService is the keyed TTL cache over the persistent store used by the
// enrichment features to avoid repeat upstream calls.
type CacheService struct {
	store driven.AICacheStore
	ttls  map[model.FeatureType]time.Duration
	now   func() time.Time
}

// CacheOption configures a CacheService.
type CacheOption func(*CacheService)

// WithFeatureTTL overrides the default TTL for one feature type.
func WithFeatureTTL(feature model.FeatureType, ttl time.Duration) CacheOption {
	return func(s *CacheService) { s.ttls[feature] = ttl }
}

// WithCacheClock sets a custom clock function (for testing).
func WithCacheClock(fn func() time.Time) CacheOption {
	return func(s *CacheService) { s.now = fn }
}

// NewCacheService creates a CacheService over the given store.
func NewCacheService(store driven.AICacheStore, opts ...CacheOption) *CacheService {
	s := &CacheService{
		store: store,
		ttls:  make(map[model.FeatureType]time.Duration, len(defaultTTLs)),
		now:   time.Now,
	}
	for feature, ttl := range defaultTTLs {
		s.ttls[feature] = ttl
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetCachedResult returns the live cached entry for the feature and key, or
// nil on a miss. A stored row whose TTL has passed is a miss; expiry is
// exclusively time-checked on read, never actively evicted.
func (s *CacheService) GetCachedResult(ctx context.Context, feature model.FeatureType, key model.CacheKey) (*model.AICacheEntry, error) {
	switch {
	case key.IsPullRequest():
		entry, err := s.store.GetByPullRequest(ctx, feature, key.PullRequestID())
		if err != nil {
			return nil, fmt.Errorf("get cached %s for pr %d: %w", feature, key.PullRequestID(), err)
		}
		if entry == nil || entry.Expired(s.now()) {
			return nil, nil
		}
		return entry, nil

	case key.Repository() != "":
		entries, err := s.store.LatestByRepository(ctx, feature, key.Repository(), s.now(), repoHistoryScan)
		if err != nil {
			return nil, fmt.Errorf("get cached %s for repo %s: %w", feature, key.Repository(), err)
		}
		if len(entries) > 0 {
			return &entries[0], nil
		}
		return nil, nil

	default:
		return nil, ErrEmptyCacheKey
	}
}

// SetOption configures one cache write.
type SetOption func(*model.AICacheEntry)

// WithResultText attaches a plain-text rendering of the result.
func WithResultText(text string) SetOption {
	return func(e *model.AICacheEntry) { e.ResultText = text }
}

// WithTTL overrides the feature's default TTL for this write.
func WithTTL(ttl time.Duration) SetOption {
	return func(e *model.AICacheEntry) { e.ExpiresAt = e.GeneratedAt.Add(ttl) }
}

// SetCachedResult stores an enrichment result under the key. PR-scoped writes
// upsert the unique (pull request, feature) row atomically; repository-scoped
// writes append a new history row, latest wins on read.
func (s *CacheService) SetCachedResult(ctx context.Context, feature model.FeatureType, key model.CacheKey, result json.RawMessage, opts ...SetOption) error {
	now := s.now()
	entry := model.AICacheEntry{
		FeatureType: feature,
		ResultJSON:  result,
		GeneratedAt: now,
		ExpiresAt:   now.Add(s.ttlFor(feature)),
	}
	for _, o := range opts {
		o(&entry)
	}

	switch {
	case key.IsPullRequest():
		entry.PullRequestID = key.PullRequestID()
		if err := s.store.UpsertForPullRequest(ctx, entry); err != nil {
			return fmt.Errorf("cache %s for pr %d: %w", feature, entry.PullRequestID, err)
		}
		return nil

	case key.Repository() != "":
		entry.Repository = key.Repository()
		if err := s.store.InsertForRepository(ctx, entry); err != nil {
			return fmt.Errorf("cache %s for repo %s: %w", feature, entry.Repository, err)
		}
		return nil

	default:
		return ErrEmptyCacheKey
	}
}

func (s *CacheService) ttlFor(feature model.FeatureType) time.Duration {
	if ttl, ok := s.ttls[feature]; ok {
		return ttl
	}
	return 24 * time.Hour
}
