package application

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// memPRStore is an in-memory PRStore keyed on (repo, number), assigning row
// IDs on first insert like the SQLite implementation.
type memPRStore struct {
	mu     sync.Mutex
	rows   map[string]model.PullRequest
	nextID int64
}

func newMemPRStore() *memPRStore {
	return &memPRStore{rows: map[string]model.PullRequest{}}
}

func prStoreKey(repo string, number int) string {
	return repo + "#" + strconv.Itoa(number)
}

func (m *memPRStore) Upsert(_ context.Context, pr model.PullRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := prStoreKey(pr.RepoFullName, pr.Number)
	if existing, ok := m.rows[key]; ok {
		pr.ID = existing.ID
	} else {
		m.nextID++
		pr.ID = m.nextID
	}
	m.rows[key] = pr
	return nil
}

func (m *memPRStore) GetByNumber(_ context.Context, repo string, number int) (*model.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pr, ok := m.rows[prStoreKey(repo, number)]
	if !ok {
		return nil, nil
	}
	return &pr, nil
}

func (m *memPRStore) GetByID(_ context.Context, id int64) (*model.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, pr := range m.rows {
		if pr.ID == id {
			return &pr, nil
		}
	}
	return nil, nil
}

func (m *memPRStore) GetByRepository(_ context.Context, repo string) ([]model.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.PullRequest
	for _, pr := range m.rows {
		if pr.RepoFullName == repo {
			out = append(out, pr)
		}
	}
	return out, nil
}

func (m *memPRStore) ListAll(_ context.Context) ([]model.PullRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.PullRequest, 0, len(m.rows))
	for _, pr := range m.rows {
		out = append(out, pr)
	}
	return out, nil
}

// memAttentionStore is an in-memory AttentionStore with SetRisk preserving
// scorer fields and Replace preserving risk fields, like the SQLite rows.
type memAttentionStore struct {
	mu   sync.Mutex
	rows map[int64]model.PullRequestAttention
}

func newMemAttentionStore() *memAttentionStore {
	return &memAttentionStore{rows: map[int64]model.PullRequestAttention{}}
}

func (m *memAttentionStore) Replace(_ context.Context, att model.PullRequestAttention) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.rows[att.PullRequestID]; ok {
		att.RiskLevel = existing.RiskLevel
		att.RiskFactors = existing.RiskFactors
	}
	m.rows[att.PullRequestID] = att
	return nil
}

func (m *memAttentionStore) GetByPullRequestID(_ context.Context, id int64) (*model.PullRequestAttention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	att, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &att, nil
}

func (m *memAttentionStore) SetRisk(_ context.Context, id int64, level string, factors []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	att := m.rows[id]
	att.PullRequestID = id
	att.RiskLevel = level
	att.RiskFactors = factors
	m.rows[id] = att
	return nil
}

func (m *memAttentionStore) ListNeedingAttention(_ context.Context) ([]model.PullRequestAttention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.PullRequestAttention
	for _, att := range m.rows {
		if att.NeedsAttention {
			out = append(out, att)
		}
	}
	return out, nil
}

func reconcilerFixture() (*Reconciler, *memPRStore, *memAttentionStore) {
	prs := newMemPRStore()
	atts := newMemAttentionStore()
	return NewReconciler(prs, atts, promotionRules()), prs, atts
}

func snapshotPR() model.PullRequest {
	return model.PullRequest{
		RepoFullName:       "octocat/demo",
		Number:             7,
		Title:              "add cache",
		Author:             "bob",
		State:              model.PRStateOpen,
		HeadRef:            "feature/cache",
		BaseRef:            "develop",
		Mergeable:          model.MergeableYes,
		CIState:            model.CIStateSuccess,
		ReviewState:        model.ReviewStateRequested,
		RequestedReviewers: []string{"alice"},
		GithubCreatedAt:    time.Now().Add(-24 * time.Hour),
		GithubUpdatedAt:    time.Now().Add(-time.Hour),
	}
}

func TestReconcileUpsertsAndScores(t *testing.T) {
	rec, prs, atts := reconcilerFixture()
	ctx := context.Background()

	require.NoError(t, rec.Reconcile(ctx, snapshotPR(), "alice"))

	stored, err := prs.GetByNumber(ctx, "octocat/demo", 7)
	require.NoError(t, err)
	require.NotNil(t, stored)

	att, err := atts.GetByPullRequestID(ctx, stored.ID)
	require.NoError(t, err)
	require.NotNil(t, att)

	assert.True(t, att.NeedsAttention)
	assert.Equal(t, "Review requested", att.AttentionReason)
	assert.Equal(t, "feature", att.FlowPhase)
	assert.Equal(t, att.Breakdown.FinalScore, att.UrgencyScore)
	assert.False(t, att.LastSyncedAt.IsZero())
}

func TestReconcileIsIdempotent(t *testing.T) {
	rec, prs, atts := reconcilerFixture()
	ctx := context.Background()

	require.NoError(t, rec.Reconcile(ctx, snapshotPR(), "alice"))
	first, err := prs.GetByNumber(ctx, "octocat/demo", 7)
	require.NoError(t, err)
	firstAtt, err := atts.GetByPullRequestID(ctx, first.ID)
	require.NoError(t, err)

	require.NoError(t, rec.Reconcile(ctx, snapshotPR(), "alice"))
	second, err := prs.GetByNumber(ctx, "octocat/demo", 7)
	require.NoError(t, err)
	secondAtt, err := atts.GetByPullRequestID(ctx, second.ID)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID, "reconciling twice keeps the same row")
	assert.Equal(t, firstAtt.Breakdown, secondAtt.Breakdown)
	assert.Equal(t, firstAtt.NeedsAttention, secondAtt.NeedsAttention)
	assert.Equal(t, firstAtt.AttentionReason, secondAtt.AttentionReason)
}

func TestReconcileNormalizesPartialSnapshot(t *testing.T) {
	rec, prs, _ := reconcilerFixture()
	ctx := context.Background()

	partial := model.PullRequest{
		RepoFullName:    "octocat/demo",
		Number:          9,
		Title:           "bare snapshot",
		GithubUpdatedAt: time.Now().Add(-time.Hour),
	}
	require.NoError(t, rec.Reconcile(ctx, partial, ""))

	stored, err := prs.GetByNumber(ctx, "octocat/demo", 9)
	require.NoError(t, err)
	require.NotNil(t, stored)

	assert.Equal(t, model.PRStateOpen, stored.State)
	assert.Equal(t, model.MergeableUnknown, stored.Mergeable)
	assert.Equal(t, model.CIStateUnknown, stored.CIState)
	assert.Equal(t, model.ReviewStateUnreviewed, stored.ReviewState)
	assert.NotNil(t, stored.Labels)
	assert.NotNil(t, stored.Assignees)
	assert.Equal(t, stored.GithubUpdatedAt, stored.LastActivityAt)
}

func TestReconcilePreservesRiskAcrossRecompute(t *testing.T) {
	rec, prs, atts := reconcilerFixture()
	ctx := context.Background()

	require.NoError(t, rec.Reconcile(ctx, snapshotPR(), "alice"))
	stored, err := prs.GetByNumber(ctx, "octocat/demo", 7)
	require.NoError(t, err)

	require.NoError(t, atts.SetRisk(ctx, stored.ID, "high", []string{"large diff"}))

	require.NoError(t, rec.Reconcile(ctx, snapshotPR(), "alice"))

	att, err := atts.GetByPullRequestID(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, "high", att.RiskLevel, "risk fields survive attention recomputes")
	assert.Equal(t, []string{"large diff"}, att.RiskFactors)
}

func TestReconcileConcurrentSamePR(t *testing.T) {
	rec, prs, _ := reconcilerFixture()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := snapshotPR()
			snap.CommentCount = i
			_ = rec.Reconcile(ctx, snap, "alice")
		}()
	}
	wg.Wait()

	all, err := prs.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "concurrent reconciles of one PR produce one row")
}
