// Package application contains use-case orchestration services: the sync
// pipeline, the attention scorer, the flow validator, and the enrichment
// cache/breaker pair.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// Reconciler merges one remote pull request snapshot into local storage and
// recomputes the derived attention row. It is the at-most-one-writer-per-PR
// boundary: interleaved reconciliations of the same PR are serialized through
// a per-PR lock so load-modify-save cannot lose writes.
type Reconciler struct {
	prStore        driven.PRStore
	attentionStore driven.AttentionStore
	rules          []model.FlowRule
	logger         *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewReconciler creates a Reconciler with the given stores and flow rules.
func NewReconciler(prStore driven.PRStore, attentionStore driven.AttentionStore, rules []model.FlowRule) *Reconciler {
	return &Reconciler{
		prStore:        prStore,
		attentionStore: attentionStore,
		rules:          rules,
		logger:         slog.Default(),
		locks:          make(map[string]*sync.Mutex),
	}
}

// Reconcile upserts the snapshot's mutable facts, recomputes the flow phase
// and the full attention state for the viewer, and persists both rows.
// Reconciling the same snapshot twice produces identical stored state.
func (r *Reconciler) Reconcile(ctx context.Context, snapshot model.PullRequest, viewerLogin string) error {
	lock := r.lockFor(snapshot.RepoFullName, snapshot.Number)
	lock.Lock()
	defer lock.Unlock()

	normalizeSnapshot(&snapshot)

	if err := r.prStore.Upsert(ctx, snapshot); err != nil {
		return fmt.Errorf("upsert %s#%d: %w", snapshot.RepoFullName, snapshot.Number, err)
	}

	// Re-read for the row ID; the attention row is keyed by it.
	stored, err := r.prStore.GetByNumber(ctx, snapshot.RepoFullName, snapshot.Number)
	if err != nil {
		return fmt.Errorf("reload %s#%d: %w", snapshot.RepoFullName, snapshot.Number, err)
	}
	if stored == nil {
		return fmt.Errorf("reload %s#%d: row missing after upsert", snapshot.RepoFullName, snapshot.Number)
	}

	var phase string
	if p := FlowPhase(snapshot.HeadRef, r.rules); p != nil {
		phase = *p
	}
	if v := ValidatePRFlow(snapshot.HeadRef, snapshot.BaseRef, r.rules); v != nil {
		r.logger.Warn("flow violation",
			"repo", snapshot.RepoFullName,
			"pr", snapshot.Number,
			"head", snapshot.HeadRef,
			"base", snapshot.BaseRef,
			"expected", v.ExpectedTargets,
		)
	}

	// The PR body travels on the snapshot, the viewer match on the stored
	// row's transient field is not guaranteed, so facts come from the
	// snapshot with the stored row's ID.
	result := BuildAttentionState(BuildAttentionFacts(snapshot, viewerLogin, phase))

	att := model.PullRequestAttention{
		PullRequestID:   stored.ID,
		NeedsAttention:  result.NeedsAttention,
		AttentionReason: result.AttentionReason,
		UrgencyScore:    result.UrgencyScore,
		Breakdown:       result.Breakdown,
		FlowPhase:       phase,
		LastSyncedAt:    time.Now().UTC(),
	}
	if err := r.attentionStore.Replace(ctx, att); err != nil {
		return fmt.Errorf("replace attention for %s#%d: %w", snapshot.RepoFullName, snapshot.Number, err)
	}

	return nil
}

// lockFor returns the mutex serializing writes to one PR identity. The map
// grows with the number of distinct PRs seen, which is bounded by the tracked
// working set.
func (r *Reconciler) lockFor(repoFullName string, number int) *sync.Mutex {
	key := fmt.Sprintf("%s#%d", repoFullName, number)

	r.mu.Lock()
	defer r.mu.Unlock()

	lock, ok := r.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[key] = lock
	}
	return lock
}

// normalizeSnapshot defaults nil collections and zero enums so corrupt or
// partial remote data cannot halt reconciliation.
func normalizeSnapshot(pr *model.PullRequest) {
	if pr.Labels == nil {
		pr.Labels = []string{}
	}
	if pr.Assignees == nil {
		pr.Assignees = []string{}
	}
	if pr.RequestedReviewers == nil {
		pr.RequestedReviewers = []string{}
	}
	if pr.State == "" {
		pr.State = model.PRStateOpen
	}
	if pr.Mergeable == "" {
		pr.Mergeable = model.MergeableUnknown
	}
	if pr.CIState == "" {
		pr.CIState = model.CIStateUnknown
	}
	if pr.ReviewState == "" {
		pr.ReviewState = model.ReviewStateUnreviewed
	}
	if pr.LastActivityAt.IsZero() {
		pr.LastActivityAt = pr.GithubUpdatedAt
	}
}
