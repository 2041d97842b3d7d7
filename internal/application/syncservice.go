package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// syncRequest carries a manual sync trigger into the polling loop.
type syncRequest struct {
	userScope string
	done      chan syncReply
}

type syncReply struct {
	run model.SyncRun
	err error
}

// SyncService is the top-level sync orchestrator. It polls tracked
// repositories on an interval, fans repository work out with bounded
// parallelism, reconciles each pull request, and records a SyncRun audit row
// per invocation. Per-repository and per-PR failures are itemized, never
// fatal to the rest of the run.
type SyncService struct {
	remote     driven.RemoteClient
	trackStore driven.TrackedRepoStore
	prStore    driven.PRStore
	runStore   driven.SyncRunStore
	reconciler *Reconciler
	logger     *slog.Logger

	interval        time.Duration
	repoConcurrency int
	prConcurrency   int
	recentWindow    time.Duration // Lookback for recently-updated closed/merged PRs; zero disables.
	singleTimeout   time.Duration // Remote-call bound for on-demand single-PR refresh.

	refreshCh chan syncRequest
}

// SyncOption configures a SyncService.
type SyncOption func(*SyncService)

// WithRepoConcurrency bounds how many repositories sync in parallel.
func WithRepoConcurrency(n int) SyncOption {
	return func(s *SyncService) { s.repoConcurrency = n }
}

// WithPRConcurrency bounds how many PRs reconcile in parallel per repository.
func WithPRConcurrency(n int) SyncOption {
	return func(s *SyncService) { s.prConcurrency = n }
}

// WithRecentWindow enables syncing closed/merged PRs updated within d.
func WithRecentWindow(d time.Duration) SyncOption {
	return func(s *SyncService) { s.recentWindow = d }
}

// WithSingleRefreshTimeout bounds the remote latency of on-demand single-PR
// refreshes. Callers treat the timeout as a transient failure.
func WithSingleRefreshTimeout(d time.Duration) SyncOption {
	return func(s *SyncService) { s.singleTimeout = d }
}

// NewSyncService creates a SyncService polling on the given interval.
func NewSyncService(
	remote driven.RemoteClient,
	trackStore driven.TrackedRepoStore,
	prStore driven.PRStore,
	runStore driven.SyncRunStore,
	reconciler *Reconciler,
	interval time.Duration,
	opts ...SyncOption,
) *SyncService {
	s := &SyncService{
		remote:          remote,
		trackStore:      trackStore,
		prStore:         prStore,
		runStore:        runStore,
		reconciler:      reconciler,
		logger:          slog.Default(),
		interval:        interval,
		repoConcurrency: 4,
		prConcurrency:   4,
		recentWindow:    24 * time.Hour,
		singleTimeout:   30 * time.Second,
		refreshCh:       make(chan syncRequest),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins the polling loop: an immediate poll, then polls on the
// configured interval, interleaved with manual refresh requests. Blocks until
// the context is canceled.
func (s *SyncService) Start(ctx context.Context) {
	if _, err := s.RunSync(ctx, model.TriggerPoll, ""); err != nil {
		s.logger.Error("initial sync failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopped")
			return
		case <-ticker.C:
			if _, err := s.RunSync(ctx, model.TriggerPoll, ""); err != nil {
				s.logger.Error("sync cycle failed", "error", err)
			}
		case req := <-s.refreshCh:
			run, err := s.RunSync(ctx, model.TriggerManual, req.userScope)
			req.done <- syncReply{run: run, err: err}
		}
	}
}

// TriggerSync requests a manual sync through the polling loop, so manual runs
// never interleave with a scheduled poll. It blocks until the run completes
// or the context is canceled.
func (s *SyncService) TriggerSync(ctx context.Context, userScope string) (model.SyncRun, error) {
	done := make(chan syncReply, 1)

	select {
	case s.refreshCh <- syncRequest{userScope: userScope, done: done}:
	case <-ctx.Done():
		return model.SyncRun{}, ctx.Err()
	}

	select {
	case reply := <-done:
		return reply.run, reply.err
	case <-ctx.Done():
		return model.SyncRun{}, ctx.Err()
	}
}

// RunSync executes one full sync: resolve the repositories in scope (a single
// user's trackings, or every distinct tracked repository when userScope is
// empty), sync each with bounded parallelism, and append the SyncRun record.
func (s *SyncService) RunSync(ctx context.Context, trigger model.SyncTrigger, userScope string) (model.SyncRun, error) {
	started := time.Now().UTC()

	viewer, err := s.remote.ViewerLogin(ctx)
	if err != nil {
		s.logger.Warn("viewer login unavailable", "error", err)
		viewer = ""
	}

	repos, err := s.resolveScope(ctx, userScope)
	if err != nil {
		return model.SyncRun{}, fmt.Errorf("resolve sync scope: %w", err)
	}

	var (
		mu       sync.Mutex
		pulled   int
		upserted int
		itemErrs []model.SyncError
	)

	g := new(errgroup.Group)
	g.SetLimit(s.repoConcurrency)

	for _, repo := range repos {
		g.Go(func() error {
			p, u, errs := s.syncRepo(ctx, repo, viewer)

			mu.Lock()
			pulled += p
			upserted += u
			itemErrs = append(itemErrs, errs...)
			mu.Unlock()

			return nil
		})
	}
	_ = g.Wait()

	status := model.SyncStatusSuccess
	if len(itemErrs) > 0 {
		status = model.SyncStatusPartialFailure
		if upserted == 0 && pulled == 0 {
			status = model.SyncStatusFailed
		}
	}

	run := model.SyncRun{
		RunID:         uuid.NewString(),
		Trigger:       trigger,
		Status:        status,
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
		PulledCount:   pulled,
		UpsertedCount: upserted,
		ErrorCount:    len(itemErrs),
		Errors:        itemErrs,
		ViewerLogin:   viewer,
	}

	if err := s.runStore.Append(ctx, run); err != nil {
		s.logger.Error("record sync run failed", "run_id", run.RunID, "error", err)
	}

	s.logger.Info("sync complete",
		"run_id", run.RunID,
		"trigger", string(trigger),
		"repos", len(repos),
		"pulled", pulled,
		"upserted", upserted,
		"errors", len(itemErrs),
		"duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
	)

	return run, nil
}

// SyncSinglePullRequest refreshes one already-tracked PR on demand. The
// remote call is bounded by the configured timeout; callers treat a deadline
// as transient.
func (s *SyncService) SyncSinglePullRequest(ctx context.Context, repoFullName string, number int) error {
	ctx, cancel := context.WithTimeout(ctx, s.singleTimeout)
	defer cancel()

	viewer, err := s.remote.ViewerLogin(ctx)
	if err != nil {
		s.logger.Warn("viewer login unavailable", "error", err)
		viewer = ""
	}

	snapshot, err := s.remote.GetPullRequest(ctx, repoFullName, number)
	if err != nil {
		return fmt.Errorf("fetch %s#%d: %w", repoFullName, number, err)
	}

	return s.reconciler.Reconcile(ctx, *snapshot, viewer)
}

// resolveScope returns the repositories a run covers.
func (s *SyncService) resolveScope(ctx context.Context, userScope string) ([]string, error) {
	if userScope == "" {
		return s.trackStore.ListDistinctRepos(ctx)
	}

	trackings, err := s.trackStore.ListByUser(ctx, userScope)
	if err != nil {
		return nil, err
	}

	repos := make([]string, 0, len(trackings))
	for _, tr := range trackings {
		repos = append(repos, tr.FullName)
	}
	return repos, nil
}

// syncRepo pulls the repository's open (and recently-updated) PRs and
// reconciles each. Every failure is captured as an itemized SyncError; a bad
// PR never blocks the rest of the repository.
func (s *SyncService) syncRepo(ctx context.Context, repoFullName, viewer string) (pulled, upserted int, errs []model.SyncError) {
	prs, err := s.remote.ListOpenPullRequests(ctx, repoFullName)
	if err != nil {
		return 0, 0, []model.SyncError{{Repository: repoFullName, Message: err.Error()}}
	}

	if s.recentWindow > 0 {
		recent, err := s.remote.ListRecentlyUpdated(ctx, repoFullName, time.Now().Add(-s.recentWindow))
		if err != nil {
			errs = append(errs, model.SyncError{Repository: repoFullName, Message: err.Error()})
		} else {
			prs = append(prs, recent...)
		}
	}
	pulled = len(prs)

	storedByNumber := make(map[int]model.PullRequest)
	if stored, err := s.prStore.GetByRepository(ctx, repoFullName); err != nil {
		errs = append(errs, model.SyncError{Repository: repoFullName, Message: err.Error()})
	} else {
		for _, sp := range stored {
			storedByNumber[sp.Number] = sp
		}
	}

	var (
		mu      sync.Mutex
		changed int
	)

	g := new(errgroup.Group)
	g.SetLimit(s.prConcurrency)

	for _, pr := range prs {
		if stored, ok := storedByNumber[pr.Number]; ok {
			if stored.GithubUpdatedAt.Equal(pr.GithubUpdatedAt) && stored.State == pr.State {
				continue
			}
		}

		g.Go(func() error {
			snapshot := pr

			// The list endpoint omits diff stats, commit counts, and
			// CI/review state; fill them from the detail endpoint. A detail
			// failure is recorded but the listed snapshot still reconciles.
			detail, err := s.remote.GetPullRequest(ctx, repoFullName, pr.Number)
			if err != nil {
				mu.Lock()
				errs = append(errs, model.SyncError{
					Repository: repoFullName,
					PullNumber: pr.Number,
					Message:    err.Error(),
				})
				mu.Unlock()
			} else {
				snapshot = *detail
			}

			if err := s.reconciler.Reconcile(ctx, snapshot, viewer); err != nil {
				mu.Lock()
				errs = append(errs, model.SyncError{
					Repository: repoFullName,
					PullNumber: pr.Number,
					Message:    err.Error(),
				})
				mu.Unlock()
				return nil
			}

			mu.Lock()
			changed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	upserted = changed

	s.logger.Debug("repo synced",
		"repo", repoFullName,
		"pulled", pulled,
		"upserted", upserted,
		"skipped_unchanged", pulled-upserted-len(errs),
	)

	return pulled, upserted, errs
}
