// Package httphandler is the HTTP driving adapter serving the REST API.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jcthomas/pullwatch/internal/application"
	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// Syncer is the slice of the sync service the handler drives.
type Syncer interface {
	TriggerSync(ctx context.Context, userScope string) (model.SyncRun, error)
	SyncSinglePullRequest(ctx context.Context, repoFullName string, number int) error
}

// Enricher is the slice of the enrichment service the handler drives.
type Enricher interface {
	SummarizePullRequest(ctx context.Context, pr model.PullRequest) (string, error)
	AssessRisk(ctx context.Context, pr model.PullRequest) (*application.RiskAssessment, error)
	SuggestReviewers(ctx context.Context, repoFullName string, openPRs []model.PullRequest) ([]string, error)
	FeatureStatus(ctx context.Context, feature model.FeatureType, repoFullName string, pullNumber int) (model.AuditStatus, error)
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	prStore        driven.PRStore
	trackStore     driven.TrackedRepoStore
	attentionStore driven.AttentionStore
	runStore       driven.SyncRunStore
	syncer         Syncer
	enricher       Enricher
	breakers       *application.BreakerRegistry
	logger         *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. The syncer and
// enricher may be nil; the corresponding endpoints then answer 503.
func NewHandler(
	prStore driven.PRStore,
	trackStore driven.TrackedRepoStore,
	attentionStore driven.AttentionStore,
	runStore driven.SyncRunStore,
	syncer Syncer,
	enricher Enricher,
	breakers *application.BreakerRegistry,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		prStore:        prStore,
		trackStore:     trackStore,
		attentionStore: attentionStore,
		runStore:       runStore,
		syncer:         syncer,
		enricher:       enricher,
		breakers:       breakers,
		logger:         logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/prs", h.ListPRs)
	mux.HandleFunc("GET /api/v1/prs/attention", h.ListPRsNeedingAttention)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}", h.GetPR)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/prs/{number}/refresh", h.RefreshPR)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/prs/{number}/summary", h.SummarizePR)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/prs/{number}/risk", h.AssessPRRisk)
	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/prs/{number}/features/{feature}", h.FeatureStatus)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/reviewers", h.SuggestReviewers)
	mux.HandleFunc("GET /api/v1/repos", h.ListTrackedRepos)
	mux.HandleFunc("POST /api/v1/repos", h.TrackRepo)
	mux.HandleFunc("DELETE /api/v1/repos/{owner}/{repo}", h.UntrackRepo)
	mux.HandleFunc("POST /api/v1/sync", h.Sync)
	mux.HandleFunc("GET /api/v1/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)

	return wrapped
}

// ListPRs returns tracked pull requests, optionally filtered to one
// repository with ?repo=owner/name.
func (h *Handler) ListPRs(w http.ResponseWriter, r *http.Request) {
	var prs []model.PullRequest
	var err error

	if repo := r.URL.Query().Get("repo"); repo != "" {
		prs, err = h.prStore.GetByRepository(r.Context(), repo)
	} else {
		prs, err = h.prStore.ListAll(r.Context())
	}
	if err != nil {
		h.logger.Error("failed to list PRs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]PRResponse, 0, len(prs))
	for _, pr := range prs {
		resp = append(resp, toPRResponse(pr, h.attentionFor(r.Context(), pr.ID)))
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListPRsNeedingAttention returns pull requests flagged by the scorer,
// ordered by urgency.
func (h *Handler) ListPRsNeedingAttention(w http.ResponseWriter, r *http.Request) {
	rows, err := h.attentionStore.ListNeedingAttention(r.Context())
	if err != nil {
		h.logger.Error("failed to list attention rows", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]PRResponse, 0, len(rows))
	for _, att := range rows {
		pr, err := h.prStore.GetByID(r.Context(), att.PullRequestID)
		if err != nil {
			h.logger.Error("failed to load PR for attention row", "pull_request_id", att.PullRequestID, "error", err)
			continue
		}
		if pr == nil {
			continue
		}
		resp = append(resp, toPRResponse(*pr, &att))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetPR returns a single pull request with its attention state.
func (h *Handler) GetPR(w http.ResponseWriter, r *http.Request) {
	pr, ok := h.loadPR(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, toPRResponse(*pr, h.attentionFor(r.Context(), pr.ID)))
}

// RefreshPR fetches a single pull request from the remote and reconciles it
// synchronously, then returns the updated snapshot.
func (h *Handler) RefreshPR(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync unavailable")
		return
	}

	repoFullName, number, ok := prPath(w, r)
	if !ok {
		return
	}

	if err := h.syncer.SyncSinglePullRequest(r.Context(), repoFullName, number); err != nil {
		if errors.Is(err, driven.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pull request not found upstream")
			return
		}
		h.logger.Error("single PR refresh failed", "repo", repoFullName, "number", number, "error", err)
		writeError(w, http.StatusBadGateway, "refresh failed")
		return
	}

	pr, err := h.prStore.GetByNumber(r.Context(), repoFullName, number)
	if err != nil || pr == nil {
		h.logger.Error("failed to reload refreshed PR", "repo", repoFullName, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toPRResponse(*pr, h.attentionFor(r.Context(), pr.ID)))
}

// SummarizePR generates (or serves from cache) an AI summary of the PR.
func (h *Handler) SummarizePR(w http.ResponseWriter, r *http.Request) {
	if h.enricher == nil {
		writeError(w, http.StatusServiceUnavailable, "enrichment unavailable")
		return
	}

	pr, ok := h.loadPR(w, r)
	if !ok {
		return
	}

	summary, err := h.enricher.SummarizePullRequest(r.Context(), *pr)
	if err != nil {
		h.writeEnrichError(w, "summarize", *pr, err)
		return
	}

	writeJSON(w, http.StatusOK, SummaryResponse{
		Markdown: summary,
		HTML:     renderMarkdown(summary),
	})
}

// AssessPRRisk generates (or serves from cache) an AI risk assessment.
func (h *Handler) AssessPRRisk(w http.ResponseWriter, r *http.Request) {
	if h.enricher == nil {
		writeError(w, http.StatusServiceUnavailable, "enrichment unavailable")
		return
	}

	pr, ok := h.loadPR(w, r)
	if !ok {
		return
	}

	risk, err := h.enricher.AssessRisk(r.Context(), *pr)
	if err != nil {
		h.writeEnrichError(w, "assess risk", *pr, err)
		return
	}

	writeJSON(w, http.StatusOK, RiskResponse{
		Level:   risk.Level,
		Factors: emptyIfNil(risk.Factors),
	})
}

// SuggestReviewers generates (or serves from cache) reviewer suggestions for
// a repository based on its open pull requests.
func (h *Handler) SuggestReviewers(w http.ResponseWriter, r *http.Request) {
	if h.enricher == nil {
		writeError(w, http.StatusServiceUnavailable, "enrichment unavailable")
		return
	}

	repoFullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	prs, err := h.prStore.GetByRepository(r.Context(), repoFullName)
	if err != nil {
		h.logger.Error("failed to load repo PRs", "repo", repoFullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	open := make([]model.PullRequest, 0, len(prs))
	for _, pr := range prs {
		if pr.State == model.PRStateOpen {
			open = append(open, pr)
		}
	}

	reviewers, err := h.enricher.SuggestReviewers(r.Context(), repoFullName, open)
	if err != nil {
		if errors.Is(err, application.ErrCircuitOpen) {
			writeError(w, http.StatusServiceUnavailable, "enrichment temporarily unavailable")
			return
		}
		h.logger.Error("reviewer suggestion failed", "repo", repoFullName, "error", err)
		writeError(w, http.StatusBadGateway, "enrichment failed")
		return
	}

	writeJSON(w, http.StatusOK, ReviewersResponse{Reviewers: emptyIfNil(reviewers)})
}

// FeatureStatus returns the audited status of the latest enrichment run for
// the PR and feature.
func (h *Handler) FeatureStatus(w http.ResponseWriter, r *http.Request) {
	if h.enricher == nil {
		writeError(w, http.StatusServiceUnavailable, "enrichment unavailable")
		return
	}

	repoFullName, number, ok := prPath(w, r)
	if !ok {
		return
	}

	feature := model.FeatureType(r.PathValue("feature"))
	switch feature {
	case model.FeaturePRSummary, model.FeatureRiskAssessment, model.FeatureReviewerSuggestion:
	default:
		writeError(w, http.StatusBadRequest, "unknown feature")
		return
	}

	status, err := h.enricher.FeatureStatus(r.Context(), feature, repoFullName, number)
	if err != nil {
		h.logger.Error("feature status lookup failed", "repo", repoFullName, "number", number, "feature", feature, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if status == "" {
		writeError(w, http.StatusNotFound, "no runs recorded")
		return
	}

	writeJSON(w, http.StatusOK, FeatureStatusResponse{
		Feature: string(feature),
		Status:  string(status),
	})
}

// ListTrackedRepos returns the tracking subscriptions for the user given in
// the ?user= query parameter.
func (h *Handler) ListTrackedRepos(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return
	}

	repos, err := h.trackStore.ListByUser(r.Context(), user)
	if err != nil {
		h.logger.Error("failed to list tracked repos", "user", user, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]TrackedRepoResponse, 0, len(repos))
	for _, tr := range repos {
		resp = append(resp, toTrackedRepoResponse(tr))
	}

	writeJSON(w, http.StatusOK, resp)
}

// TrackRepo subscribes a user to a repository and triggers an async sync so
// the new repository's PRs land without waiting for the next poll.
func (h *Handler) TrackRepo(w http.ResponseWriter, r *http.Request) {
	var req TrackRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.UserLogin == "" {
		writeError(w, http.StatusBadRequest, "missing user_login")
		return
	}
	if !isValidRepoName(req.FullName) {
		writeError(w, http.StatusBadRequest, "invalid repository name: expected owner/repo format")
		return
	}

	tracking := model.TrackedRepository{
		UserLogin: req.UserLogin,
		FullName:  req.FullName,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.trackStore.Add(r.Context(), tracking); err != nil {
		if errors.Is(err, driven.ErrAlreadyTracked) {
			writeError(w, http.StatusConflict, "repository already tracked")
			return
		}
		h.logger.Error("failed to track repo", "repo", req.FullName, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	// Fire-and-forget async sync with background context since the HTTP
	// request context will be cancelled after the response is sent.
	if h.syncer != nil {
		go func() {
			if _, err := h.syncer.TriggerSync(context.Background(), req.UserLogin); err != nil {
				h.logger.Error("async sync after track failed", "repo", req.FullName, "error", err)
			}
		}()
	}

	writeJSON(w, http.StatusCreated, toTrackedRepoResponse(tracking))
}

// UntrackRepo removes a user's subscription to a repository.
func (h *Handler) UntrackRepo(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		writeError(w, http.StatusBadRequest, "missing user parameter")
		return
	}

	fullName := r.PathValue("owner") + "/" + r.PathValue("repo")

	if err := h.trackStore.Remove(r.Context(), user, fullName); err != nil {
		if errors.Is(err, driven.ErrTrackingNotFound) {
			writeError(w, http.StatusNotFound, "repository not tracked")
			return
		}
		h.logger.Error("failed to untrack repo", "repo", fullName, "user", user, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Sync runs a full synchronization pass synchronously and returns its run
// record. An optional user_scope limits the pass to one user's trackings.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "sync unavailable")
		return
	}

	var req SyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	run, err := h.syncer.TriggerSync(r.Context(), req.UserScope)
	if err != nil {
		h.logger.Error("manual sync failed", "error", err)
		writeError(w, http.StatusBadGateway, "sync failed")
		return
	}

	writeJSON(w, http.StatusOK, toSyncRunResponse(run))
}

// ListRuns returns recent sync run records, newest first. The ?limit=
// parameter caps the count (default 20, max 100).
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 100)
	}

	runs, err := h.runStore.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list sync runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]SyncRunResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, toSyncRunResponse(run))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Health reports process liveness plus the state of each enrichment circuit
// breaker. Status degrades to "degraded" when any breaker is not closed.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
		Breakers: map[string]BreakerResponse{},
	}

	if h.breakers != nil {
		for feature, snap := range h.breakers.Snapshot() {
			resp.Breakers[feature] = BreakerResponse{
				State:    string(snap.State),
				Failures: snap.ConsecutiveFails,
				OpenedAt: snap.LastTransitionAt.UTC().Format(time.RFC3339),
			}
		}
		if !h.breakers.Healthy() {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// attentionFor loads the attention row for a PR, returning nil when the row
// is absent or the lookup fails. Attention is presentation garnish here; a
// failed lookup never fails the PR response.
func (h *Handler) attentionFor(ctx context.Context, pullRequestID int64) *model.PullRequestAttention {
	if pullRequestID == 0 {
		return nil
	}

	att, err := h.attentionStore.GetByPullRequestID(ctx, pullRequestID)
	if err != nil {
		h.logger.Error("failed to load attention row", "pull_request_id", pullRequestID, "error", err)
		return nil
	}
	return att
}

// loadPR resolves the {owner}/{repo}/{number} path to a stored PR, writing
// the error response itself when the PR cannot be served.
func (h *Handler) loadPR(w http.ResponseWriter, r *http.Request) (*model.PullRequest, bool) {
	repoFullName, number, ok := prPath(w, r)
	if !ok {
		return nil, false
	}

	pr, err := h.prStore.GetByNumber(r.Context(), repoFullName, number)
	if err != nil {
		h.logger.Error("failed to get PR", "repo", repoFullName, "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	if pr == nil {
		writeError(w, http.StatusNotFound, "pull request not found")
		return nil, false
	}

	return pr, true
}

// prPath parses the owner, repo, and PR number path segments.
func prPath(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	number, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || number < 1 {
		writeError(w, http.StatusBadRequest, "invalid PR number")
		return "", 0, false
	}

	return r.PathValue("owner") + "/" + r.PathValue("repo"), number, true
}

// writeEnrichError maps an enrichment failure to a response status.
func (h *Handler) writeEnrichError(w http.ResponseWriter, action string, pr model.PullRequest, err error) {
	if errors.Is(err, application.ErrCircuitOpen) {
		writeError(w, http.StatusServiceUnavailable, "enrichment temporarily unavailable")
		return
	}
	h.logger.Error(action+" failed", "repo", pr.RepoFullName, "number", pr.Number, "error", err)
	writeError(w, http.StatusBadGateway, "enrichment failed")
}

// isValidRepoName validates that name is in owner/repo format where each part
// contains only alphanumeric characters, hyphens, dots, or underscores.
func isValidRepoName(name string) bool {
	parts := strings.SplitN(name, "/", 3)
	if len(parts) != 2 {
		return false
	}

	for _, part := range parts {
		if part == "" {
			return false
		}
		for _, ch := range part {
			if !isValidRepoChar(ch) {
				return false
			}
		}
	}

	return true
}

// isValidRepoChar returns true if the rune is allowed in a repository owner or name.
func isValidRepoChar(ch rune) bool {
	return (ch >= 'a' && ch <= 'z') ||
		(ch >= 'A' && ch <= 'Z') ||
		(ch >= '0' && ch <= '9') ||
		ch == '-' || ch == '.' || ch == '_'
}
