package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// PRResponse is the JSON representation of a pull request snapshot.
type PRResponse struct {
	Number       int      `json:"number"`
	Repository   string   `json:"repository"`
	Title        string   `json:"title"`
	Author       string   `json:"author"`
	State        string   `json:"state"`
	IsDraft      bool     `json:"is_draft"`
	Labels       []string `json:"labels"`
	Assignees    []string `json:"assignees"`
	Reviewers    []string `json:"requested_reviewers"`
	Milestone    string   `json:"milestone,omitempty"`
	HeadRef      string   `json:"head_ref"`
	BaseRef      string   `json:"base_ref"`
	Mergeable    string   `json:"mergeable"`
	Additions    int      `json:"additions"`
	Deletions    int      `json:"deletions"`
	CommentCount int      `json:"comment_count"`
	CommitCount  int      `json:"commit_count"`
	CIState      string   `json:"ci_state"`
	ReviewState  string   `json:"review_state"`
	CreatedAt    string   `json:"created_at"`
	UpdatedAt    string   `json:"updated_at"`

	// Attention is populated when a scored attention row exists for the PR.
	Attention *AttentionResponse `json:"attention,omitempty"`
}

// AttentionResponse is the JSON representation of the derived attention state.
type AttentionResponse struct {
	NeedsAttention  bool                 `json:"needs_attention"`
	AttentionReason string               `json:"attention_reason,omitempty"`
	UrgencyScore    int                  `json:"urgency_score"`
	Breakdown       model.ScoreBreakdown `json:"breakdown"`
	FlowPhase       string               `json:"flow_phase,omitempty"`
	RiskLevel       string               `json:"risk_level,omitempty"`
	RiskFactors     []string             `json:"risk_factors,omitempty"`
	LastSyncedAt    string               `json:"last_synced_at"`
}

// TrackedRepoResponse is the JSON representation of a tracking subscription.
type TrackedRepoResponse struct {
	UserLogin string `json:"user_login"`
	FullName  string `json:"full_name"`
	CreatedAt string `json:"created_at"`
}

// TrackRepoRequest is the JSON body for the track repository endpoint.
type TrackRepoRequest struct {
	UserLogin string `json:"user_login"`
	FullName  string `json:"full_name"`
}

// SyncRequest is the JSON body for the manual sync endpoint.
type SyncRequest struct {
	UserScope string `json:"user_scope,omitempty"`
}

// SyncRunResponse is the JSON representation of one sync run record.
type SyncRunResponse struct {
	RunID         string            `json:"run_id"`
	Trigger       string            `json:"trigger"`
	Status        string            `json:"status"`
	StartedAt     string            `json:"started_at"`
	FinishedAt    string            `json:"finished_at"`
	PulledCount   int               `json:"pulled_count"`
	UpsertedCount int               `json:"upserted_count"`
	ErrorCount    int               `json:"error_count"`
	Errors        []model.SyncError `json:"errors"`
	ViewerLogin   string            `json:"viewer_login,omitempty"`
}

// SummaryResponse is the JSON representation of a PR summary enrichment,
// carrying both the raw markdown and sanitized HTML.
type SummaryResponse struct {
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
}

// RiskResponse is the JSON representation of a risk assessment enrichment.
type RiskResponse struct {
	Level   string   `json:"level"`
	Factors []string `json:"factors"`
}

// ReviewersResponse is the JSON representation of a reviewer suggestion.
type ReviewersResponse struct {
	Reviewers []string `json:"reviewers"`
}

// FeatureStatusResponse is the JSON representation of a feature's last
// audited lifecycle status.
type FeatureStatusResponse struct {
	Feature string `json:"feature"`
	Status  string `json:"status"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status   string                     `json:"status"`
	Time     string                     `json:"time"`
	Breakers map[string]BreakerResponse `json:"breakers"`
}

// BreakerResponse is the JSON representation of one circuit breaker.
type BreakerResponse struct {
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	OpenedAt     string `json:"opened_at,omitempty"`
	CooldownLeft string `json:"cooldown_left,omitempty"`
}

// toPRResponse converts a domain PullRequest to its JSON representation.
// Nil slices are normalized to empty arrays so clients never see null.
func toPRResponse(pr model.PullRequest, att *model.PullRequestAttention) PRResponse {
	resp := PRResponse{
		Number:       pr.Number,
		Repository:   pr.RepoFullName,
		Title:        pr.Title,
		Author:       pr.Author,
		State:        string(pr.State),
		IsDraft:      pr.IsDraft,
		Labels:       emptyIfNil(pr.Labels),
		Assignees:    emptyIfNil(pr.Assignees),
		Reviewers:    emptyIfNil(pr.RequestedReviewers),
		Milestone:    pr.Milestone,
		HeadRef:      pr.HeadRef,
		BaseRef:      pr.BaseRef,
		Mergeable:    string(pr.Mergeable),
		Additions:    pr.Additions,
		Deletions:    pr.Deletions,
		CommentCount: pr.CommentCount,
		CommitCount:  pr.CommitCount,
		CIState:      string(pr.CIState),
		ReviewState:  string(pr.ReviewState),
		CreatedAt:    pr.GithubCreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    pr.GithubUpdatedAt.UTC().Format(time.RFC3339),
	}

	if att != nil {
		resp.Attention = toAttentionResponse(*att)
	}

	return resp
}

// toAttentionResponse converts a domain attention row to its JSON representation.
func toAttentionResponse(att model.PullRequestAttention) *AttentionResponse {
	return &AttentionResponse{
		NeedsAttention:  att.NeedsAttention,
		AttentionReason: att.AttentionReason,
		UrgencyScore:    att.UrgencyScore,
		Breakdown:       att.Breakdown,
		FlowPhase:       att.FlowPhase,
		RiskLevel:       att.RiskLevel,
		RiskFactors:     emptyIfNil(att.RiskFactors),
		LastSyncedAt:    att.LastSyncedAt.UTC().Format(time.RFC3339),
	}
}

// toTrackedRepoResponse converts a domain tracking to its JSON representation.
func toTrackedRepoResponse(tr model.TrackedRepository) TrackedRepoResponse {
	return TrackedRepoResponse{
		UserLogin: tr.UserLogin,
		FullName:  tr.FullName,
		CreatedAt: tr.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// toSyncRunResponse converts a domain sync run to its JSON representation.
func toSyncRunResponse(run model.SyncRun) SyncRunResponse {
	errs := run.Errors
	if errs == nil {
		errs = []model.SyncError{}
	}

	return SyncRunResponse{
		RunID:         run.RunID,
		Trigger:       string(run.Trigger),
		Status:        string(run.Status),
		StartedAt:     run.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt:    run.FinishedAt.UTC().Format(time.RFC3339),
		PulledCount:   run.PulledCount,
		UpsertedCount: run.UpsertedCount,
		ErrorCount:    run.ErrorCount,
		Errors:        errs,
		ViewerLogin:   run.ViewerLogin,
	}
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
