package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// runningStaleAfter is how long a RUNNING audit record is trusted. An older
// one is treated as failed on status checks, since the underlying process may
// have died without signaling completion.
const runningStaleAfter = 10 * time.Minute

// RiskAssessment is the structured payload of the risk-assessment feature.
type RiskAssessment struct {
	Level   string   `json:"level"`
	Factors []string `json:"factors"`
}

// reviewerSuggestion is the structured payload of the reviewer-suggestion
// feature.
type reviewerSuggestion struct {
	Reviewers []string `json:"reviewers"`
}

// EnrichmentService layers optional AI features on top of the sync pipeline:
// every call goes cache, then breaker gate, then the opaque runner, then
// cache write and audit record. A failed enrichment degrades that one feature
// only; the PR itself stays usable.
type EnrichmentService struct {
	runner         driven.LLMRunner
	cache          *CacheService
	breakers       *BreakerRegistry
	audit          driven.AuditStore
	attentionStore driven.AttentionStore
	logger         *slog.Logger
	now            func() time.Time
}

// NewEnrichmentService creates an EnrichmentService.
func NewEnrichmentService(
	runner driven.LLMRunner,
	cache *CacheService,
	breakers *BreakerRegistry,
	audit driven.AuditStore,
	attentionStore driven.AttentionStore,
) *EnrichmentService {
	return &EnrichmentService{
		runner:         runner,
		cache:          cache,
		breakers:       breakers,
		audit:          audit,
		attentionStore: attentionStore,
		logger:         slog.Default(),
		now:            time.Now,
	}
}

// SummarizePullRequest returns a markdown summary of the PR, cached per PR
// for the summary feature's TTL.
func (s *EnrichmentService) SummarizePullRequest(ctx context.Context, pr model.PullRequest) (string, error) {
	prompt := fmt.Sprintf(
		"Summarize this pull request in a few sentences for a reviewer triaging a backlog.\n\nTitle: %s\nBranch: %s -> %s\n+%d -%d lines",
		pr.Title, pr.HeadRef, pr.BaseRef, pr.Additions, pr.Deletions,
	)

	out, err := s.invoke(ctx, model.FeaturePRSummary, model.PullRequestKey(pr.ID),
		pr.RepoFullName, pr.Number, prompt, pr.Body)
	if err != nil {
		return "", err
	}
	return out, nil
}

// AssessRisk returns a structured risk assessment for the PR and writes the
// risk level and factors onto its attention row.
func (s *EnrichmentService) AssessRisk(ctx context.Context, pr model.PullRequest) (*RiskAssessment, error) {
	prompt := fmt.Sprintf(
		"Assess the merge risk of this pull request. Respond with JSON {\"level\": \"low|medium|high\", \"factors\": [..]}.\n\nTitle: %s\n+%d -%d lines, %d commits",
		pr.Title, pr.Additions, pr.Deletions, pr.CommitCount,
	)

	out, err := s.invoke(ctx, model.FeatureRiskAssessment, model.PullRequestKey(pr.ID),
		pr.RepoFullName, pr.Number, prompt, pr.Body)
	if err != nil {
		return nil, err
	}

	var risk RiskAssessment
	if err := json.Unmarshal([]byte(out), &risk); err != nil {
		return nil, fmt.Errorf("parse risk assessment for %s#%d: %w", pr.RepoFullName, pr.Number, err)
	}

	if err := s.attentionStore.SetRisk(ctx, pr.ID, risk.Level, risk.Factors); err != nil {
		s.logger.Error("persist risk failed", "repo", pr.RepoFullName, "pr", pr.Number, "error", err)
	}

	return &risk, nil
}

// SuggestReviewers returns suggested reviewer logins for a repository. The
// result is repository-scoped: cached as append-only history, latest wins.
func (s *EnrichmentService) SuggestReviewers(ctx context.Context, repoFullName string, openPRs []model.PullRequest) ([]string, error) {
	var summary string
	for _, pr := range openPRs {
		summary += fmt.Sprintf("#%d %s by %s (reviewers: %v)\n", pr.Number, pr.Title, pr.Author, pr.RequestedReviewers)
	}

	prompt := fmt.Sprintf(
		"Given the open pull requests of %s below, suggest reviewers to balance the load. Respond with JSON {\"reviewers\": [..]}.",
		repoFullName,
	)

	out, err := s.invoke(ctx, model.FeatureReviewerSuggestion, model.RepositoryKey(repoFullName),
		repoFullName, 0, prompt, summary)
	if err != nil {
		return nil, err
	}

	var suggestion reviewerSuggestion
	if err := json.Unmarshal([]byte(out), &suggestion); err != nil {
		return nil, fmt.Errorf("parse reviewer suggestion for %s: %w", repoFullName, err)
	}
	return suggestion.Reviewers, nil
}

// FeatureStatus reports the audited status of the latest enrichment run for
// the scope. A RUNNING record older than the staleness window counts as
// failed.
func (s *EnrichmentService) FeatureStatus(ctx context.Context, feature model.FeatureType, repoFullName string, pullNumber int) (model.AuditStatus, error) {
	rec, err := s.audit.Latest(ctx, string(feature), repoFullName, pullNumber)
	if err != nil {
		return "", fmt.Errorf("load audit status for %s: %w", feature, err)
	}
	if rec == nil {
		return "", nil
	}

	if rec.Status == model.AuditStatusRunning && s.now().Sub(rec.CreatedAt) > runningStaleAfter {
		return model.AuditStatusFailed, nil
	}
	return rec.Status, nil
}

// invoke is the shared cache-then-call-then-cache path with breaker gating
// and audit records.
func (s *EnrichmentService) invoke(
	ctx context.Context,
	feature model.FeatureType,
	key model.CacheKey,
	repoFullName string,
	pullNumber int,
	prompt, contextData string,
) (string, error) {
	cached, err := s.cache.GetCachedResult(ctx, feature, key)
	if err != nil {
		s.logger.Warn("cache read failed", "feature", string(feature), "error", err)
	}
	if cached != nil {
		if cached.ResultText != "" {
			return cached.ResultText, nil
		}
		return string(cached.ResultJSON), nil
	}

	if !s.breakers.Allow(string(feature)) {
		s.writeAudit(ctx, feature, repoFullName, pullNumber, model.AuditStatusFailed, ErrCircuitOpen.Error())
		return "", fmt.Errorf("%s unavailable: %w", feature, ErrCircuitOpen)
	}

	s.writeAudit(ctx, feature, repoFullName, pullNumber, model.AuditStatusRunning, "")

	out, err := s.runner.Run(ctx, prompt, contextData)
	if err != nil {
		s.breakers.RecordFailure(string(feature))
		s.writeAudit(ctx, feature, repoFullName, pullNumber, model.AuditStatusFailed, err.Error())
		return "", fmt.Errorf("run %s: %w", feature, err)
	}
	s.breakers.RecordSuccess(string(feature))

	resultJSON, resultText := normalizeResult(out)
	if err := s.cache.SetCachedResult(ctx, feature, key, resultJSON, WithResultText(resultText)); err != nil {
		s.logger.Warn("cache write failed", "feature", string(feature), "error", err)
	}

	s.writeAudit(ctx, feature, repoFullName, pullNumber, model.AuditStatusCompleted, "")
	return out, nil
}

// normalizeResult splits a runner response into its JSON and text halves:
// valid JSON is stored as the structured payload, anything else as text with
// a quoted JSON mirror so the column is always valid.
func normalizeResult(out string) (json.RawMessage, string) {
	if json.Valid([]byte(out)) {
		return json.RawMessage(out), ""
	}
	quoted, _ := json.Marshal(out)
	return quoted, out
}

func (s *EnrichmentService) writeAudit(ctx context.Context, feature model.FeatureType, repoFullName string, pullNumber int, status model.AuditStatus, errMsg string) {
	rec := model.AuditRecord{
		Action:     string(feature),
		Status:     status,
		Repository: repoFullName,
		PullNumber: pullNumber,
		Actor:      "pullwatch",
		Payload:    json.RawMessage(`{}`),
		Error:      errMsg,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.audit.Append(ctx, rec); err != nil {
		s.logger.Error("audit write failed", "action", rec.Action, "status", string(status), "error", err)
	}
}
