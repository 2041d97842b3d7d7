// Package github implements the RemoteClient port using the go-github library.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/jcthomas/pullwatch/internal/domain/model"
	"github.com/jcthomas/pullwatch/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RemoteClient = (*Client)(nil)

// Client implements the driven.RemoteClient port using the go-github library.
type Client struct {
	gh *gh.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
func NewClient(token string) *Client {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	return &Client{gh: client}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL. This constructor is intended for testing, allowing injection of an
// httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) (*Client, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return &Client{gh: client}, nil
}

// ViewerLogin returns the login of the authenticated user, or an empty string
// when the token has no associated identity.
func (c *Client) ViewerLogin(ctx context.Context) (string, error) {
	var login string

	err := withRetry(ctx, func() error {
		user, resp, err := c.gh.Users.Get(ctx, "")
		if err != nil {
			return classify(resp, err)
		}
		login = user.GetLogin()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fetching viewer login: %w", err)
	}

	return login, nil
}

// ListOpenPullRequests retrieves all open pull requests for the repository.
// It handles pagination automatically and maps go-github types to normalized
// snapshots.
func (c *Client) ListOpenPullRequests(ctx context.Context, repoFullName string) ([]model.PullRequest, error) {
	return c.listPullRequests(ctx, repoFullName, "open", time.Time{})
}

// ListRecentlyUpdated retrieves closed or merged pull requests updated since
// the given instant. Pagination stops at the first page item older than since,
// relying on the updated-descending sort order.
func (c *Client) ListRecentlyUpdated(ctx context.Context, repoFullName string, since time.Time) ([]model.PullRequest, error) {
	return c.listPullRequests(ctx, repoFullName, "closed", since)
}

func (c *Client) listPullRequests(ctx context.Context, repoFullName, state string, since time.Time) ([]model.PullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	opts := &gh.PullRequestListOptions{
		State:     state,
		Sort:      "updated",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			PerPage: 100,
		},
	}

	allPRs := []model.PullRequest{}

	for {
		var prs []*gh.PullRequest
		var resp *gh.Response

		err := withRetry(ctx, func() error {
			var callErr error
			prs, resp, callErr = c.gh.PullRequests.List(ctx, owner, repo, opts)
			if callErr != nil {
				return classify(resp, callErr)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("listing pull requests for %s (page %d): %w", repoFullName, opts.Page, err)
		}

		logRateLimit(resp, repoFullName, opts.Page, len(prs))

		exhausted := false
		for _, pr := range prs {
			if !since.IsZero() && pr.GetUpdatedAt().Time.Before(since) {
				exhausted = true
				break
			}
			allPRs = append(allPRs, mapPullRequest(pr, repoFullName))
		}

		if exhausted || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allPRs, nil
}

// GetPullRequest returns the full normalized snapshot of one pull request.
// On top of the detail endpoint it fetches check runs for the head commit and
// the reviews list, so the snapshot carries CI and review state.
func (c *Client) GetPullRequest(ctx context.Context, repoFullName string, number int) (*model.PullRequest, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}

	var pr *gh.PullRequest
	err = withRetry(ctx, func() error {
		var resp *gh.Response
		var callErr error
		pr, resp, callErr = c.gh.PullRequests.Get(ctx, owner, repo, number)
		if callErr != nil {
			return classify(resp, callErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching PR %s#%d: %w", repoFullName, number, err)
	}

	snapshot := mapPullRequest(pr, repoFullName)
	snapshot.Additions = pr.GetAdditions()
	snapshot.Deletions = pr.GetDeletions()
	snapshot.CommentCount = pr.GetComments() + pr.GetReviewComments()
	snapshot.CommitCount = pr.GetCommits()
	snapshot.Mergeable = mapMergeable(pr.Mergeable)

	// CI and review state degrade to unknown rather than failing the whole
	// snapshot; the scorer treats unknown as neutral.
	ciState, err := c.fetchCIState(ctx, owner, repo, pr.GetHead().GetSHA())
	if err != nil {
		slog.Warn("fetch ci state failed", "repo", repoFullName, "pr", number, "error", err)
		ciState = model.CIStateUnknown
	}
	snapshot.CIState = ciState

	reviewState, lastActor, err := c.fetchReviewState(ctx, owner, repo, number, snapshot)
	if err != nil {
		slog.Warn("fetch review state failed", "repo", repoFullName, "pr", number, "error", err)
	} else {
		snapshot.ReviewState = reviewState
		snapshot.LastActor = lastActor
	}

	return &snapshot, nil
}

// fetchCIState derives a combined CI state from all check runs on the ref.
func (c *Client) fetchCIState(ctx context.Context, owner, repo, ref string) (model.CIState, error) {
	if ref == "" {
		return model.CIStateUnknown, nil
	}

	opts := &gh.ListCheckRunsOptions{
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var allRuns []*gh.CheckRun
	for {
		var result *gh.ListCheckRunsResults
		var resp *gh.Response

		err := withRetry(ctx, func() error {
			var callErr error
			result, resp, callErr = c.gh.Checks.ListCheckRunsForRef(ctx, owner, repo, ref, opts)
			if callErr != nil {
				return classify(resp, callErr)
			}
			return nil
		})
		if err != nil {
			return model.CIStateUnknown, fmt.Errorf("listing check runs for %s/%s@%s: %w", owner, repo, ref, err)
		}

		allRuns = append(allRuns, result.CheckRuns...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return deriveCIState(allRuns), nil
}

// deriveCIState folds check run conclusions into one state: any failure wins,
// then any pending, then success, else unknown.
func deriveCIState(runs []*gh.CheckRun) model.CIState {
	if len(runs) == 0 {
		return model.CIStateUnknown
	}

	var pending, success bool
	for _, run := range runs {
		if run.GetStatus() != "completed" {
			pending = true
			continue
		}
		switch run.GetConclusion() {
		case "failure", "timed_out", "cancelled":
			return model.CIStateFailure
		case "success", "neutral", "skipped":
			success = true
		}
	}

	if pending {
		return model.CIStatePending
	}
	if success {
		return model.CIStateSuccess
	}
	return model.CIStateUnknown
}

// fetchReviewState derives the aggregate review state from the latest review
// per reviewer, plus the login of the most recent reviewer as the PR's last
// actor.
func (c *Client) fetchReviewState(ctx context.Context, owner, repo string, number int, snapshot model.PullRequest) (model.ReviewState, string, error) {
	opts := &gh.ListOptions{PerPage: 100}

	var allReviews []*gh.PullRequestReview
	for {
		var reviews []*gh.PullRequestReview
		var resp *gh.Response

		err := withRetry(ctx, func() error {
			var callErr error
			reviews, resp, callErr = c.gh.PullRequests.ListReviews(ctx, owner, repo, number, opts)
			if callErr != nil {
				return classify(resp, callErr)
			}
			return nil
		})
		if err != nil {
			return model.ReviewStateUnreviewed, "", fmt.Errorf("listing reviews for %s/%s#%d: %w", owner, repo, number, err)
		}

		allReviews = append(allReviews, reviews...)

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return deriveReviewState(allReviews, snapshot), latestReviewer(allReviews), nil
}

// latestReviewer returns the login of the most recently submitted review, or
// empty when no review has been submitted yet.
func latestReviewer(reviews []*gh.PullRequestReview) string {
	var login string
	var newest time.Time

	for _, review := range reviews {
		if strings.ToUpper(review.GetState()) == "PENDING" {
			continue
		}
		at := review.GetSubmittedAt().Time
		if login == "" || at.After(newest) {
			login = review.GetUser().GetLogin()
			newest = at
		}
	}

	return login
}

// deriveReviewState folds reviews into one aggregate state. Changes-requested
// from any reviewer's latest review dominates, then approval, then comments.
// With no reviews the state falls back to the request/draft signals.
func deriveReviewState(reviews []*gh.PullRequestReview, snapshot model.PullRequest) model.ReviewState {
	latest := make(map[string]string)
	for _, review := range reviews {
		state := strings.ToUpper(review.GetState())
		if state == "PENDING" {
			continue
		}
		login := review.GetUser().GetLogin()
		if state == "COMMENTED" && latest[login] != "" {
			continue // A comment does not overwrite a verdict.
		}
		latest[login] = state
	}

	var approved, commented bool
	for _, state := range latest {
		switch state {
		case "CHANGES_REQUESTED":
			return model.ReviewStateChangesRequested
		case "APPROVED":
			approved = true
		case "COMMENTED":
			commented = true
		}
	}

	switch {
	case approved:
		return model.ReviewStateApproved
	case commented:
		return model.ReviewStateCommented
	case snapshot.IsDraft:
		return model.ReviewStateDraft
	case len(snapshot.RequestedReviewers) > 0:
		return model.ReviewStateRequested
	default:
		return model.ReviewStateUnreviewed
	}
}

// mapPullRequest converts a go-github PullRequest to a normalized snapshot.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapPullRequest(pr *gh.PullRequest, repoFullName string) model.PullRequest {
	state := model.PRStateOpen
	if !pr.GetMergedAt().IsZero() {
		state = model.PRStateMerged
	} else if pr.GetState() == "closed" {
		state = model.PRStateClosed
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}

	assignees := make([]string, 0, len(pr.Assignees))
	for _, a := range pr.Assignees {
		assignees = append(assignees, a.GetLogin())
	}

	reviewers := make([]string, 0, len(pr.RequestedReviewers))
	for _, r := range pr.RequestedReviewers {
		reviewers = append(reviewers, r.GetLogin())
	}

	reviewState := model.ReviewStateUnreviewed
	if pr.GetDraft() {
		reviewState = model.ReviewStateDraft
	} else if len(reviewers) > 0 {
		reviewState = model.ReviewStateRequested
	}

	return model.PullRequest{
		RepoFullName:       repoFullName,
		Number:             pr.GetNumber(),
		Title:              pr.GetTitle(),
		Body:               pr.GetBody(),
		Author:             pr.GetUser().GetLogin(),
		State:              state,
		IsDraft:            pr.GetDraft(),
		Labels:             labels,
		Assignees:          assignees,
		RequestedReviewers: reviewers,
		Milestone:          pr.GetMilestone().GetTitle(),
		HeadRef:            pr.GetHead().GetRef(),
		BaseRef:            pr.GetBase().GetRef(),
		Mergeable:          mapMergeable(pr.Mergeable),
		ReviewState:        reviewState,
		GithubCreatedAt:    pr.GetCreatedAt().Time,
		GithubUpdatedAt:    pr.GetUpdatedAt().Time,
		LastActivityAt:     pr.GetUpdatedAt().Time,
	}
}

// mapMergeable converts a *bool (GitHub's tri-state mergeable field) to a
// MergeableState. nil means GitHub hasn't computed it yet.
func mapMergeable(mergeable *bool) model.MergeableState {
	if mergeable == nil {
		return model.MergeableUnknown
	}
	if *mergeable {
		return model.MergeableYes
	}
	return model.MergeableNo
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
