package application

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// Urgency score weights. Each factor contributes one signed component to the
// breakdown so the score stays explainable in the UI; the components must sum
// exactly to the final score (before the zero floor).
const (
	reviewRequestWeight = 30
	assigneeWeight      = 20
	ciFailureWeight     = 25
	stalenessPerDay     = 2
	stalenessCap        = 30
	draftWeight         = -15
	mentionWeight       = 5
	mentionCap          = 15
	sizeLargeThreshold  = 500
	sizeLargeWeight     = 10
	sizeMediumThreshold = 100
	sizeMediumWeight    = 5
	activityThreshold   = 10
	activityWeight      = 5
	commitThreshold     = 10
	commitWeight        = 5
	myActivityWeight    = -10

	// staleAttentionThreshold is the score at which a PR needs attention even
	// when no direct condition applies.
	staleAttentionThreshold = 20
)

// BuildAttentionState computes the urgency score breakdown, the needs-attention
// flag, and the dominant-signal reason for one pull request's fact set. Pure;
// uses time.Since on facts timestamps only.
func BuildAttentionState(facts model.AttentionFacts) model.AttentionResult {
	b := model.ScoreBreakdown{}

	if facts.ReviewRequested {
		b.ReviewRequestBoost = reviewRequestWeight
	}
	if facts.AssignedToMe {
		b.AssigneeBoost = assigneeWeight
	}
	if facts.CIState == model.CIStateFailure {
		b.CIPenalty = ciFailureWeight
	}
	b.StalenessBoost = stalenessBoost(facts.UpdatedAt)
	if facts.IsDraft {
		b.DraftPenalty = draftWeight
	}
	b.MentionBoost = min(facts.MentionCount*mentionWeight, mentionCap)
	b.SizeBoost = sizeBoost(facts.Additions + facts.Deletions)
	if facts.CommentCount >= activityThreshold {
		b.ActivityBoost = activityWeight
	}
	if facts.CommitCount >= commitThreshold {
		b.CommitBoost = commitWeight
	}
	if facts.LastActivityByViewer {
		b.MyLastActivityPenalty = myActivityWeight
	}

	b.FinalScore = max(b.Sum(), 0)

	needs := facts.ReviewRequested ||
		facts.AssignedToMe ||
		facts.CIState == model.CIStateFailure ||
		facts.IsMergeable == model.MergeableNo ||
		facts.ReviewState == model.ReviewStateChangesRequested ||
		b.FinalScore >= staleAttentionThreshold

	result := model.AttentionResult{
		NeedsAttention: needs,
		UrgencyScore:   b.FinalScore,
		Breakdown:      b,
	}
	if needs {
		result.AttentionReason = attentionReason(facts)
	}

	return result
}

// attentionReason picks the dominant signal in fixed priority order. When only
// the score threshold applies, the PR is simply stale; the flow phase is added
// as context when known.
func attentionReason(facts model.AttentionFacts) string {
	switch {
	case facts.ReviewRequested:
		return "Review requested"
	case facts.AssignedToMe:
		return "Assigned to you"
	case facts.CIState == model.CIStateFailure:
		return "CI is failing"
	case facts.IsMergeable == model.MergeableNo:
		return "Merge conflict"
	case facts.ReviewState == model.ReviewStateChangesRequested:
		return "Changes requested"
	case facts.FlowPhase != "":
		return fmt.Sprintf("Stale pull request (%s phase)", facts.FlowPhase)
	default:
		return "Stale pull request"
	}
}

func stalenessBoost(updatedAt time.Time) int {
	if updatedAt.IsZero() {
		return 0
	}
	days := int(time.Since(updatedAt).Hours() / 24)
	if days < 0 {
		return 0
	}
	return min(days*stalenessPerDay, stalenessCap)
}

func sizeBoost(totalChanges int) int {
	switch {
	case totalChanges >= sizeLargeThreshold:
		return sizeLargeWeight
	case totalChanges >= sizeMediumThreshold:
		return sizeMediumWeight
	default:
		return 0
	}
}

// BuildAttentionFacts flattens a pull request snapshot plus the viewer
// identity into the scorer's input. viewerLogin may be empty when no
// authenticated identity is known.
func BuildAttentionFacts(pr model.PullRequest, viewerLogin, flowPhase string) model.AttentionFacts {
	reviewRequested := containsFold(pr.RequestedReviewers, viewerLogin)
	if viewerLogin == "" && pr.ReviewState == model.ReviewStateRequested {
		reviewRequested = true
	}

	return model.AttentionFacts{
		ReviewRequested:      reviewRequested,
		AssignedToMe:         containsFold(pr.Assignees, viewerLogin),
		ReviewState:          pr.ReviewState,
		CIState:              pr.CIState,
		IsDraft:              pr.IsDraft,
		IsMergeable:          pr.Mergeable,
		CreatedAt:            pr.GithubCreatedAt,
		UpdatedAt:            pr.GithubUpdatedAt,
		Additions:            pr.Additions,
		Deletions:            pr.Deletions,
		CommentCount:         pr.CommentCount,
		CommitCount:          pr.CommitCount,
		MentionCount:         countMentions(pr.Body, viewerLogin),
		LastActivityByViewer: viewerLogin != "" && strings.EqualFold(pr.LastActor, viewerLogin),
		FlowPhase:            flowPhase,
	}
}

// countMentions counts case-insensitive @login word-boundary occurrences of
// the viewer's login in the body. Zero when no viewer identity is known.
func countMentions(body, viewerLogin string) int {
	if body == "" || viewerLogin == "" {
		return 0
	}

	re, err := regexp.Compile(`(?i)@` + regexp.QuoteMeta(viewerLogin) + `\b`)
	if err != nil {
		return 0
	}

	return len(re.FindAllStringIndex(body, -1))
}

func containsFold(items []string, target string) bool {
	if target == "" {
		return false
	}
	for _, item := range items {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}
