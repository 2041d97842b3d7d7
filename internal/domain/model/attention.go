package model

import "time"

// AttentionFacts is the flattened fact set the scorer consumes. It is built
// from a PullRequest plus the current viewer identity; the scorer itself has
// no store or network dependencies.
type AttentionFacts struct {
	ReviewRequested      bool
	AssignedToMe         bool
	ReviewState          ReviewState
	CIState              CIState
	IsDraft              bool
	IsMergeable          MergeableState
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Additions            int
	Deletions            int
	CommentCount         int
	CommitCount          int
	MentionCount         int
	LastActivityByViewer bool

	// FlowPhase is the head branch's promotion phase label, when one of the
	// configured flow rules matches. Used only for reason text context.
	FlowPhase string
}

// ScoreBreakdown holds the named signed components of the urgency score.
// Each factor stays individually inspectable; FinalScore must equal the sum
// of all components, clamped to a non-negative floor.
type ScoreBreakdown struct {
	ReviewRequestBoost    int `json:"review_request_boost"`
	AssigneeBoost         int `json:"assignee_boost"`
	CIPenalty             int `json:"ci_penalty"`
	StalenessBoost        int `json:"staleness_boost"`
	DraftPenalty          int `json:"draft_penalty"`
	MentionBoost          int `json:"mention_boost"`
	SizeBoost             int `json:"size_boost"`
	ActivityBoost         int `json:"activity_boost"`
	CommitBoost           int `json:"commit_boost"`
	MyLastActivityPenalty int `json:"my_last_activity_penalty"`
	FinalScore            int `json:"final_score"`
}

// Sum returns the signed sum of all components, before the zero floor.
func (b ScoreBreakdown) Sum() int {
	return b.ReviewRequestBoost +
		b.AssigneeBoost +
		b.CIPenalty +
		b.StalenessBoost +
		b.DraftPenalty +
		b.MentionBoost +
		b.SizeBoost +
		b.ActivityBoost +
		b.CommitBoost +
		b.MyLastActivityPenalty
}

// AttentionResult is the scorer's output for one pull request.
type AttentionResult struct {
	NeedsAttention  bool
	AttentionReason string // Empty when NeedsAttention is false.
	UrgencyScore    int
	Breakdown       ScoreBreakdown
}

// PullRequestAttention is the derived 1:1 attention row for a pull request.
// It is fully recomputed every time the scorer runs, never patched in place.
// RiskLevel and RiskFactors are written by the risk-assessment enrichment
// feature and carried across recomputes.
type PullRequestAttention struct {
	PullRequestID   int64
	NeedsAttention  bool
	AttentionReason string
	UrgencyScore    int
	Breakdown       ScoreBreakdown
	FlowPhase       string
	RiskLevel       string
	RiskFactors     []string
	LastSyncedAt    time.Time
}
