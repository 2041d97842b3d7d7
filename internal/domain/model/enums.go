package model

// PRState represents the state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// ReviewState represents the aggregate review state of a pull request.
type ReviewState string

const (
	ReviewStateRequested        ReviewState = "review_requested"
	ReviewStateApproved         ReviewState = "approved"
	ReviewStateChangesRequested ReviewState = "changes_requested"
	ReviewStateCommented        ReviewState = "commented"
	ReviewStateUnreviewed       ReviewState = "unreviewed"
	ReviewStateDraft            ReviewState = "draft"
)

// CIState represents the combined CI state of a pull request's head commit.
type CIState string

const (
	CIStateSuccess CIState = "success"
	CIStateFailure CIState = "failure"
	CIStatePending CIState = "pending"
	CIStateUnknown CIState = "unknown"
)

// MergeableState is GitHub's tri-state mergeability signal.
type MergeableState string

const (
	MergeableYes     MergeableState = "mergeable"
	MergeableNo      MergeableState = "conflicted"
	MergeableUnknown MergeableState = "unknown"
)

// SyncTrigger identifies what initiated a sync run.
type SyncTrigger string

const (
	TriggerPoll   SyncTrigger = "poll"
	TriggerManual SyncTrigger = "manual"
)

// SyncStatus is the overall outcome of a sync run.
type SyncStatus string

const (
	SyncStatusSuccess        SyncStatus = "success"
	SyncStatusPartialFailure SyncStatus = "partial_failure"
	SyncStatusFailed         SyncStatus = "failed"
)

// FeatureType identifies an AI enrichment feature for caching and
// circuit-breaker bookkeeping.
type FeatureType string

const (
	FeaturePRSummary          FeatureType = "pr_summary"
	FeatureRiskAssessment     FeatureType = "risk_assessment"
	FeatureReviewerSuggestion FeatureType = "reviewer_suggestion"
)

// AuditStatus is the lifecycle status of an audited action.
type AuditStatus string

const (
	AuditStatusRunning   AuditStatus = "running"
	AuditStatusCompleted AuditStatus = "completed"
	AuditStatusFailed    AuditStatus = "failed"
)
