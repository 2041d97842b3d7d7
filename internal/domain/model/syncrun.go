package model

import "time"

// SyncError is one itemized per-repository or per-PR failure recorded during
// a sync run. PullNumber is zero for repository-level failures.
type SyncError struct {
	Repository string `json:"repository"`
	PullNumber int    `json:"pull_number,omitempty"`
	Message    string `json:"message"`
}

// SyncRun is the append-only audit record of one orchestrator invocation.
type SyncRun struct {
	RunID         string
	Trigger       SyncTrigger
	Status        SyncStatus
	StartedAt     time.Time
	FinishedAt    time.Time
	PulledCount   int
	UpsertedCount int
	ErrorCount    int
	Errors        []SyncError
	ViewerLogin   string
}
