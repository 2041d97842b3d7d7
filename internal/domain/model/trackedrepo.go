package model

import "time"

// TrackedRepository is a user's subscription to a remote repository.
// Unique per (UserLogin, FullName).
type TrackedRepository struct {
	ID           int64
	UserLogin    string
	FullName     string
	RepositoryID int64 // Remote repository ID when known; zero otherwise.
	CreatedAt    time.Time
}
