package models

import (
	"time"
)

// Content is the Reddit post plus the drafted reply carried by a lead.
type Content struct {
	Title       string `json:"title"`
	Selftext    string `json:"selftext"`
	URL         string `json:"url"`
	Subreddit   string `json:"subreddit"`
	Author      string `json:"author"`
	Score       int    `json:"score"`
	NumComments int    `json:"num_comments"`
	Comment     string `json:"comment"`
}

// Candidate is an accepted post waiting to be scheduled. ExternalID is the
// Reddit post id and may be empty when the producer could not supply one.
type Candidate struct {
	ExternalID string `json:"external_id"`
	Content
}

// Lead is a scheduled lead persisted in Postgres. ReleaseAt never changes
// after insert; Read is only toggled by the owner.
type Lead struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"owner_id"`
	ProductID  string    `json:"product_id"`
	ExternalID string    `json:"external_id"`
	Content
	Read      bool      `json:"read"`
	ReleaseAt time.Time `json:"release_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Released reports whether the lead is visible to its owner at now.
func (l Lead) Released(now time.Time) bool {
	return !l.ReleaseAt.After(now)
}

// Product is the thing a user is finding leads for.
type Product struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Name           string    `json:"name"`
	URL            string    `json:"url"`
	Description    string    `json:"description"`
	TargetAudience string    `json:"target_audience"`
	ProblemSolved  string    `json:"problem_solved"`
	CreatedAt      time.Time `json:"created_at"`
}

// SweepTarget identifies one owner/product pair handled by the periodic sweep.
type SweepTarget struct {
	OwnerID   string `json:"owner_id"`
	ProductID string `json:"product_id"`
}

// Key is the stable queue member for the target.
func (t SweepTarget) Key() string {
	return t.OwnerID + ":" + t.ProductID
}

// Onboarding tracks whether a user finished the onboarding flow.
type Onboarding struct {
	UserID    string    `json:"user_id"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
