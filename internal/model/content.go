package model

import "time"

type ContentStatus string

const (
	ContentDraft      ContentStatus = "draft"
	ContentScheduled  ContentStatus = "scheduled"
	ContentPublishing ContentStatus = "publishing"
	ContentPublished  ContentStatus = "published"
	ContentFailed     ContentStatus = "failed"
)

type TargetStatus string

const (
	TargetPending   TargetStatus = "pending"
	TargetPublished TargetStatus = "published"
	TargetFailed    TargetStatus = "failed"
)

// ContentItem is one authored unit of text and media. The publisher only
// reads it, except for the status fields.
type ContentItem struct {
	ID           int64
	Body         string
	ImageURL     string
	MediaURLs    []string
	FollowUpText string
	Status       ContentStatus
	ScheduledAt  *time.Time
	PublishedAt  *time.Time
	LastError    *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c ContentItem) HasImage() bool {
	return c.ImageURL != ""
}

// Target pairs a content item with one destination account.
type Target struct {
	ID             int64
	ContentID      int64
	AccountID      int64
	Status         TargetStatus
	PlatformPostID *string
	ErrorMessage   *string
	PublishedAt    *time.Time
}
