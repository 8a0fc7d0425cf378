// Package events announces publish results to other services.
package events

import (
	"context"
	"time"
)

const (
	TypeContentPublished = "content.published.v1"
	TypeContentFailed    = "content.failed.v1"
)

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type Meta struct {
	// Publish run that produced the event.
	CorrelationID *string   `json:"correlation_id,omitempty"`
	ID            string    `json:"id"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

type TargetResult struct {
	TargetID       int64  `json:"targetId"`
	AccountID      int64  `json:"accountId"`
	Platform       string `json:"platform"`
	Success        bool   `json:"success"`
	PostID         string `json:"postId,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Error          string `json:"error,omitempty"`
	FollowUpFailed bool   `json:"followUpFailed,omitempty"`
}

type ContentResult struct {
	ContentID   int64          `json:"contentId"`
	Status      string         `json:"status"`
	PublishedAt *time.Time     `json:"publishedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
	Targets     []TargetResult `json:"targets"`
}

// EventType maps a content status to the event announcing it.
func EventType(status string) string {
	if status == "published" {
		return TypeContentPublished
	}
	return TypeContentFailed
}

type Publisher interface {
	PublishResult(ctx context.Context, runID string, res ContentResult) error
	Close() error
}

type Nop struct{}

func (Nop) PublishResult(context.Context, string, ContentResult) error { return nil }
func (Nop) Close() error                                               { return nil }
