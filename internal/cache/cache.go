package cache

import (
	"context"
	"errors"
	"time"
)

var ErrLocked = errors.New("publication is locked by another run")

type PublishedPost struct {
	TargetID int64  `json:"targetId"`
	Platform string `json:"platform"`
	PostID   string `json:"postId"`
}

type PublicationCache interface {
	StorePublished(ctx context.Context, contentID int64, posts []PublishedPost, publishedAt time.Time) error
}

// Locker serializes runs for one content item across processes.
type Locker interface {
	Lock(ctx context.Context, contentID int64) (unlock func(context.Context) error, err error)
}
