package repo

import (
	"context"
	"errors"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/model"
)

var ErrNotFound = errors.New("not found")

// Publication is a content item with its targets and the accounts they
// point at, keyed by account id.
type Publication struct {
	Content  model.ContentItem
	Targets  []model.Target
	Accounts map[int64]model.Account
}

type Store interface {
	LoadPublication(ctx context.Context, contentID int64) (Publication, error)
	MarkContentPublishing(ctx context.Context, contentID int64) error
	MarkTargetPublished(ctx context.Context, targetID int64, postID string, at time.Time) error
	MarkTargetFailed(ctx context.Context, targetID int64, reason string) error
	MarkContentPublished(ctx context.Context, contentID int64, at time.Time) error
	MarkContentFailed(ctx context.Context, contentID int64, reason string) error
	UpdateAccountCredential(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt *time.Time) error
	// ClaimDue moves scheduled items whose time has come to publishing and
	// returns their ids. Concurrent callers never claim the same item.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	// ReleaseClaimed returns claimed items that were never started to
	// scheduled. Items no longer in publishing are left alone.
	ReleaseClaimed(ctx context.Context, ids []int64) error
	ListPublished(ctx context.Context, limit, offset int) ([]model.ContentItem, error)
}
