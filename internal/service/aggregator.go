package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/model"
)

// StatusWriter is the part of the store the aggregator writes to.
type StatusWriter interface {
	MarkTargetPublished(ctx context.Context, targetID int64, postID string, at time.Time) error
	MarkTargetFailed(ctx context.Context, targetID int64, reason string) error
	MarkContentPublished(ctx context.Context, contentID int64, at time.Time) error
	MarkContentFailed(ctx context.Context, contentID int64, reason string) error
}

const errorSeparator = "; "

type Summary struct {
	Status    model.ContentStatus
	Succeeded int
	Failed    int
	// Error is set only when every target failed.
	Error string
	// At is when the outcomes were applied.
	At time.Time
}

// Reduce derives the content status from the outcomes of one run. Any
// success makes the content published; failures then stay visible on
// their targets only.
func Reduce(outcomes []model.Outcome) Summary {
	var s Summary
	var msgs []string
	for _, o := range outcomes {
		if o.Success {
			s.Succeeded++
			continue
		}
		s.Failed++
		msgs = append(msgs, o.ErrorMessage)
	}

	switch {
	case len(outcomes) == 0:
		s.Status = model.ContentFailed
		s.Error = "content has no publish targets"
	case s.Succeeded > 0:
		s.Status = model.ContentPublished
	default:
		s.Status = model.ContentFailed
		s.Error = strings.Join(msgs, errorSeparator)
	}
	return s
}

type Aggregator struct {
	store StatusWriter
	now   func() time.Time
	log   *slog.Logger
}

func NewAggregator(store StatusWriter) *Aggregator {
	return &Aggregator{store: store, now: time.Now, log: slog.Default()}
}

func (a *Aggregator) WithLogger(l *slog.Logger) *Aggregator {
	if l != nil {
		a.log = l
	}
	return a
}

// Apply projects each outcome onto its target and then writes the
// content status. Every write is attempted; the returned error joins the
// ones that failed.
func (a *Aggregator) Apply(ctx context.Context, contentID int64, outcomes []model.Outcome) (Summary, error) {
	now := a.now().UTC()
	var errs []error

	for _, o := range outcomes {
		if o.AlreadyPublished {
			continue
		}
		var err error
		if o.Success {
			err = a.store.MarkTargetPublished(ctx, o.TargetID, o.PlatformPostID, now)
		} else {
			err = a.store.MarkTargetFailed(ctx, o.TargetID, o.ErrorMessage)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("target %d: %w", o.TargetID, err))
		}
	}

	s := Reduce(outcomes)
	s.At = now
	var err error
	if s.Status == model.ContentPublished {
		err = a.store.MarkContentPublished(ctx, contentID, now)
	} else {
		err = a.store.MarkContentFailed(ctx, contentID, s.Error)
	}
	if err != nil {
		errs = append(errs, fmt.Errorf("content %d: %w", contentID, err))
	}

	a.log.Info("content aggregated",
		"content_id", contentID,
		"status", string(s.Status),
		"succeeded", s.Succeeded,
		"failed", s.Failed,
	)
	return s, errors.Join(errs...)
}
