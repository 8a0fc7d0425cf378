package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Claimer hands out due content ids, each to exactly one caller, and takes
// back the ones a tick never started.
type Claimer interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
	ReleaseClaimed(ctx context.Context, ids []int64) error
}

const releaseTimeout = 10 * time.Second

type ContentPublisher interface {
	PublishContentItem(ctx context.Context, contentID int64) error
}

// DueContent returns a tick that claims up to batch scheduled items and
// publishes them one after another. busy reports errors meaning another
// run already holds the item; those are skipped.
func DueContent(store Claimer, pub ContentPublisher, batch int, busy func(error) bool, log *slog.Logger) TickFunc {
	if log == nil {
		log = slog.Default()
	}
	if busy == nil {
		busy = func(error) bool { return false }
	}
	return func(ctx context.Context) error {
		ids, err := store.ClaimDue(ctx, time.Now().UTC(), batch)
		if err != nil {
			return fmt.Errorf("claim due content: %w", err)
		}
		if len(ids) == 0 {
			log.Debug("no content due")
			return nil
		}

		var errs []error
		for i, id := range ids {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				errs = appendIfErr(errs, release(ctx, store, ids[i:], log))
				break
			}
			err := pub.PublishContentItem(ctx, id)
			switch {
			case err == nil:
			case busy(err):
				log.Info("content already being published; skipped", "content_id", id)
			default:
				log.Error("publish failed", "content_id", id, "error", err)
				errs = append(errs, fmt.Errorf("content %d: %w", id, err))
			}
		}
		log.Info("due content processed", "claimed", len(ids), "errors", len(errs))
		return errors.Join(errs...)
	}
}

// release hands unstarted ids back to the schedule. It runs detached from
// ctx, which is already done.
func release(ctx context.Context, store Claimer, ids []int64, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := store.ReleaseClaimed(ctx, ids); err != nil {
		log.Error("failed to release claimed content; left in publishing", "content_ids", ids, "error", err)
		return fmt.Errorf("release claimed content %v: %w", ids, err)
	}
	log.Warn("tick stopped; released unstarted content", "content_ids", ids)
	return nil
}

func appendIfErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}
