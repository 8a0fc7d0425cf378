package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

const (
	DefaultConcurrency     = 4
	DefaultDispatchTimeout = 60 * time.Second
)

type TargetDispatcher interface {
	Dispatch(ctx context.Context, content model.ContentItem, target model.Target, account model.Account) model.Outcome
}

// Coordinator fans one content item out to its targets. It waits for
// every dispatch to settle and never cancels one because another failed.
type Coordinator struct {
	dispatcher TargetDispatcher
	limit      int
	timeout    time.Duration
	log        *slog.Logger
}

func NewCoordinator(d TargetDispatcher, limit int, dispatchTimeout time.Duration) *Coordinator {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if dispatchTimeout <= 0 {
		dispatchTimeout = DefaultDispatchTimeout
	}
	return &Coordinator{dispatcher: d, limit: limit, timeout: dispatchTimeout, log: slog.Default()}
}

func (c *Coordinator) WithLogger(l *slog.Logger) *Coordinator {
	if l != nil {
		c.log = l
	}
	return c
}

// Run returns one outcome per target, in target order.
func (c *Coordinator) Run(ctx context.Context, content model.ContentItem, targets []model.Target, accounts map[int64]model.Account) []model.Outcome {
	outcomes := make([]model.Outcome, len(targets))

	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, t := range targets {
		i, t := i, t
		account := accounts[t.AccountID]
		g.Go(func() error {
			outcomes[i] = c.runOne(ctx, content, t, account)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (c *Coordinator) runOne(ctx context.Context, content model.ContentItem, target model.Target, account model.Account) model.Outcome {
	executor := failsafe.With[model.Outcome](timeout.New[model.Outcome](c.timeout))

	out, err := executor.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[model.Outcome]) (model.Outcome, error) {
		done := make(chan model.Outcome, 1)
		go func() {
			done <- c.safeDispatch(exec.Context(), content, target, account)
		}()
		select {
		case out := <-done:
			return out, nil
		case <-exec.Context().Done():
			return model.Outcome{}, exec.Context().Err()
		}
	})
	if err == nil {
		return out
	}

	if ctx.Err() != nil && !errors.Is(err, timeout.ErrExceeded) {
		c.log.Warn("dispatch abandoned", "content_id", content.ID, "target_id", target.ID, "error", err)
		// A parent deadline reads as Timeout, a plain cancel as Unknown.
		return failure(target.ID, account, platform.Errorf(platform.KindOf(ctx.Err()), "publish run was stopped: %v", ctx.Err()))
	}
	c.log.Warn("dispatch timed out", "content_id", content.ID, "target_id", target.ID, "timeout", c.timeout.String())
	return failure(target.ID, account, platform.Errorf(platform.Timeout, "no result within %s", c.timeout))
}

func (c *Coordinator) safeDispatch(ctx context.Context, content model.ContentItem, target model.Target, account model.Account) (out model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("dispatcher panic recovered", "content_id", content.ID, "target_id", target.ID, "panic", r)
			out = failure(target.ID, account, platform.Errorf(platform.Unknown, "internal error: %v", r))
		}
	}()
	return c.dispatcher.Dispatch(ctx, content, target, account)
}
