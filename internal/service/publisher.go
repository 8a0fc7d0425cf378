package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LeventeLantos/social-publisher/internal/cache"
	"github.com/LeventeLantos/social-publisher/internal/events"
	"github.com/LeventeLantos/social-publisher/internal/metrics"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/repo"
)

// PublishOptions is the caller's re-invocation policy.
type PublishOptions struct {
	// Republish also dispatches targets that an earlier run published.
	// By default they are carried over as successes and left untouched.
	Republish bool
}

type Fanout interface {
	Run(ctx context.Context, content model.ContentItem, targets []model.Target, accounts map[int64]model.Account) []model.Outcome
}

// Publisher is the single entry point that publishes one content item to
// all of its targets.
type Publisher struct {
	store       repo.Store
	coordinator Fanout
	aggregator  *Aggregator

	locker  cache.Locker
	cache   cache.PublicationCache
	events  events.Publisher
	metrics *metrics.Collector
	log     *slog.Logger
}

func NewPublisher(store repo.Store, coordinator Fanout) *Publisher {
	return &Publisher{
		store:       store,
		coordinator: coordinator,
		aggregator:  NewAggregator(store),
		events:      events.Nop{},
		log:         slog.Default(),
	}
}

func (p *Publisher) WithLogger(l *slog.Logger) *Publisher {
	if l != nil {
		p.log = l
		p.aggregator.WithLogger(l)
	}
	return p
}

// WithCache enables the cross-process publish lock and the published-post
// cache. Either may be nil.
func (p *Publisher) WithCache(locker cache.Locker, c cache.PublicationCache) *Publisher {
	p.locker = locker
	p.cache = c
	return p
}

func (p *Publisher) WithEvents(e events.Publisher) *Publisher {
	if e != nil {
		p.events = e
	}
	return p
}

func (p *Publisher) WithMetrics(m *metrics.Collector) *Publisher {
	p.metrics = m
	return p
}

func (p *Publisher) PublishContentItem(ctx context.Context, contentID int64) error {
	_, err := p.Publish(ctx, contentID, PublishOptions{})
	return err
}

// Publish runs one publish attempt. Target failures are reported in the
// summary and on the stored targets; the error is reserved for failures
// to load or persist state.
func (p *Publisher) Publish(ctx context.Context, contentID int64, opts PublishOptions) (Summary, error) {
	runID := uuid.NewString()
	log := p.log.With("content_id", contentID, "run_id", runID)
	start := time.Now()

	if p.locker != nil {
		unlock, err := p.locker.Lock(ctx, contentID)
		if err != nil {
			return Summary{}, fmt.Errorf("lock content %d: %w", contentID, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				log.Warn("failed to release publish lock", "error", err)
			}
		}()
	}

	pub, err := p.store.LoadPublication(ctx, contentID)
	if err != nil {
		return Summary{}, fmt.Errorf("load content %d: %w", contentID, err)
	}
	if err := p.store.MarkContentPublishing(ctx, contentID); err != nil {
		return Summary{}, fmt.Errorf("mark content %d publishing: %w", contentID, err)
	}

	var (
		dispatch []model.Target
		carried  []model.Outcome
	)
	for _, t := range pub.Targets {
		if t.Status == model.TargetPublished && !opts.Republish {
			carried = append(carried, model.Carried(t))
			continue
		}
		dispatch = append(dispatch, t)
	}
	log.Info("publishing content", "targets", len(dispatch), "already_published", len(carried))

	outcomes := p.coordinator.Run(ctx, pub.Content, dispatch, pub.Accounts)
	all := inTargetOrder(pub.Targets, carried, outcomes)

	summary, err := p.aggregator.Apply(context.WithoutCancel(ctx), contentID, all)
	p.metrics.ObserveContent(string(summary.Status))
	if err != nil {
		return summary, fmt.Errorf("persist outcomes for content %d: %w", contentID, err)
	}

	p.cachePosts(ctx, log, contentID, pub, all, summary)
	p.emit(ctx, log, runID, contentID, pub, all, summary)

	log.Info("publish run finished",
		"status", string(summary.Status),
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return summary, nil
}

// inTargetOrder merges carried and dispatched outcomes back into the order
// of targets.
func inTargetOrder(targets []model.Target, groups ...[]model.Outcome) []model.Outcome {
	byTarget := make(map[int64]model.Outcome, len(targets))
	for _, g := range groups {
		for _, o := range g {
			byTarget[o.TargetID] = o
		}
	}
	all := make([]model.Outcome, 0, len(byTarget))
	for _, t := range targets {
		if o, ok := byTarget[t.ID]; ok {
			all = append(all, o)
		}
	}
	return all
}

func (p *Publisher) cachePosts(ctx context.Context, log *slog.Logger, contentID int64, pub repo.Publication, outcomes []model.Outcome, s Summary) {
	if p.cache == nil || s.Status != model.ContentPublished {
		return
	}
	platforms := targetPlatforms(pub)
	var posts []cache.PublishedPost
	for _, o := range outcomes {
		if o.Success {
			posts = append(posts, cache.PublishedPost{TargetID: o.TargetID, Platform: platforms[o.TargetID], PostID: o.PlatformPostID})
		}
	}
	if err := p.cache.StorePublished(ctx, contentID, posts, s.At); err != nil {
		log.Warn("failed to cache published posts", "error", err)
	}
}

func (p *Publisher) emit(ctx context.Context, log *slog.Logger, runID string, contentID int64, pub repo.Publication, outcomes []model.Outcome, s Summary) {
	accountOf := make(map[int64]int64, len(pub.Targets))
	for _, t := range pub.Targets {
		accountOf[t.ID] = t.AccountID
	}
	platforms := targetPlatforms(pub)

	res := events.ContentResult{ContentID: contentID, Status: string(s.Status), Error: s.Error}
	if s.Status == model.ContentPublished {
		at := s.At
		res.PublishedAt = &at
	}
	for _, o := range outcomes {
		res.Targets = append(res.Targets, events.TargetResult{
			TargetID:       o.TargetID,
			AccountID:      accountOf[o.TargetID],
			Platform:       platforms[o.TargetID],
			Success:        o.Success,
			PostID:         o.PlatformPostID,
			Kind:           o.Kind,
			Error:          o.ErrorMessage,
			FollowUpFailed: o.FollowUpFailed,
		})
	}
	if err := p.events.PublishResult(ctx, runID, res); err != nil {
		log.Warn("failed to emit publish event", "error", err)
	}
}

func targetPlatforms(pub repo.Publication) map[int64]string {
	out := make(map[int64]string, len(pub.Targets))
	for _, t := range pub.Targets {
		out[t.ID] = string(pub.Accounts[t.AccountID].Platform)
	}
	return out
}

// IsBusy reports whether err means another run holds the content item.
func IsBusy(err error) bool {
	return errors.Is(err, cache.ErrLocked)
}
