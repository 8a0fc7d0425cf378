package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/LeventeLantos/social-publisher/internal/api"
	"github.com/LeventeLantos/social-publisher/internal/cache"
	"github.com/LeventeLantos/social-publisher/internal/client"
	"github.com/LeventeLantos/social-publisher/internal/config"
	"github.com/LeventeLantos/social-publisher/internal/credential"
	"github.com/LeventeLantos/social-publisher/internal/events"
	"github.com/LeventeLantos/social-publisher/internal/metrics"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
	"github.com/LeventeLantos/social-publisher/internal/platform/linkedin"
	"github.com/LeventeLantos/social-publisher/internal/platform/meta"
	"github.com/LeventeLantos/social-publisher/internal/platform/twitter"
	"github.com/LeventeLantos/social-publisher/internal/repo"
	"github.com/LeventeLantos/social-publisher/internal/service"
)

// app holds the wired components shared by the serve and publish commands.
type app struct {
	store     *repo.PostgresStore
	publisher *service.Publisher
	metrics   *metrics.Collector
	platforms []model.Platform
	posts     api.PostCache

	closers []func() error
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{metrics: metrics.New()}

	db, err := repo.Open(ctx, cfg.Database.PostgresURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	a.store = repo.NewPostgresStore(db)

	registry, err := newRegistry(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.platforms = registry.Platforms()

	guard := credential.NewGuard(cfg.Publish.CredentialLookahead)
	dispatcher := service.NewDispatcher(registry, guard, a.store).
		WithLogger(log).
		WithMetrics(a.metrics)
	coordinator := service.NewCoordinator(dispatcher, cfg.Publish.Concurrency, cfg.Publish.DispatchTimeout).
		WithLogger(log)
	a.publisher = service.NewPublisher(a.store, coordinator).
		WithLogger(log).
		WithMetrics(a.metrics)

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			_ = a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		rc := cache.NewRedisCache(rdb, cfg.Redis.TTL, cfg.Publish.LockTTL())
		a.publisher.WithCache(rc, rc)
		a.posts = rc
	}

	if cfg.AMQP.Enabled {
		ev, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, ev.Close)
		a.publisher.WithEvents(ev)
	}

	return a, nil
}

func newRegistry(cfg *config.Config) (*platform.Registry, error) {
	opts := client.Options{Timeout: cfg.HTTP.Timeout}
	if cfg.HTTP.CircuitBreaker {
		opts.BreakerThreshold = 5
	}
	p := cfg.Platforms
	fb := meta.Config{BaseURL: p.Facebook.BaseURL, AppID: p.Facebook.AppID, AppSecret: p.Facebook.AppSecret}

	return platform.NewRegistry(
		meta.NewFacebook(fb, client.NewHTTPClient("facebook", opts)),
		meta.NewInstagram(fb, client.NewHTTPClient("instagram", opts)),
		meta.NewThreads(meta.Config{BaseURL: p.Threads.BaseURL, AppID: p.Threads.AppID, AppSecret: p.Threads.AppSecret},
			client.NewHTTPClient("threads", opts)),
		linkedin.New(linkedin.Config{
			APIURL:       p.LinkedIn.APIURL,
			AuthURL:      p.LinkedIn.AuthURL,
			ClientID:     p.LinkedIn.ClientID,
			ClientSecret: p.LinkedIn.ClientSecret,
			Version:      p.LinkedIn.Version,
		}, client.NewHTTPClient("linkedin", opts)),
		twitter.New(twitter.Config{
			APIURL:       p.Twitter.APIURL,
			ClientID:     p.Twitter.ClientID,
			ClientSecret: p.Twitter.ClientSecret,
		}, client.NewHTTPClient("twitter", opts)),
	)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}
