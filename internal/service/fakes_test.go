package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeAdapter implements every capability. Nil funcs fall back to a
// successful default.
type fakeAdapter struct {
	platform model.Platform
	rules    platform.Rules

	publish  func(ctx context.Context, account model.Account, content model.ContentItem) platform.Result[platform.PostRef]
	refresh  func(ctx context.Context, refreshToken string) platform.Result[platform.Credential]
	validate func(ctx context.Context, accessToken string) platform.Result[bool]
	followUp func(ctx context.Context, account model.Account, postID, text string) platform.Result[string]

	mu    sync.Mutex
	calls []string
}

func (f *fakeAdapter) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAdapter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAdapter) Platform() model.Platform { return f.platform }
func (f *fakeAdapter) Rules() platform.Rules    { return f.rules }

func (f *fakeAdapter) Publish(ctx context.Context, account model.Account, content model.ContentItem) platform.Result[platform.PostRef] {
	f.record("publish")
	if f.publish != nil {
		return f.publish(ctx, account, content)
	}
	return platform.OK(platform.PostRef{ID: string(f.platform) + "_post"})
}

func (f *fakeAdapter) RefreshCredential(ctx context.Context, refreshToken string) platform.Result[platform.Credential] {
	f.record("refresh")
	if f.refresh != nil {
		return f.refresh(ctx, refreshToken)
	}
	return platform.OK(platform.Credential{AccessToken: "refreshed-" + refreshToken})
}

func (f *fakeAdapter) ValidateCredential(ctx context.Context, accessToken string) platform.Result[bool] {
	f.record("validate")
	if f.validate != nil {
		return f.validate(ctx, accessToken)
	}
	return platform.OK(true)
}

func (f *fakeAdapter) PostFollowUp(ctx context.Context, account model.Account, postID, text string) platform.Result[string] {
	f.record("follow_up")
	if f.followUp != nil {
		return f.followUp(ctx, account, postID, text)
	}
	return platform.OK("comment-1")
}

// publishOnly has no optional capabilities.
type publishOnly struct {
	platform model.Platform
	calls    int
}

func (p *publishOnly) Platform() model.Platform { return p.platform }
func (p *publishOnly) Rules() platform.Rules    { return platform.Rules{} }

func (p *publishOnly) Publish(context.Context, model.Account, model.ContentItem) platform.Result[platform.PostRef] {
	p.calls++
	return platform.OK(platform.PostRef{ID: "plain"})
}
