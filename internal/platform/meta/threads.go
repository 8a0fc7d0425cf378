package meta

import (
	"context"
	"net/url"

	"github.com/LeventeLantos/social-publisher/internal/client"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

// Threads publishes text or image posts; the follow-up is a reply thread.
type Threads struct {
	api graphAPI
}

func NewThreads(cfg Config, c *client.HTTPClient) *Threads {
	return &Threads{api: newGraphAPI(cfg.BaseURL, DefaultThreadsURL, c)}
}

func (t *Threads) Platform() model.Platform { return model.Threads }

func (t *Threads) Rules() platform.Rules {
	return platform.Rules{MaxTextLength: 500}
}

func (t *Threads) Publish(ctx context.Context, account model.Account, content model.ContentItem) platform.Result[platform.PostRef] {
	form := url.Values{"media_type": {"TEXT"}, "text": {content.Body}}
	if content.HasImage() {
		form.Set("media_type", "IMAGE")
		form.Set("image_url", content.ImageURL)
	}
	return t.createAndPublish(ctx, account, form)
}

func (t *Threads) PostFollowUp(ctx context.Context, account model.Account, postID, text string) platform.Result[string] {
	form := url.Values{"media_type": {"TEXT"}, "text": {text}, "reply_to_id": {postID}}
	res := t.createAndPublish(ctx, account, form)
	if !res.Ok() {
		return platform.Result[string]{Err: res.Err}
	}
	return platform.OK(res.Value.ID)
}

func (t *Threads) createAndPublish(ctx context.Context, account model.Account, form url.Values) platform.Result[platform.PostRef] {
	var container idResponse
	if perr := t.api.post(ctx, "/"+account.PlatformAccountID+"/threads", account.AccessToken, form, &container); perr != nil {
		return platform.Result[platform.PostRef]{Err: perr}
	}
	if container.ID == "" {
		return platform.Fail[platform.PostRef](platform.Unknown, "threads returned no container id")
	}

	var published idResponse
	pub := url.Values{"creation_id": {container.ID}}
	if perr := t.api.post(ctx, "/"+account.PlatformAccountID+"/threads_publish", account.AccessToken, pub, &published); perr != nil {
		return platform.Result[platform.PostRef]{Err: perr}
	}
	if published.ID == "" {
		return platform.Fail[platform.PostRef](platform.Unknown, "threads returned no post id")
	}
	return platform.OK(platform.PostRef{ID: published.ID})
}

func (t *Threads) ValidateCredential(ctx context.Context, accessToken string) platform.Result[bool] {
	return t.api.validate(ctx, accessToken)
}

// RefreshCredential extends a long-lived Threads token. Threads refreshes
// the access token itself, so the refresh credential is a long-lived token.
func (t *Threads) RefreshCredential(ctx context.Context, refreshToken string) platform.Result[platform.Credential] {
	q := url.Values{"grant_type": {"th_refresh_token"}, "access_token": {refreshToken}}
	var tr tokenResponse
	if perr := t.api.get(ctx, "/refresh_access_token", q, &tr); perr != nil {
		return refreshFailure(perr)
	}
	res := t.api.credential(tr, "")
	if res.Ok() {
		res.Value.RefreshToken = res.Value.AccessToken
	}
	return res
}
