package meta

import (
	"context"
	"net/url"

	"github.com/LeventeLantos/social-publisher/internal/client"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

// Facebook publishes to pages through the Graph API. Personal profiles
// cannot be published to.
type Facebook struct {
	api graphAPI
	cfg Config
}

func NewFacebook(cfg Config, c *client.HTTPClient) *Facebook {
	return &Facebook{api: newGraphAPI(cfg.BaseURL, DefaultGraphURL, c), cfg: cfg}
}

func (f *Facebook) Platform() model.Platform { return model.Facebook }

func (f *Facebook) Rules() platform.Rules {
	return platform.Rules{
		ForbiddenKinds: []model.AccountKind{model.KindProfile},
		MaxTextLength:  63206,
		// Page tokens usually carry no expiry, so the stored value says
		// nothing about revocation.
		RemoteValidation: true,
	}
}

func (f *Facebook) Publish(ctx context.Context, account model.Account, content model.ContentItem) platform.Result[platform.PostRef] {
	var out idResponse
	if content.HasImage() {
		form := url.Values{"url": {content.ImageURL}, "caption": {content.Body}}
		if perr := f.api.post(ctx, "/"+account.PlatformAccountID+"/photos", account.AccessToken, form, &out); perr != nil {
			return platform.Result[platform.PostRef]{Err: perr}
		}
	} else {
		form := url.Values{"message": {content.Body}}
		if link := platform.FindURL(content.Body); link != "" {
			form.Set("link", link)
		}
		if perr := f.api.post(ctx, "/"+account.PlatformAccountID+"/feed", account.AccessToken, form, &out); perr != nil {
			return platform.Result[platform.PostRef]{Err: perr}
		}
	}

	// Photo uploads return the photo id plus the feed post id; comments
	// belong on the post.
	id := out.PostID
	if id == "" {
		id = out.ID
	}
	if id == "" {
		return platform.Fail[platform.PostRef](platform.Unknown, "facebook returned no post id")
	}
	return platform.OK(platform.PostRef{ID: id})
}

func (f *Facebook) PostFollowUp(ctx context.Context, account model.Account, postID, text string) platform.Result[string] {
	var out idResponse
	if perr := f.api.post(ctx, "/"+postID+"/comments", account.AccessToken, url.Values{"message": {text}}, &out); perr != nil {
		return platform.Result[string]{Err: perr}
	}
	return platform.OK(out.ID)
}

func (f *Facebook) ValidateCredential(ctx context.Context, accessToken string) platform.Result[bool] {
	return f.api.validate(ctx, accessToken)
}

// RefreshCredential exchanges a long-lived token for a new one.
func (f *Facebook) RefreshCredential(ctx context.Context, refreshToken string) platform.Result[platform.Credential] {
	return exchangeToken(ctx, f.api, f.cfg, refreshToken)
}

func exchangeToken(ctx context.Context, api graphAPI, cfg Config, token string) platform.Result[platform.Credential] {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return platform.Fail[platform.Credential](platform.CredentialRefreshFailed, "app id and secret are not configured")
	}
	q := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {cfg.AppID},
		"client_secret":     {cfg.AppSecret},
		"fb_exchange_token": {token},
	}
	var tr tokenResponse
	if perr := api.get(ctx, "/oauth/access_token", q, &tr); perr != nil {
		return refreshFailure(perr)
	}
	return api.credential(tr, token)
}
