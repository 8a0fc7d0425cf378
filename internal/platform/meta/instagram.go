package meta

import (
	"context"
	"net/url"

	"github.com/LeventeLantos/social-publisher/internal/client"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

// Instagram publishes through the two step container flow. Every post
// needs an image, and only business or creator accounts are reachable.
type Instagram struct {
	api graphAPI
	cfg Config
}

func NewInstagram(cfg Config, c *client.HTTPClient) *Instagram {
	return &Instagram{api: newGraphAPI(cfg.BaseURL, DefaultGraphURL, c), cfg: cfg}
}

func (i *Instagram) Platform() model.Platform { return model.Instagram }

func (i *Instagram) Rules() platform.Rules {
	return platform.Rules{
		RequireImage:     true,
		ForbiddenKinds:   []model.AccountKind{model.KindProfile},
		MaxTextLength:    2200,
		RemoteValidation: true,
	}
}

func (i *Instagram) Publish(ctx context.Context, account model.Account, content model.ContentItem) platform.Result[platform.PostRef] {
	if !content.HasImage() {
		return platform.Fail[platform.PostRef](platform.StructuralPrecondition, "instagram requires an image")
	}

	var container idResponse
	form := url.Values{"image_url": {content.ImageURL}, "caption": {content.Body}}
	if perr := i.api.post(ctx, "/"+account.PlatformAccountID+"/media", account.AccessToken, form, &container); perr != nil {
		return platform.Result[platform.PostRef]{Err: perr}
	}
	if container.ID == "" {
		return platform.Fail[platform.PostRef](platform.Unknown, "instagram returned no media container id")
	}

	var published idResponse
	form = url.Values{"creation_id": {container.ID}}
	if perr := i.api.post(ctx, "/"+account.PlatformAccountID+"/media_publish", account.AccessToken, form, &published); perr != nil {
		return platform.Result[platform.PostRef]{Err: perr}
	}
	if published.ID == "" {
		return platform.Fail[platform.PostRef](platform.Unknown, "instagram returned no media id")
	}
	return platform.OK(platform.PostRef{ID: published.ID})
}

func (i *Instagram) PostFollowUp(ctx context.Context, account model.Account, postID, text string) platform.Result[string] {
	var out idResponse
	if perr := i.api.post(ctx, "/"+postID+"/comments", account.AccessToken, url.Values{"message": {text}}, &out); perr != nil {
		return platform.Result[string]{Err: perr}
	}
	return platform.OK(out.ID)
}

func (i *Instagram) ValidateCredential(ctx context.Context, accessToken string) platform.Result[bool] {
	return i.api.validate(ctx, accessToken)
}

func (i *Instagram) RefreshCredential(ctx context.Context, refreshToken string) platform.Result[platform.Credential] {
	return exchangeToken(ctx, i.api, i.cfg, refreshToken)
}
