// Package twitter publishes to X through the v2 API with OAuth 2.0 user
// tokens.
package twitter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/client"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

const DefaultAPIURL = "https://api.x.com"

type Config struct {
	APIURL       string
	ClientID     string
	ClientSecret string
}

type Adapter struct {
	cfg  Config
	http *client.HTTPClient
	now  func() time.Time
}

func New(cfg Config, c *client.HTTPClient) *Adapter {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Adapter{cfg: cfg, http: c, now: time.Now}
}

func (a *Adapter) Platform() model.Platform { return model.Twitter }

func (a *Adapter) Rules() platform.Rules {
	return platform.Rules{MaxTextLength: 280}
}

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
	Reply *tweetReply `json:"reply,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type mediaResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
	MediaIDString string `json:"media_id_string"`
}

// Publish posts a tweet. An image is downloaded and uploaded first so the
// tweet can reference its media id.
func (a *Adapter) Publish(ctx context.Context, account model.Account, content model.ContentItem) platform.Result[platform.PostRef] {
	req := tweetRequest{Text: content.Body}
	if content.HasImage() {
		mediaID, perr := a.uploadImage(ctx, account.AccessToken, content.ImageURL)
		if perr != nil {
			return platform.Result[platform.PostRef]{Err: perr}
		}
		req.Media = &tweetMedia{MediaIDs: []string{mediaID}}
	}

	id, perr := a.tweet(ctx, account.AccessToken, req)
	if perr != nil {
		return platform.Result[platform.PostRef]{Err: perr}
	}
	return platform.OK(platform.PostRef{ID: id})
}

func (a *Adapter) PostFollowUp(ctx context.Context, account model.Account, postID, text string) platform.Result[string] {
	id, perr := a.tweet(ctx, account.AccessToken, tweetRequest{
		Text:  text,
		Reply: &tweetReply{InReplyToTweetID: postID},
	})
	if perr != nil {
		return platform.Result[string]{Err: perr}
	}
	return platform.OK(id)
}

func (a *Adapter) tweet(ctx context.Context, token string, req tweetRequest) (string, *platform.Error) {
	resp, err := a.http.PostJSON(ctx, a.cfg.APIURL+"/2/tweets", bearer(token), req)
	if err != nil {
		return "", platform.TransportError(err)
	}
	if !resp.OK() {
		return "", classify(resp)
	}
	var out tweetResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return "", &platform.Error{Kind: platform.Unknown, Message: err.Error(), StatusCode: resp.StatusCode}
	}
	if out.Data.ID == "" {
		return "", platform.Errorf(platform.Unknown, "x returned no tweet id")
	}
	return out.Data.ID, nil
}

func (a *Adapter) uploadImage(ctx context.Context, token, imageURL string) (string, *platform.Error) {
	data, err := a.http.Fetch(ctx, imageURL)
	if err != nil {
		if ctx.Err() != nil {
			return "", platform.TransportError(err)
		}
		return "", platform.Errorf(platform.InvalidParameter, "image could not be downloaded: %v", err)
	}

	fields := map[string]string{"media_category": "tweet_image"}
	resp, err := a.http.PostMultipart(ctx, a.cfg.APIURL+"/2/media/upload", bearer(token), fields, "media", fileName(imageURL), data)
	if err != nil {
		return "", platform.TransportError(err)
	}
	if !resp.OK() {
		return "", classify(resp)
	}
	var out mediaResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return "", &platform.Error{Kind: platform.Unknown, Message: err.Error(), StatusCode: resp.StatusCode}
	}
	id := out.Data.ID
	if id == "" {
		id = out.MediaIDString
	}
	if id == "" {
		return "", platform.Errorf(platform.Unknown, "x returned no media id")
	}
	return id, nil
}

func (a *Adapter) ValidateCredential(ctx context.Context, accessToken string) platform.Result[bool] {
	resp, err := a.http.Get(ctx, a.cfg.APIURL+"/2/users/me", bearer(accessToken))
	if err != nil {
		return platform.Result[bool]{Err: platform.TransportError(err)}
	}
	if resp.OK() {
		return platform.OK(true)
	}
	if perr := classify(resp); perr.Kind != platform.TokenExpired {
		return platform.Result[bool]{Err: perr}
	}
	return platform.OK(false)
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RefreshCredential exchanges a refresh token. X rotates refresh tokens,
// so the returned one replaces the stored one.
func (a *Adapter) RefreshCredential(ctx context.Context, refreshToken string) platform.Result[platform.Credential] {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {a.cfg.ClientID},
	}
	headers := map[string]string{}
	if a.cfg.ClientSecret != "" {
		headers["Authorization"] = "Basic " + basicAuth(a.cfg.ClientID, a.cfg.ClientSecret)
	}
	resp, err := a.http.PostForm(ctx, a.cfg.APIURL+"/2/oauth2/token", headers, form)
	if err != nil {
		return platform.Result[platform.Credential]{Err: platform.TransportError(err)}
	}

	var tr tokenResponse
	_ = json.Unmarshal(resp.Body, &tr)
	if !resp.OK() || tr.AccessToken == "" {
		msg := tr.ErrorDescription
		if msg == "" {
			msg = tr.Error
		}
		kind := platform.CredentialRefreshFailed
		if resp.StatusCode >= 500 {
			kind = platform.PlatformServerError
		}
		return platform.Result[platform.Credential]{Err: platform.StatusError(kind, resp.StatusCode, msg)}
	}

	cred := platform.Credential{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken}
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	}
	if tr.ExpiresIn > 0 {
		exp := a.now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
		cred.ExpiresAt = &exp
	}
	return platform.OK(cred)
}

type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
	Status int    `json:"status"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func classify(resp *client.Response) *platform.Error {
	var ae apiError
	_ = json.Unmarshal(resp.Body, &ae)
	msg := ae.Detail
	if msg == "" && len(ae.Errors) > 0 {
		msg = ae.Errors[0].Message
	}
	if msg == "" {
		msg = ae.Title
	}
	if msg == "" {
		msg = string(resp.Body)
	}

	kind := platform.ClassifyStatus(resp.StatusCode)
	if kind == platform.PermissionDenied && strings.Contains(strings.ToLower(msg), "duplicate") {
		kind = platform.InvalidParameter
	}
	return platform.StatusError(kind, resp.StatusCode, msg)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func fileName(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err != nil {
		return "image"
	}
	if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
		return name
	}
	return "image"
}

func basicAuth(id, secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(url.QueryEscape(id) + ":" + url.QueryEscape(secret)))
}
