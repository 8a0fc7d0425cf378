// Package linkedin publishes to member and organization feeds through the
// versioned LinkedIn REST API.
package linkedin

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/client"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

const (
	DefaultAPIURL  = "https://api.linkedin.com"
	DefaultAuthURL = "https://www.linkedin.com/oauth/v2"
	DefaultVersion = "202405"
)

type Config struct {
	APIURL       string
	AuthURL      string
	ClientID     string
	ClientSecret string
	Version      string
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
	if cfg.AuthURL == "" {
		cfg.AuthURL = DefaultAuthURL
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.AuthURL = strings.TrimRight(cfg.AuthURL, "/")
	return &Adapter{cfg: cfg, http: c, now: time.Now}
}

func (a *Adapter) Platform() model.Platform { return model.LinkedIn }

func (a *Adapter) Rules() platform.Rules {
	return platform.Rules{MaxTextLength: 3000}
}

type postRequest struct {
	Author                    string       `json:"author"`
	Commentary                string       `json:"commentary"`
	Visibility                string       `json:"visibility"`
	Distribution              distribution `json:"distribution"`
	Content                   *postContent `json:"content,omitempty"`
	LifecycleState            string       `json:"lifecycleState"`
	IsReshareDisabledByAuthor bool         `json:"isReshareDisabledByAuthor"`
}

type distribution struct {
	FeedDistribution               string   `json:"feedDistribution"`
	TargetEntities                 []string `json:"targetEntities"`
	ThirdPartyDistributionChannels []string `json:"thirdPartyDistributionChannels"`
}

type postContent struct {
	Article *article `json:"article,omitempty"`
}

type article struct {
	Source string `json:"source"`
	Title  string `json:"title"`
}

type commentRequest struct {
	Actor   string      `json:"actor"`
	Object  string      `json:"object"`
	Message commentBody `json:"message"`
}

type commentBody struct {
	Text string `json:"text"`
}

// Publish creates a feed post. A URL in the text is attached as an
// article so LinkedIn renders a link preview.
func (a *Adapter) Publish(ctx context.Context, account model.Account, content model.ContentItem) platform.Result[platform.PostRef] {
	body := postRequest{
		Author:     authorURN(account),
		Commentary: escapeCommentary(content.Body),
		Visibility: "PUBLIC",
		Distribution: distribution{
			FeedDistribution:               "MAIN_FEED",
			TargetEntities:                 []string{},
			ThirdPartyDistributionChannels: []string{},
		},
		LifecycleState: "PUBLISHED",
	}
	if link := platform.FindURL(content.Body); link != "" {
		body.Content = &postContent{Article: &article{Source: link, Title: linkTitle(link)}}
	}

	resp, err := a.http.PostJSON(ctx, a.cfg.APIURL+"/rest/posts", a.headers(account.AccessToken), body)
	if err != nil {
		return platform.Result[platform.PostRef]{Err: platform.TransportError(err)}
	}
	if !resp.OK() {
		return platform.Result[platform.PostRef]{Err: classify(resp)}
	}
	id := resp.Header.Get("X-RestLi-Id")
	if id == "" {
		return platform.Fail[platform.PostRef](platform.Unknown, "linkedin returned no post urn")
	}
	return platform.OK(platform.PostRef{ID: id})
}

func (a *Adapter) PostFollowUp(ctx context.Context, account model.Account, postID, text string) platform.Result[string] {
	body := commentRequest{
		Actor:   authorURN(account),
		Object:  postID,
		Message: commentBody{Text: text},
	}
	endpoint := a.cfg.APIURL + "/rest/socialActions/" + url.PathEscape(postID) + "/comments"
	resp, err := a.http.PostJSON(ctx, endpoint, a.headers(account.AccessToken), body)
	if err != nil {
		return platform.Result[string]{Err: platform.TransportError(err)}
	}
	if !resp.OK() {
		return platform.Result[string]{Err: classify(resp)}
	}
	return platform.OK(resp.Header.Get("X-RestLi-Id"))
}

func (a *Adapter) ValidateCredential(ctx context.Context, accessToken string) platform.Result[bool] {
	resp, err := a.http.Get(ctx, a.cfg.APIURL+"/v2/userinfo", map[string]string{"Authorization": "Bearer " + accessToken})
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
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (a *Adapter) RefreshCredential(ctx context.Context, refreshToken string) platform.Result[platform.Credential] {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {a.cfg.ClientID},
		"client_secret": {a.cfg.ClientSecret},
	}
	resp, err := a.http.PostForm(ctx, a.cfg.AuthURL+"/accessToken", nil, form)
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

func (a *Adapter) headers(token string) map[string]string {
	return map[string]string{
		"Authorization":             "Bearer " + token,
		"LinkedIn-Version":          a.cfg.Version,
		"X-Restli-Protocol-Version": "2.0.0",
	}
}

func authorURN(account model.Account) string {
	if account.Kind == model.KindOrganization || account.Kind == model.KindPage {
		return "urn:li:organization:" + account.PlatformAccountID
	}
	return "urn:li:person:" + account.PlatformAccountID
}

type apiError struct {
	Status           int    `json:"status"`
	ServiceErrorCode int    `json:"serviceErrorCode"`
	Code             string `json:"code"`
	Message          string `json:"message"`
}

func classify(resp *client.Response) *platform.Error {
	var ae apiError
	_ = json.Unmarshal(resp.Body, &ae)
	msg := ae.Message
	if msg == "" {
		msg = string(resp.Body)
	}

	kind := platform.ClassifyStatus(resp.StatusCode)
	switch ae.Code {
	case "INVALID_ACCESS_TOKEN", "EXPIRED_ACCESS_TOKEN", "REVOKED_ACCESS_TOKEN":
		kind = platform.TokenExpired
	case "ACCESS_DENIED":
		kind = platform.PermissionDenied
	case "DUPLICATE_POST":
		kind = platform.InvalidParameter
	}
	return platform.StatusError(kind, resp.StatusCode, msg)
}

// escapeCommentary escapes the characters LinkedIn's little text format
// treats as markup.
func escapeCommentary(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(`\|{}@[]()<>#*_~`, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func linkTitle(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}
	return strings.TrimPrefix(u.Host, "www.")
}
