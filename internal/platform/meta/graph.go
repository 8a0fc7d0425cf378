// Package meta implements the Facebook, Instagram and Threads adapters,
// which share the Graph API conventions: form-encoded calls with an
// access_token parameter and a common error envelope.
package meta

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/client"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

const (
	DefaultGraphURL   = "https://graph.facebook.com/v19.0"
	DefaultThreadsURL = "https://graph.threads.net/v1.0"
)

// Config is the app configuration shared by the Graph based adapters.
type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
}

type graphAPI struct {
	base string
	http *client.HTTPClient
	now  func() time.Time
}

func newGraphAPI(base, def string, c *client.HTTPClient) graphAPI {
	if base == "" {
		base = def
	}
	return graphAPI{base: strings.TrimRight(base, "/"), http: c, now: time.Now}
}

type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

type idResponse struct {
	ID     string `json:"id"`
	PostID string `json:"post_id"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (g graphAPI) post(ctx context.Context, path, token string, form url.Values, out any) *platform.Error {
	if form == nil {
		form = url.Values{}
	}
	form.Set("access_token", token)
	resp, err := g.http.PostForm(ctx, g.base+path, nil, form)
	return g.decode(resp, err, out)
}

func (g graphAPI) get(ctx context.Context, path string, query url.Values, out any) *platform.Error {
	resp, err := g.http.Get(ctx, g.base+path+"?"+query.Encode(), nil)
	return g.decode(resp, err, out)
}

func (g graphAPI) decode(resp *client.Response, err error, out any) *platform.Error {
	if err != nil {
		return platform.TransportError(err)
	}
	if !resp.OK() {
		return classifyGraph(resp)
	}
	if out == nil {
		return nil
	}
	if err := resp.DecodeJSON(out); err != nil {
		return &platform.Error{Kind: platform.Unknown, Message: err.Error(), StatusCode: resp.StatusCode}
	}
	return nil
}

// classifyGraph maps Graph API error codes to a Kind, falling back to the
// HTTP status when the body carries no usable code.
func classifyGraph(resp *client.Response) *platform.Error {
	var ge graphError
	if json.Unmarshal(resp.Body, &ge) != nil || ge.Error.Code == 0 {
		return platform.StatusError(platform.ClassifyStatus(resp.StatusCode), resp.StatusCode, string(resp.Body))
	}
	kind := graphKind(ge.Error.Code, resp.StatusCode)
	return platform.StatusError(kind, resp.StatusCode, ge.Error.Message)
}

func graphKind(code, status int) platform.Kind {
	switch {
	case code == 190 || code == 102 || code == 463 || code == 467:
		return platform.TokenExpired
	case code == 10 || code == 3 || (code >= 200 && code < 300):
		return platform.PermissionDenied
	case code == 4 || code == 17 || code == 32 || code == 613 || (code >= 80001 && code <= 80014):
		return platform.RateLimited
	case code == 100 || code == 36003:
		return platform.InvalidParameter
	case code == 1 || code == 2:
		return platform.PlatformServerError
	default:
		return platform.ClassifyStatus(status)
	}
}

// validate pings /me with the token. A rejected token is a valid answer
// (false), anything else that goes wrong is a failed call.
func (g graphAPI) validate(ctx context.Context, token string) platform.Result[bool] {
	var out idResponse
	perr := g.get(ctx, "/me", url.Values{"fields": {"id"}, "access_token": {token}}, &out)
	if perr == nil {
		return platform.OK(out.ID != "")
	}
	if perr.Kind == platform.TokenExpired {
		return platform.OK(false)
	}
	return platform.Result[bool]{Err: perr}
}

func (g graphAPI) credential(tr tokenResponse, fallbackRefresh string) platform.Result[platform.Credential] {
	if tr.AccessToken == "" {
		return platform.Fail[platform.Credential](platform.CredentialRefreshFailed, "token response carried no access_token")
	}
	cred := platform.Credential{AccessToken: tr.AccessToken, RefreshToken: fallbackRefresh}
	if tr.ExpiresIn > 0 {
		exp := g.now().Add(time.Duration(tr.ExpiresIn) * time.Second).UTC()
		cred.ExpiresAt = &exp
	}
	return platform.OK(cred)
}

// refreshFailure reports a rejected refresh as CredentialRefreshFailed so
// callers never retry with the same token.
func refreshFailure(perr *platform.Error) platform.Result[platform.Credential] {
	switch perr.Kind {
	case platform.TokenExpired, platform.InvalidParameter, platform.PermissionDenied:
		return platform.Result[platform.Credential]{Err: &platform.Error{
			Kind:       platform.CredentialRefreshFailed,
			Message:    perr.Message,
			StatusCode: perr.StatusCode,
		}}
	}
	return platform.Result[platform.Credential]{Err: perr}
}
