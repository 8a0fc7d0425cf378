// Package credential decides whether a stored account credential can be
// used as is, must be refreshed first, or is beyond repair.
package credential

import (
	"context"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

const DefaultLookahead = 5 * time.Minute

type Decision int

const (
	Usable Decision = iota
	NeedsRefresh
	Invalid
)

func (d Decision) String() string {
	switch d {
	case Usable:
		return "usable"
	case NeedsRefresh:
		return "needs_refresh"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

type Verdict struct {
	Decision Decision
	Reason   string
}

// Guard treats a credential that expires within Lookahead as already
// expired.
type Guard struct {
	Lookahead time.Duration
	Now       func() time.Time
}

func NewGuard(lookahead time.Duration) *Guard {
	if lookahead < 0 {
		lookahead = 0
	}
	return &Guard{Lookahead: lookahead, Now: time.Now}
}

func (g *Guard) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

// Check decides from the stored fields alone. It makes no network call.
func (g *Guard) Check(account model.Account) Verdict {
	if !account.Active {
		return Verdict{Decision: Invalid, Reason: "account is deactivated"}
	}
	if account.AccessToken == "" && !account.HasRefreshToken() {
		return Verdict{Decision: Invalid, Reason: "no access token stored"}
	}
	if account.AccessToken == "" {
		return Verdict{Decision: NeedsRefresh, Reason: "no access token stored"}
	}
	if account.ExpiresAt == nil {
		return Verdict{Decision: Usable}
	}

	now := g.now()
	exp := *account.ExpiresAt
	if exp.Before(now) && !account.HasRefreshToken() {
		return Verdict{Decision: Invalid, Reason: "access token expired at " + exp.UTC().Format(time.RFC3339)}
	}
	if !exp.After(now.Add(g.Lookahead)) && account.HasRefreshToken() {
		return Verdict{Decision: NeedsRefresh, Reason: "access token expires at " + exp.UTC().Format(time.RFC3339)}
	}
	return Verdict{Decision: Usable}
}

// Validate asks the platform whether the stored access token is still
// accepted. A rejected token with a refresh token available becomes
// NeedsRefresh. The returned error is set only when the validation call
// itself failed.
func (g *Guard) Validate(ctx context.Context, v platform.Validator, account model.Account) (Verdict, *platform.Error) {
	res := v.ValidateCredential(ctx, account.AccessToken)
	if !res.Ok() {
		return Verdict{}, res.Err
	}
	if res.Value {
		return Verdict{Decision: Usable}, nil
	}
	if account.HasRefreshToken() {
		return Verdict{Decision: NeedsRefresh, Reason: "access token rejected by platform"}, nil
	}
	return Verdict{Decision: Invalid, Reason: "access token rejected by platform"}, nil
}
