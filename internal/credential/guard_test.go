package credential

import (
	"context"
	"testing"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func TestGuard_Check(t *testing.T) {
	t.Parallel()

	g := &Guard{Lookahead: 5 * time.Minute, Now: func() time.Time { return now }}

	cases := []struct {
		name    string
		account model.Account
		want    Decision
	}{
		{"deactivated", model.Account{Active: false, AccessToken: "a"}, Invalid},
		{"no expiry", model.Account{Active: true, AccessToken: "a"}, Usable},
		{"far future", model.Account{Active: true, AccessToken: "a", ExpiresAt: at(24 * time.Hour)}, Usable},
		{"expired without refresh", model.Account{Active: true, AccessToken: "a", ExpiresAt: at(-time.Minute)}, Invalid},
		{"expired with refresh", model.Account{Active: true, AccessToken: "a", RefreshToken: "r", ExpiresAt: at(-time.Minute)}, NeedsRefresh},
		{"within lookahead with refresh", model.Account{Active: true, AccessToken: "a", RefreshToken: "r", ExpiresAt: at(2 * time.Minute)}, NeedsRefresh},
		{"at lookahead edge with refresh", model.Account{Active: true, AccessToken: "a", RefreshToken: "r", ExpiresAt: at(5 * time.Minute)}, NeedsRefresh},
		{"within lookahead without refresh", model.Account{Active: true, AccessToken: "a", ExpiresAt: at(2 * time.Minute)}, Usable},
		{"expiring exactly now without refresh", model.Account{Active: true, AccessToken: "a", ExpiresAt: at(0)}, Usable},
		{"missing access with refresh", model.Account{Active: true, RefreshToken: "r"}, NeedsRefresh},
		{"missing everything", model.Account{Active: true}, Invalid},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := g.Check(tc.account)
			if got.Decision != tc.want {
				t.Fatalf("Check() = %s (%s), want %s", got.Decision, got.Reason, tc.want)
			}
			if got.Decision != Usable && got.Reason == "" {
				t.Fatalf("expected a reason for %s", got.Decision)
			}
		})
	}
}

type stubValidator struct {
	res   platform.Result[bool]
	calls int
}

func (s *stubValidator) ValidateCredential(context.Context, string) platform.Result[bool] {
	s.calls++
	return s.res
}

func TestGuard_Validate(t *testing.T) {
	t.Parallel()

	g := NewGuard(DefaultLookahead)
	withRefresh := model.Account{Active: true, AccessToken: "a", RefreshToken: "r"}
	noRefresh := model.Account{Active: true, AccessToken: "a"}

	v := &stubValidator{res: platform.OK(true)}
	if got, err := g.Validate(context.Background(), v, noRefresh); err != nil || got.Decision != Usable {
		t.Fatalf("expected usable, got %+v %v", got, err)
	}

	v = &stubValidator{res: platform.OK(false)}
	if got, err := g.Validate(context.Background(), v, withRefresh); err != nil || got.Decision != NeedsRefresh {
		t.Fatalf("expected needs refresh, got %+v %v", got, err)
	}
	if got, err := g.Validate(context.Background(), v, noRefresh); err != nil || got.Decision != Invalid {
		t.Fatalf("expected invalid, got %+v %v", got, err)
	}

	v = &stubValidator{res: platform.Fail[bool](platform.PlatformServerError, "boom")}
	if _, err := g.Validate(context.Background(), v, noRefresh); err == nil || err.Kind != platform.PlatformServerError {
		t.Fatalf("expected validation error, got %v", err)
	}
	if v.calls != 1 {
		t.Fatalf("expected one validation call, got %d", v.calls)
	}
}

func TestDecision_String(t *testing.T) {
	t.Parallel()

	for d, want := range map[Decision]string{Usable: "usable", NeedsRefresh: "needs_refresh", Invalid: "invalid", Decision(9): "unknown"} {
		if got := d.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", d, got, want)
		}
	}
}
