package service_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/LeventeLantos/social-publisher/internal/credential"
	"github.com/LeventeLantos/social-publisher/internal/model"
	"github.com/LeventeLantos/social-publisher/internal/platform"
	"github.com/LeventeLantos/social-publisher/internal/repo"
	"github.com/LeventeLantos/social-publisher/internal/service"
)

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newDispatcher(t *testing.T, store *repo.MemoryStore, adapters ...platform.Adapter) *service.Dispatcher {
	t.Helper()
	reg, err := platform.NewRegistry(adapters...)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	guard := &credential.Guard{Lookahead: 5 * time.Minute, Now: func() time.Time { return fixedNow }}
	return service.NewDispatcher(reg, guard, store).WithLogger(quiet)
}

func seed(store *repo.MemoryStore, a model.Account, c model.ContentItem) (model.Account, model.ContentItem, model.Target) {
	a = store.PutAccount(a)
	c = store.PutContent(c)
	t := store.PutTarget(model.Target{ContentID: c.ID, AccountID: a.ID})
	return a, c, t
}

func TestDispatch_Success(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	fb := &fakeAdapter{platform: model.Facebook}
	d := newDispatcher(t, store, fb)
	a, c, tg := seed(store, model.Account{Platform: model.Facebook, Name: "Acme Page", AccessToken: "tok", Active: true, Kind: model.KindPage},
		model.ContentItem{Body: "hello"})

	out := d.Dispatch(context.Background(), c, tg, a)
	if !out.Success || out.PlatformPostID != "facebook_post" || out.TargetID != tg.ID {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if calls := fb.Calls(); len(calls) != 1 || calls[0] != "publish" {
		t.Fatalf("expected only publish, got %v", calls)
	}
}

func TestDispatch_StructuralFailFast(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		rules   platform.Rules
		account model.Account
		content model.ContentItem
		want    string
	}{
		{
			name:    "instagram without image",
			rules:   platform.Rules{RequireImage: true},
			account: model.Account{Platform: model.Instagram, Name: "acme.ig", AccessToken: "t", Active: true, Kind: model.KindBusiness},
			content: model.ContentItem{Body: "no picture"},
			want:    "instagram requires an image",
		},
		{
			name:    "personal profile",
			rules:   platform.Rules{ForbiddenKinds: []model.AccountKind{model.KindProfile}},
			account: model.Account{Platform: model.Instagram, Name: "me", AccessToken: "t", Active: true, Kind: model.KindProfile},
			content: model.ContentItem{Body: "x", ImageURL: "https://cdn/x.png"},
			want:    "profile account",
		},
		{
			name:    "deactivated",
			account: model.Account{Platform: model.Instagram, Name: "old", AccessToken: "t", Active: false},
			content: model.ContentItem{Body: "x", ImageURL: "https://cdn/x.png"},
			want:    "deactivated",
		},
		{
			name:    "too long",
			rules:   platform.Rules{MaxTextLength: 5},
			account: model.Account{Platform: model.Instagram, Name: "acme.ig", AccessToken: "t", Active: true},
			content: model.ContentItem{Body: "toolongtext"},
			want:    "limited to 5 characters",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := repo.NewMemoryStore()
			ig := &fakeAdapter{platform: model.Instagram, rules: tc.rules}
			d := newDispatcher(t, store, ig)
			a, c, tg := seed(store, tc.account, tc.content)

			out := d.Dispatch(context.Background(), c, tg, a)
			if out.Success || out.Kind != string(platform.StructuralPrecondition) {
				t.Fatalf("expected StructuralPrecondition, got %+v", out)
			}
			if !strings.Contains(out.ErrorMessage, tc.want) {
				t.Fatalf("expected %q in %q", tc.want, out.ErrorMessage)
			}
			if calls := ig.Calls(); len(calls) != 0 {
				t.Fatalf("expected no adapter calls, got %v", calls)
			}
		})
	}
}

func TestDispatch_UnknownPlatformAndMissingAccount(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	d := newDispatcher(t, store, &fakeAdapter{platform: model.Facebook})

	a, c, tg := seed(store, model.Account{Platform: model.Threads, AccessToken: "t", Active: true}, model.ContentItem{Body: "x"})
	if out := d.Dispatch(context.Background(), c, tg, a); out.Success || !strings.Contains(out.ErrorMessage, "no adapter") {
		t.Fatalf("expected missing adapter failure, got %+v", out)
	}

	out := d.Dispatch(context.Background(), c, model.Target{ID: 99, AccountID: 12345}, model.Account{})
	if out.Success || out.Kind != string(platform.StructuralPrecondition) || !strings.HasPrefix(out.ErrorMessage, "unknown account: ") {
		t.Fatalf("expected missing account failure, got %+v", out)
	}
}

func TestDispatch_RefreshPersistsBeforePublish(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	newExpiry := fixedNow.Add(60 * 24 * time.Hour)
	var storedAtPublish model.Account

	li := &fakeAdapter{platform: model.LinkedIn}
	li.refresh = func(_ context.Context, refreshToken string) platform.Result[platform.Credential] {
		if refreshToken != "li-refresh" {
			t.Errorf("unexpected refresh token %q", refreshToken)
		}
		return platform.OK(platform.Credential{AccessToken: "li-new", RefreshToken: "li-refresh-2", ExpiresAt: &newExpiry})
	}
	var a model.Account
	li.publish = func(_ context.Context, account model.Account, _ model.ContentItem) platform.Result[platform.PostRef] {
		storedAtPublish, _ = store.Account(a.ID)
		if account.AccessToken != "li-new" {
			t.Errorf("publish used stale token %q", account.AccessToken)
		}
		return platform.OK(platform.PostRef{ID: "li_456"})
	}

	d := newDispatcher(t, store, li)
	expired := fixedNow.Add(-time.Hour)
	a, c, tg := seed(store, model.Account{
		Platform: model.LinkedIn, Name: "Acme", Kind: model.KindOrganization, Active: true,
		AccessToken: "li-old", RefreshToken: "li-refresh", ExpiresAt: &expired,
	}, model.ContentItem{Body: "hello"})

	out := d.Dispatch(context.Background(), c, tg, a)
	if !out.Success || out.PlatformPostID != "li_456" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if storedAtPublish.AccessToken != "li-new" || storedAtPublish.RefreshToken != "li-refresh-2" {
		t.Fatalf("credential was not persisted before publish: %+v", storedAtPublish)
	}
	if !storedAtPublish.ExpiresAt.Equal(newExpiry) {
		t.Fatalf("unexpected stored expiry %v", storedAtPublish.ExpiresAt)
	}
	if calls := li.Calls(); len(calls) != 2 || calls[0] != "refresh" || calls[1] != "publish" {
		t.Fatalf("expected refresh then publish, got %v", calls)
	}
}

// ctxStore fails writes on a done context, as the postgres store does.
type ctxStore struct {
	*repo.MemoryStore
}

func (s ctxStore) UpdateAccountCredential(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.UpdateAccountCredential(ctx, accountID, accessToken, refreshToken, expiresAt)
}

func TestDispatch_RefreshSurvivesCancelledRun(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	x := &fakeAdapter{platform: model.Twitter}
	x.refresh = func(context.Context, string) platform.Result[platform.Credential] {
		cancel()
		return platform.OK(platform.Credential{AccessToken: "new", RefreshToken: "rotated"})
	}
	reg, err := platform.NewRegistry(x)
	if err != nil {
		t.Fatalf("NewRegistry() error: %v", err)
	}
	guard := &credential.Guard{Lookahead: 5 * time.Minute, Now: func() time.Time { return fixedNow }}
	d := service.NewDispatcher(reg, guard, ctxStore{store}).WithLogger(quiet)

	expired := fixedNow.Add(-time.Minute)
	a, c, tg := seed(store, model.Account{
		Platform: model.Twitter, Name: "acme", Active: true,
		AccessToken: "old", RefreshToken: "old-rt", ExpiresAt: &expired,
	}, model.ContentItem{Body: "x"})

	out := d.Dispatch(ctx, c, tg, a)
	if strings.Contains(out.ErrorMessage, "could not be saved") {
		t.Fatalf("refreshed credential was dropped: %+v", out)
	}
	got, _ := store.Account(a.ID)
	if got.AccessToken != "new" || got.RefreshToken != "rotated" {
		t.Fatalf("rotated credential was not stored: %+v", got)
	}
}

func TestDispatch_RefreshKeepsOldRefreshTokenWhenNoneReturned(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	fb := &fakeAdapter{platform: model.Facebook}
	d := newDispatcher(t, store, fb)
	soon := fixedNow.Add(time.Minute)
	a, c, tg := seed(store, model.Account{
		Platform: model.Facebook, Kind: model.KindPage, Active: true,
		AccessToken: "old", RefreshToken: "keep-me", ExpiresAt: &soon,
	}, model.ContentItem{Body: "x"})

	if out := d.Dispatch(context.Background(), c, tg, a); !out.Success {
		t.Fatalf("unexpected failure %+v", out)
	}
	got, _ := store.Account(a.ID)
	if got.AccessToken != "refreshed-keep-me" || got.RefreshToken != "keep-me" {
		t.Fatalf("unexpected stored credential %+v", got)
	}
}

func TestDispatch_RefreshFailureFailsTarget(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	x := &fakeAdapter{platform: model.Twitter}
	x.refresh = func(context.Context, string) platform.Result[platform.Credential] {
		return platform.Fail[platform.Credential](platform.CredentialRefreshFailed, "refresh token revoked")
	}
	d := newDispatcher(t, store, x)
	expired := fixedNow.Add(-time.Minute)
	a, c, tg := seed(store, model.Account{
		Platform: model.Twitter, Name: "@acme", Active: true,
		AccessToken: "old", RefreshToken: "r", ExpiresAt: &expired,
	}, model.ContentItem{Body: "x"})

	out := d.Dispatch(context.Background(), c, tg, a)
	if out.Success || out.Kind != string(platform.CredentialRefreshFailed) {
		t.Fatalf("expected CredentialRefreshFailed, got %+v", out)
	}
	if out.ErrorMessage != "twitter (@acme): credential refresh failed: refresh token revoked" {
		t.Fatalf("unexpected message %q", out.ErrorMessage)
	}
	if len(store.Writes()) != 0 {
		t.Fatalf("nothing should be persisted, got %v", store.Writes())
	}
	if calls := x.Calls(); len(calls) != 1 {
		t.Fatalf("publish must not run after a failed refresh, got %v", calls)
	}
}

func TestDispatch_InvalidCredential(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	fb := &fakeAdapter{platform: model.Facebook}
	d := newDispatcher(t, store, fb)
	expired := fixedNow.Add(-time.Hour)
	a, c, tg := seed(store, model.Account{
		Platform: model.Facebook, Name: "Acme Page", Kind: model.KindPage, Active: true,
		AccessToken: "old", ExpiresAt: &expired,
	}, model.ContentItem{Body: "x"})

	out := d.Dispatch(context.Background(), c, tg, a)
	if out.Success || out.Kind != string(platform.CredentialInvalid) || !strings.Contains(out.ErrorMessage, "reconnect") {
		t.Fatalf("expected CredentialInvalid with reconnect hint, got %+v", out)
	}
	if len(fb.Calls()) != 0 {
		t.Fatalf("expected no adapter calls, got %v", fb.Calls())
	}
}

func TestDispatch_NoRefreshCapability(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	plain := &publishOnly{platform: model.Threads}
	d := newDispatcher(t, store, plain)
	soon := fixedNow.Add(time.Minute)
	a, c, tg := seed(store, model.Account{
		Platform: model.Threads, Active: true, AccessToken: "a", RefreshToken: "r", ExpiresAt: &soon,
	}, model.ContentItem{Body: "x", FollowUpText: "ignored"})

	out := d.Dispatch(context.Background(), c, tg, a)
	if out.Success || out.Kind != string(platform.CredentialInvalid) {
		t.Fatalf("expected CredentialInvalid, got %+v", out)
	}
	if plain.calls != 0 {
		t.Fatalf("expected no publish, got %d", plain.calls)
	}
}

func TestDispatch_RemoteValidation(t *testing.T) {
	t.Parallel()

	rules := platform.Rules{RemoteValidation: true}

	t.Run("rejected without refresh token", func(t *testing.T) {
		t.Parallel()
		store := repo.NewMemoryStore()
		fb := &fakeAdapter{platform: model.Facebook, rules: rules}
		fb.validate = func(context.Context, string) platform.Result[bool] { return platform.OK(false) }
		d := newDispatcher(t, store, fb)
		a, c, tg := seed(store, model.Account{Platform: model.Facebook, Active: true, AccessToken: "a"}, model.ContentItem{Body: "x"})

		out := d.Dispatch(context.Background(), c, tg, a)
		if out.Success || out.Kind != string(platform.CredentialInvalid) {
			t.Fatalf("expected CredentialInvalid, got %+v", out)
		}
		if calls := fb.Calls(); len(calls) != 1 || calls[0] != "validate" {
			t.Fatalf("expected only validate, got %v", calls)
		}
	})

	t.Run("rejected with refresh token", func(t *testing.T) {
		t.Parallel()
		store := repo.NewMemoryStore()
		fb := &fakeAdapter{platform: model.Facebook, rules: rules}
		fb.validate = func(context.Context, string) platform.Result[bool] { return platform.OK(false) }
		d := newDispatcher(t, store, fb)
		a, c, tg := seed(store, model.Account{Platform: model.Facebook, Active: true, AccessToken: "a", RefreshToken: "r"}, model.ContentItem{Body: "x"})

		out := d.Dispatch(context.Background(), c, tg, a)
		if !out.Success {
			t.Fatalf("expected success after refresh, got %+v", out)
		}
		want := []string{"validate", "refresh", "publish"}
		calls := fb.Calls()
		if strings.Join(calls, ",") != strings.Join(want, ",") {
			t.Fatalf("expected %v, got %v", want, calls)
		}
	})

	t.Run("validation call fails", func(t *testing.T) {
		t.Parallel()
		store := repo.NewMemoryStore()
		fb := &fakeAdapter{platform: model.Facebook, rules: rules}
		fb.validate = func(context.Context, string) platform.Result[bool] {
			return platform.Fail[bool](platform.PlatformServerError, "graph unavailable")
		}
		d := newDispatcher(t, store, fb)
		a, c, tg := seed(store, model.Account{Platform: model.Facebook, Active: true, AccessToken: "a"}, model.ContentItem{Body: "x"})

		out := d.Dispatch(context.Background(), c, tg, a)
		if out.Success || out.Kind != string(platform.PlatformServerError) {
			t.Fatalf("expected PlatformServerError, got %+v", out)
		}
	})
}

func TestDispatch_PublishErrorIsPrefixed(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	fb := &fakeAdapter{platform: model.Facebook}
	fb.publish = func(context.Context, model.Account, model.ContentItem) platform.Result[platform.PostRef] {
		return platform.Fail[platform.PostRef](platform.RateLimited, "(#4) Application request limit reached")
	}
	d := newDispatcher(t, store, fb)
	a, c, tg := seed(store, model.Account{Platform: model.Facebook, Name: "Acme Page", Active: true, AccessToken: "a"}, model.ContentItem{Body: "x"})

	out := d.Dispatch(context.Background(), c, tg, a)
	if out.Success || out.Kind != string(platform.RateLimited) {
		t.Fatalf("expected RateLimited, got %+v", out)
	}
	if out.ErrorMessage != "facebook (Acme Page): rate limited: (#4) Application request limit reached" {
		t.Fatalf("unexpected message %q", out.ErrorMessage)
	}
}

func TestDispatch_FollowUpFailureDoesNotFailTarget(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	fb := &fakeAdapter{platform: model.Facebook}
	var gotPostID, gotText string
	fb.followUp = func(_ context.Context, _ model.Account, postID, text string) platform.Result[string] {
		gotPostID, gotText = postID, text
		return platform.Fail[string](platform.PermissionDenied, "comments disabled")
	}
	d := newDispatcher(t, store, fb)
	a, c, tg := seed(store, model.Account{Platform: model.Facebook, Active: true, AccessToken: "a"},
		model.ContentItem{Body: "x", FollowUpText: "link in comments"})

	out := d.Dispatch(context.Background(), c, tg, a)
	if !out.Success || out.PlatformPostID != "facebook_post" {
		t.Fatalf("expected success despite follow-up failure, got %+v", out)
	}
	if !out.FollowUpFailed {
		t.Fatal("expected FollowUpFailed flag")
	}
	if out.ErrorMessage != "" || out.Kind != "" {
		t.Fatalf("follow-up failure leaked into outcome: %+v", out)
	}
	if gotPostID != "facebook_post" || gotText != "link in comments" {
		t.Fatalf("unexpected follow-up args %q %q", gotPostID, gotText)
	}
}

func TestDispatch_NoFollowUpWithoutText(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	fb := &fakeAdapter{platform: model.Facebook}
	d := newDispatcher(t, store, fb)
	a, c, tg := seed(store, model.Account{Platform: model.Facebook, Active: true, AccessToken: "a"}, model.ContentItem{Body: "x"})

	if out := d.Dispatch(context.Background(), c, tg, a); !out.Success || out.FollowUpFailed {
		t.Fatalf("unexpected outcome %+v", out)
	}
	for _, call := range fb.Calls() {
		if call == "follow_up" {
			t.Fatal("follow-up must not run without text")
		}
	}
}

func TestDispatch_AdapterPanicBecomesUnknown(t *testing.T) {
	t.Parallel()

	store := repo.NewMemoryStore()
	fb := &fakeAdapter{platform: model.Facebook}
	fb.publish = func(context.Context, model.Account, model.ContentItem) platform.Result[platform.PostRef] {
		panic("nil map write")
	}
	d := newDispatcher(t, store, fb)
	a, c, tg := seed(store, model.Account{Platform: model.Facebook, Active: true, AccessToken: "a"}, model.ContentItem{Body: "x"})

	out := d.Dispatch(context.Background(), c, tg, a)
	if out.Success || out.Kind != string(platform.Unknown) || !strings.Contains(out.ErrorMessage, "nil map write") {
		t.Fatalf("expected Unknown failure, got %+v", out)
	}
}
