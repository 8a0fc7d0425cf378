package model

import "testing"

func TestAccount_Label(t *testing.T) {
	t.Parallel()

	if got := (Account{Name: "Acme Page", PlatformAccountID: "123"}).Label(); got != "Acme Page" {
		t.Fatalf("expected name, got %q", got)
	}
	if got := (Account{PlatformAccountID: "123"}).Label(); got != "123" {
		t.Fatalf("expected platform id fallback, got %q", got)
	}
}

func TestPlatform_Valid(t *testing.T) {
	t.Parallel()

	for _, p := range []Platform{Facebook, LinkedIn, Twitter, Instagram, Threads} {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if Platform("myspace").Valid() {
		t.Fatal("myspace should not be valid")
	}
}

func TestCarried(t *testing.T) {
	t.Parallel()

	id := "fb_1"
	o := Carried(Target{ID: 7, Status: TargetPublished, PlatformPostID: &id})
	if !o.Success || !o.AlreadyPublished || o.PlatformPostID != "fb_1" || o.TargetID != 7 {
		t.Fatalf("unexpected outcome %+v", o)
	}
}
