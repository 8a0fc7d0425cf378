// Package platform defines the contract every social network adapter
// satisfies and the helpers they share.
package platform

import (
	"context"
	"fmt"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/LeventeLantos/social-publisher/internal/model"
)

// PostRef identifies a post created on a platform.
type PostRef struct {
	ID string
}

// Credential is a freshly issued access credential.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// Rules are the structural constraints a platform places on content and
// accounts. They are checked before any network call.
type Rules struct {
	RequireImage   bool
	ForbiddenKinds []model.AccountKind
	MaxTextLength  int
	// RemoteValidation asks the dispatcher to ping the platform with the
	// stored credential instead of trusting its expiry.
	RemoteValidation bool
}

// Check returns a StructuralPrecondition error describing the first
// violated rule, or nil.
func (r Rules) Check(p model.Platform, account model.Account, content model.ContentItem) *Error {
	if slices.Contains(r.ForbiddenKinds, account.Kind) {
		return Errorf(StructuralPrecondition, "%s does not allow publishing to a %s account; connect a page or business account instead", p, account.Kind)
	}
	if r.RequireImage && !content.HasImage() {
		return Errorf(StructuralPrecondition, "%s requires an image", p)
	}
	if r.MaxTextLength > 0 {
		if n := utf8.RuneCountInString(content.Body); n > r.MaxTextLength {
			return Errorf(StructuralPrecondition, "%s text is limited to %d characters, got %d", p, r.MaxTextLength, n)
		}
	}
	return nil
}

// Adapter is the capability every platform implements.
type Adapter interface {
	Platform() model.Platform
	Rules() Rules
	Publish(ctx context.Context, account model.Account, content model.ContentItem) Result[PostRef]
}

// Validator pings the platform to check a stored credential is live.
type Validator interface {
	ValidateCredential(ctx context.Context, accessToken string) Result[bool]
}

// Refresher exchanges a refresh credential for a new access credential.
type Refresher interface {
	RefreshCredential(ctx context.Context, refreshToken string) Result[Credential]
}

// FollowUpPoster posts a secondary comment under a published post.
type FollowUpPoster interface {
	PostFollowUp(ctx context.Context, account model.Account, postID, text string) Result[string]
}

// Registry maps platforms to their adapter.
type Registry struct {
	adapters map[model.Platform]Adapter
}

func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[model.Platform]Adapter, len(adapters))}
	for _, a := range adapters {
		p := a.Platform()
		if !p.Valid() {
			return nil, fmt.Errorf("unknown platform %q", p)
		}
		if _, dup := r.adapters[p]; dup {
			return nil, fmt.Errorf("adapter for %s registered twice", p)
		}
		r.adapters[p] = a
	}
	return r, nil
}

func (r *Registry) Lookup(p model.Platform) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

func (r *Registry) Platforms() []model.Platform {
	out := make([]model.Platform, 0, len(r.adapters))
	for p := range r.adapters {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
