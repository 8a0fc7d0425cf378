package model

import "time"

type Platform string

const (
	Facebook  Platform = "facebook"
	LinkedIn  Platform = "linkedin"
	Twitter   Platform = "twitter"
	Instagram Platform = "instagram"
	Threads   Platform = "threads"
)

func (p Platform) Valid() bool {
	switch p {
	case Facebook, LinkedIn, Twitter, Instagram, Threads:
		return true
	default:
		return false
	}
}

type AccountKind string

const (
	KindProfile      AccountKind = "profile"
	KindPage         AccountKind = "page"
	KindOrganization AccountKind = "organization"
	KindBusiness     AccountKind = "business"
)

// Account is a previously authorized identity on one network.
type Account struct {
	ID                int64
	Platform          Platform
	PlatformAccountID string
	Name              string
	Kind              AccountKind
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	Active            bool
}

func (a Account) HasRefreshToken() bool {
	return a.RefreshToken != ""
}

// Label is the operator-facing name used to prefix error messages.
func (a Account) Label() string {
	if a.Name != "" {
		return a.Name
	}
	return a.PlatformAccountID
}
