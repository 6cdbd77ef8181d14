// Package directory implements push-based user-directory replication: the
// session authority fans user upserts and removals out to every downstream
// service's local cache.
package directory

import "time"

// Record is a downstream service's denormalized snapshot of a user. It is
// created or overwritten by an inject call and deleted by a remove call
// keyed by email.
type Record struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	FirstName string     `json:"firstName,omitempty"`
	LastName  string     `json:"lastName,omitempty"`
	Title     string     `json:"title,omitempty"`
	Bio       string     `json:"bio,omitempty"`
	Location  string     `json:"location,omitempty"`
	AvatarURL string     `json:"avatarUrl,omitempty"`
	Active    bool       `json:"active"`
	IsAdmin   bool       `json:"isAdmin"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`

	// AccessToken optionally carries a currently-valid provider token so the
	// receiving service can act as the user without a fresh mint.
	AccessToken string `json:"accessToken,omitempty"`
}
