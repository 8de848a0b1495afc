// Package model defines the data structures used throughout the application.
//
// Models are plain values. Repositories take them in and hand back fresh
// snapshots, so nothing outside the store mutates a persisted row in place.
package model

import "time"

// User is a registered account.
//
// An account is reachable through at least one auth path: a bcrypt password
// hash (local registration) or a GitHub id (OAuth). Both can be present once
// a GitHub identity has been linked to a password account by email.
//
// WHY POINTERS FOR Password / GitHubID / Avatar?
// They are nullable columns. A nil *string maps to SQL NULL, which matters
// for github_id: UNIQUE allows many NULLs but only one of each real value.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  *string   `json:"-"` // bcrypt hash, never serialized
	GitHubID  *string   `json:"github_id"`
	Avatar    *string   `json:"avatar"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPassword reports whether the account can log in with a password.
func (u User) HasPassword() bool {
	return u.Password != nil && *u.Password != ""
}

// AccessToken is the stored half of a bearer token. The client holds a signed
// JWT whose jti is ID; revoking the token deletes this row.
type AccessToken struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Token names recorded on issue, one per way of authenticating.
const (
	TokenNamePassword = "auth_token"
	TokenNameGitHub   = "github_token"
)

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
