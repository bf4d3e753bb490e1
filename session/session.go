// Package session holds the client's authentication state and keeps it in
// step with a durable Persister.
package session

import "github.com/mixlab/mixlab/sdk/go/auth"

// User is the authenticated account as reported by the API.
type User = auth.User

// Session is an immutable snapshot of the authentication state.
//
// The zero value is the logged-out session. IsAuthenticated is true iff both
// tokens are set and User is non-nil.
type Session struct {
	User            *User  `json:"user"`
	AccessToken     string `json:"accessToken"`
	RefreshToken    string `json:"refreshToken"`
	IsAuthenticated bool   `json:"isAuthenticated"`
}

func newSession(user *User, access, refresh string) Session {
	var u *User
	if user != nil {
		cp := *user
		u = &cp
	}
	return Session{
		User:            u,
		AccessToken:     access,
		RefreshToken:    refresh,
		IsAuthenticated: u != nil && access != "" && refresh != "",
	}
}

// valid reports whether s satisfies the IsAuthenticated invariant.
func (s Session) valid() bool {
	want := s.User != nil && s.AccessToken != "" && s.RefreshToken != ""
	return s.IsAuthenticated == want
}

// IsEmpty reports whether s carries no user and no tokens.
func (s Session) IsEmpty() bool {
	return s.User == nil && s.AccessToken == "" && s.RefreshToken == "" && !s.IsAuthenticated
}

func (s Session) clone() Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}
