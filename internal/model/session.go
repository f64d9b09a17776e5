package model

import "golang.org/x/oauth2"

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email,omitempty"`
	IsAnonymous bool   `json:"is_anonymous"`
}

// Session is the credential bundle identifying the current user to the
// remote services. Token.AccessToken is a signed JWT, Token.RefreshToken an
// opaque rotation token.
type Session struct {
	ID    string        `json:"id"`
	User  User          `json:"user"`
	Token *oauth2.Token `json:"token"`
}

func (s *Session) AccessToken() string {
	if s == nil || s.Token == nil {
		return ""
	}
	return s.Token.AccessToken
}

func (s *Session) RefreshToken() string {
	if s == nil || s.Token == nil {
		return ""
	}
	return s.Token.RefreshToken
}
