package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims are the claims the auth service embeds in its access tokens.
type tokenClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// TokenProvider derives the current user from the shell-supplied auth token.
// The token is parsed once and the resulting user is served for the lifetime
// of the provider; the shell swaps the provider on re-login.
type TokenProvider struct {
	user *User
}

// NewTokenProvider verifies and parses an HS256 access token.
func NewTokenProvider(token string, secret []byte) (*TokenProvider, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse auth token: %w", err)
	}
	if !parsed.Valid {
		return nil, ErrNotAuthenticated
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("auth token has no subject: %w", err)
	}
	return &TokenProvider{
		user: &User{
			ID:    sub,
			Email: claims.Email,
			Name:  claims.Name,
		},
	}, nil
}

func (p *TokenProvider) CurrentUser() (*User, error) {
	if p == nil || p.user == nil {
		return nil, ErrNotAuthenticated
	}
	return p.user, nil
}
