package models

import (
	"strings"
	"time"
)

// User is the authenticated account returned by POST /auth/login.
type User struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name,omitempty"`
	Role            string `json:"role,omitempty"`
	IsEmailVerified bool   `json:"isEmailVerified,omitempty"`
}

// TokenPair is a bearer token and its expiry.
type TokenPair struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

// Tokens holds the access/refresh pair.
type Tokens struct {
	Access  TokenPair `json:"access"`
	Refresh TokenPair `json:"refresh"`
}

// Valid reports whether both tokens are present.
func (t *Tokens) Valid() bool {
	return t != nil && t.Access.Token != "" && t.Refresh.Token != ""
}

// IsAdminEmail checks an email against the configured admin list.
func IsAdminEmail(email string, admins []string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	for _, a := range admins {
		if strings.EqualFold(strings.TrimSpace(a), email) {
			return true
		}
	}
	return false
}
