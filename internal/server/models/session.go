package models

import "time"

// SessionClaims are carried inside the signed session cookie.
// AccessValue is an opaque bearer value regenerated on every issuance; the
// server never validates it against stored state. TokenID is the id of the
// refresh token the session was issued with.
type SessionClaims struct {
	OwnerID     string
	Email       string
	AccessValue string
	TokenID     string
}

// WithAccessValue returns a copy of c with the access value replaced.
func (c SessionClaims) WithAccessValue(v string) SessionClaims {
	c.AccessValue = v
	return c
}

// WithTokenID returns a copy of c bound to another refresh token.
func (c SessionClaims) WithTokenID(id string) SessionClaims {
	c.TokenID = id
	return c
}

// CookieProps are the sliding-window properties of the session cookie.
type CookieProps struct {
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Persistent bool
}

// NewCookieProps opens a fresh window of length window starting at now.
func NewCookieProps(now time.Time, window time.Duration) CookieProps {
	return CookieProps{IssuedAt: now, ExpiresAt: now.Add(window), Persistent: true}
}
