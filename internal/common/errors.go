// Package common defines shared constants and sentinel errors used across
// the sessionkeeper server. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// ErrStoreUnavailable marks a persistence failure that is operational rather
	// than an authentication outcome.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrRotationConflict is returned by a conditional replace when the expected
	// token is no longer the owner's current active token.
	ErrRotationConflict = errors.New("rotation conflict")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Session validation outcomes.
	ErrMalformedSession = errors.New("malformed session")
	ErrUnknownOwner     = errors.New("unknown owner")
	ErrNoActiveToken    = errors.New("no active refresh token")

	// Cookie / token codec errors.
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
