package models

import "time"

// RevokeReason is the closed set of reasons recorded when a refresh token is revoked.
type RevokeReason string

const (
	RevokeReasonRotation RevokeReason = "rotation"
	RevokeReasonLogout   RevokeReason = "logout"
	RevokeReasonManual   RevokeReason = "manual-revocation"
)

// Valid reports whether r belongs to the closed set.
func (r RevokeReason) Valid() bool {
	switch r {
	case RevokeReasonRotation, RevokeReasonLogout, RevokeReasonManual:
		return true
	}
	return false
}

// RefreshToken is a persisted refresh credential. Revocation is one-way:
// once Revoked is true it is never reset.
type RefreshToken struct {
	ID            string
	Token         string
	OwnerID       string
	ExpiryAt      time.Time
	CreatedAt     time.Time
	Revoked       bool
	RevokedAt     *time.Time
	RevokedReason *RevokeReason
	// ReplacedBy is the token value that superseded this one. Lookup hint only.
	ReplacedBy *string
}

// IsActive is derived, never stored.
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiryAt)
}
