// Package refreshtokens declares the persistence port for refresh-token
// records and its PostgreSQL, Redis and in-memory implementations.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// ReplaceParams describe one atomic revoke-then-insert for an owner.
type ReplaceParams struct {
	OwnerID string
	// Expected, when non-empty, turns Replace into a compare-and-swap: it must
	// be the owner's current active token or nothing is written and
	// common.ErrRotationConflict is returned.
	Expected string
	// Reason is recorded on every row revoked by this call.
	Reason models.RevokeReason
	// Next is inserted as the owner's only live token. Its value is recorded
	// as replaced_by on the revoked rows.
	Next *models.RefreshToken
	Now  time.Time
}

// Repository defines the operations the session core needs from storage.
//
// All writes are atomic per row. Replace is atomic as a whole and is
// serialized per owner, so concurrent callers for the same owner can never
// leave two live rows or none.
type Repository interface {
	// Add inserts a new token. It fails with common.ErrorAlreadyExists if the
	// token value is taken or the owner already holds a live token.
	Add(ctx context.Context, token *models.RefreshToken) error

	// FindActive returns the owner's token with the given value if it is
	// active at now, or common.ErrorNotFound.
	FindActive(ctx context.Context, ownerID, token string, now time.Time) (*models.RefreshToken, error)

	// FindActiveForOwner returns the owner's active token, or common.ErrorNotFound.
	FindActiveForOwner(ctx context.Context, ownerID string, now time.Time) (*models.RefreshToken, error)

	// MarkRevoked revokes a single token. It reports false when the token is
	// unknown or already revoked; an earlier revocation is never overwritten.
	MarkRevoked(ctx context.Context, token string, reason models.RevokeReason, now time.Time) (bool, error)

	// MarkAllRevoked revokes every not-yet-revoked token of the owner in one
	// set-based write and returns how many of them were still active.
	MarkAllRevoked(ctx context.Context, ownerID string, reason models.RevokeReason, now time.Time) (int64, error)

	// Replace revokes the owner's live tokens and inserts p.Next atomically.
	Replace(ctx context.Context, p ReplaceParams) error
}
