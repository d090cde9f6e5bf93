// Package services contains the session lifecycle: issuing refresh tokens,
// validating and rotating sessions, revoking tokens, and the login, register,
// logout and refresh flows that drive them.
package services

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/google/uuid"
)

// tokenBytes is the entropy of access and refresh values (256 bits).
const tokenBytes = 32

// IssueRequest parameterizes TokenIssuer.Issue.
type IssueRequest struct {
	OwnerID string
	// Reason is recorded on every token the new one supersedes.
	Reason models.RevokeReason
	// Expected makes the issue conditional on this value still being the
	// owner's active token. Empty means unconditional.
	Expected string
	// Now defaults to the issuer clock.
	Now time.Time
}

// TokenIssuer mints opaque values and persists refresh tokens.
type TokenIssuer struct {
	store    refreshtokens.Repository
	validity time.Duration
	metrics  metrics.Recorder
	now      func() time.Time
}

func NewTokenIssuer(store refreshtokens.Repository, validity time.Duration, rec metrics.Recorder) *TokenIssuer {
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &TokenIssuer{store: store, validity: validity, metrics: rec, now: time.Now}
}

// GenerateAccessValue returns 256 random bits, base64url encoded.
// It panics if the entropy source fails.
func (i *TokenIssuer) GenerateAccessValue() string {
	return newOpaqueValue()
}

// Issue supersedes the owner's live tokens with a fresh one in a single
// atomic store operation. On return exactly one active token exists for the
// owner, or nothing was written.
func (i *TokenIssuer) Issue(ctx context.Context, req IssueRequest) (*models.RefreshToken, error) {
	if !req.Reason.Valid() {
		return nil, common.ErrorValidation
	}
	now := req.Now
	if now.IsZero() {
		now = i.now()
	}
	now = now.UTC()

	next := &models.RefreshToken{
		ID:        uuid.NewString(),
		Token:     newOpaqueValue(),
		OwnerID:   req.OwnerID,
		ExpiryAt:  now.Add(i.validity),
		CreatedAt: now,
	}

	err := i.store.Replace(ctx, refreshtokens.ReplaceParams{
		OwnerID:  req.OwnerID,
		Expected: req.Expected,
		Reason:   req.Reason,
		Next:     next,
		Now:      now,
	})
	if err != nil {
		return nil, err
	}

	i.metrics.Issued()
	return next, nil
}

func newOpaqueValue() string {
	return base64.RawURLEncoding.EncodeToString(common.GenerateRandByteArray(tokenBytes))
}
