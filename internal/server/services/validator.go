package services

import (
	"context"
	"errors"
	"net/mail"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/google/uuid"
)

type DecisionKind int

const (
	DecisionReject DecisionKind = iota
	DecisionAccept
	DecisionRotate
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionAccept:
		return "accept"
	case DecisionRotate:
		return "rotate"
	default:
		return "reject"
	}
}

// RejectReason is set on reject decisions only.
type RejectReason string

const (
	ReasonMalformedSession RejectReason = "malformed_session"
	ReasonUnknownOwner     RejectReason = "unknown_owner"
	ReasonNoActiveToken    RejectReason = "no_active_token"
	ReasonStoreUnavailable RejectReason = "store_unavailable"
	ReasonRotationRace     RejectReason = "rotation_race"
)

// Decision is the outcome of validating one request's session. The caller
// applies it; the validator never touches transport state.
type Decision struct {
	Kind   DecisionKind
	Reason RejectReason
	// Claims and Cookie are what the session cookie must carry after this
	// request. On accept they are the inputs unchanged.
	Claims models.SessionClaims
	Cookie models.CookieProps
	// RefreshToken is the replacement token on rotate.
	RefreshToken *models.RefreshToken
}

// Err maps a reject reason to its sentinel error. Non-reject decisions return nil.
func (d Decision) Err() error {
	if d.Kind != DecisionReject {
		return nil
	}
	switch d.Reason {
	case ReasonMalformedSession:
		return common.ErrMalformedSession
	case ReasonUnknownOwner:
		return common.ErrUnknownOwner
	case ReasonStoreUnavailable:
		return common.ErrStoreUnavailable
	case ReasonRotationRace:
		return common.ErrRotationConflict
	default:
		return common.ErrNoActiveToken
	}
}

// OwnerResolver resolves the principal a session claims to belong to.
type OwnerResolver interface {
	GetByEmail(ctx context.Context, email string) (*models.Owner, error)
}

type ValidatorConfig struct {
	SessionWindow time.Duration
	RenewalWindow time.Duration
}

// SessionValidator is the per-request session hook.
type SessionValidator struct {
	owners  OwnerResolver
	store   refreshtokens.Repository
	issuer  *TokenIssuer
	cfg     ValidatorConfig
	logger  logging.Logger
	metrics metrics.Recorder
}

func NewSessionValidator(owners OwnerResolver, store refreshtokens.Repository, issuer *TokenIssuer,
	cfg ValidatorConfig, logger logging.Logger, rec metrics.Recorder) *SessionValidator {
	if logger == nil {
		logger = logging.Nop{}
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &SessionValidator{owners: owners, store: store, issuer: issuer, cfg: cfg, logger: logger, metrics: rec}
}

// Validate decides whether the session described by claims and props is
// accepted as is, accepted with rotation, or rejected. It fails closed:
// every error becomes a reject.
func (v *SessionValidator) Validate(ctx context.Context, claims models.SessionClaims, props models.CookieProps, now time.Time) Decision {
	d := v.validate(ctx, claims, props, now)
	v.metrics.Decision(d.Kind.String(), string(d.Reason))
	return d
}

func (v *SessionValidator) validate(ctx context.Context, claims models.SessionClaims, props models.CookieProps, now time.Time) Decision {
	if !validOwnerID(claims.OwnerID) || !validEmail(claims.Email) {
		return v.reject(ctx, ReasonMalformedSession, claims.OwnerID, nil)
	}

	owner, err := v.owners.GetByEmail(ctx, claims.Email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return v.reject(ctx, ReasonUnknownOwner, claims.OwnerID, nil)
		}
		return v.reject(ctx, ReasonStoreUnavailable, claims.OwnerID, err)
	}
	if owner.ID != claims.OwnerID {
		return v.reject(ctx, ReasonUnknownOwner, claims.OwnerID, nil)
	}

	active, err := v.store.FindActiveForOwner(ctx, owner.ID, now)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return v.reject(ctx, ReasonNoActiveToken, owner.ID, nil)
		}
		return v.reject(ctx, ReasonStoreUnavailable, owner.ID, err)
	}

	if !ShouldRotate(props.ExpiresAt, now, v.cfg.RenewalWindow) {
		return Decision{Kind: DecisionAccept, Claims: claims, Cookie: props}
	}

	// Only the session bound to the active token may rotate it; a session
	// whose token was already replaced lost the race.
	if claims.TokenID != active.ID {
		return v.reject(ctx, ReasonRotationRace, owner.ID, nil)
	}

	access := v.issuer.GenerateAccessValue()
	next, err := v.issuer.Issue(ctx, IssueRequest{
		OwnerID:  owner.ID,
		Reason:   models.RevokeReasonRotation,
		Expected: active.Token,
		Now:      now,
	})
	if err != nil {
		if errors.Is(err, common.ErrRotationConflict) {
			return v.reject(ctx, ReasonRotationRace, owner.ID, nil)
		}
		return v.reject(ctx, ReasonStoreUnavailable, owner.ID, err)
	}

	v.logger.Info(ctx, "session rotated", "owner_id", owner.ID, "token_id", next.ID)
	return Decision{
		Kind:         DecisionRotate,
		Claims:       claims.WithAccessValue(access).WithTokenID(next.ID),
		Cookie:       models.NewCookieProps(now, v.cfg.SessionWindow),
		RefreshToken: next,
	}
}

func (v *SessionValidator) reject(ctx context.Context, reason RejectReason, ownerID string, cause error) Decision {
	if reason == ReasonStoreUnavailable {
		v.logger.Error(ctx, "session validation store failure", "owner_id", ownerID, "error", cause)
	} else {
		v.logger.Warn(ctx, "session rejected", "owner_id", ownerID, "reason", reason)
	}
	return Decision{Kind: DecisionReject, Reason: reason}
}

func validOwnerID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
