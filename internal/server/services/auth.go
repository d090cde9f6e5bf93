package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/owners"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/google/uuid"
)

const minPasswordLen = 8

// Session is what a successful login, register or refresh hands to the
// cookie gateway.
type Session struct {
	Claims       models.SessionClaims
	Cookie       models.CookieProps
	RefreshToken *models.RefreshToken
}

// AuthService drives the session core from the HTTP controllers.
type AuthService struct {
	owners        owners.Repository
	store         refreshtokens.Repository
	issuer        *TokenIssuer
	revocation    *RevocationService
	sessionWindow time.Duration
	hashParams    cryptox.Params
	logger        logging.Logger
	now           func() time.Time

	// dummyHash is verified against when the email is unknown so that both
	// branches of Login cost one argon2 evaluation.
	dummyHash string
}

func NewAuthService(o owners.Repository, store refreshtokens.Repository, issuer *TokenIssuer,
	revocation *RevocationService, sessionWindow time.Duration, hashParams cryptox.Params, logger logging.Logger) *AuthService {
	if logger == nil {
		logger = logging.Nop{}
	}
	return &AuthService{
		owners:        o,
		store:         store,
		issuer:        issuer,
		revocation:    revocation,
		sessionWindow: sessionWindow,
		hashParams:    hashParams,
		logger:        logger,
		now:           time.Now,
		dummyHash:     cryptox.HashPassword(newOpaqueValue(), hashParams),
	}
}

// Register creates an owner and opens its first session.
func (s *AuthService) Register(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)
	if !validEmail(email) || len(password) < minPasswordLen {
		return nil, common.ErrorValidation
	}

	owner := &models.Owner{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: cryptox.HashPassword(password, s.hashParams),
		CreatedAt:    s.now().UTC(),
	}
	created, err := s.owners.Create(ctx, owner)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("error creating owner: %w", err)
	}

	s.logger.Info(ctx, "owner registered", "owner_id", created.ID)
	return s.open(ctx, created)
}

// Login verifies credentials and opens a session, superseding any previous one.
func (s *AuthService) Login(ctx context.Context, email, password string) (*Session, error) {
	email = normalizeEmail(email)

	owner, err := s.owners.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_, _ = cryptox.VerifyPassword(password, s.dummyHash)
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	ok, err := cryptox.VerifyPassword(password, owner.PasswordHash)
	if err != nil || !ok {
		s.logger.Warn(ctx, "login rejected", "owner_id", owner.ID)
		return nil, common.ErrorUnauthorized
	}

	return s.open(ctx, owner)
}

// Logout revokes every token of the owner.
func (s *AuthService) Logout(ctx context.Context, ownerID string) (int64, error) {
	return s.revocation.RevokeAll(ctx, ownerID, models.RevokeReasonLogout)
}

// RevokeToken revokes one refresh token of the owner with the manual
// reason. A value that is unknown, inactive or held by another owner
// reports false.
func (s *AuthService) RevokeToken(ctx context.Context, ownerID, token string) (bool, error) {
	if token == "" || !validOwnerID(ownerID) {
		return false, common.ErrorValidation
	}

	if _, err := s.store.FindActive(ctx, ownerID, token, s.now().UTC()); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	ok, err := s.revocation.RevokeOne(ctx, token, models.RevokeReasonManual)
	if err != nil {
		return false, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}
	return ok, nil
}

// Refresh exchanges the presented refresh token for a new one. The claims
// identify the owner; the presented value must be that owner's active token.
func (s *AuthService) Refresh(ctx context.Context, claims models.SessionClaims, presented string) (*Session, error) {
	if presented == "" || !validOwnerID(claims.OwnerID) {
		return nil, common.ErrorUnauthorized
	}
	now := s.now().UTC()

	if _, err := s.store.FindActive(ctx, claims.OwnerID, presented, now); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	next, err := s.issuer.Issue(ctx, IssueRequest{
		OwnerID:  claims.OwnerID,
		Reason:   models.RevokeReasonRotation,
		Expected: presented,
		Now:      now,
	})
	if err != nil {
		if errors.Is(err, common.ErrRotationConflict) {
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	s.logger.Info(ctx, "session refreshed", "owner_id", claims.OwnerID, "token_id", next.ID)
	return &Session{
		Claims:       claims.WithAccessValue(s.issuer.GenerateAccessValue()).WithTokenID(next.ID),
		Cookie:       models.NewCookieProps(now, s.sessionWindow),
		RefreshToken: next,
	}, nil
}

func (s *AuthService) open(ctx context.Context, owner *models.Owner) (*Session, error) {
	now := s.now().UTC()

	tok, err := s.issuer.Issue(ctx, IssueRequest{
		OwnerID: owner.ID,
		Reason:  models.RevokeReasonRotation,
		Now:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	return &Session{
		Claims: models.SessionClaims{
			OwnerID:     owner.ID,
			Email:       owner.Email,
			AccessValue: s.issuer.GenerateAccessValue(),
			TokenID:     tok.ID,
		},
		Cookie:       models.NewCookieProps(now, s.sessionWindow),
		RefreshToken: tok,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
