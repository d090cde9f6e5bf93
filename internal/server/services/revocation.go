package services

import (
	"context"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
)

// RevocationService revokes refresh tokens. Both operations are idempotent.
type RevocationService struct {
	store   refreshtokens.Repository
	logger  logging.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

func NewRevocationService(store refreshtokens.Repository, logger logging.Logger, rec metrics.Recorder) *RevocationService {
	if logger == nil {
		logger = logging.Nop{}
	}
	if rec == nil {
		rec = metrics.Noop{}
	}
	return &RevocationService{store: store, logger: logger, metrics: rec, now: time.Now}
}

// RevokeAll revokes every live token of the owner and returns how many were
// active. An owner without active tokens yields 0.
func (s *RevocationService) RevokeAll(ctx context.Context, ownerID string, reason models.RevokeReason) (int64, error) {
	if !reason.Valid() {
		return 0, common.ErrorValidation
	}

	n, err := s.store.MarkAllRevoked(ctx, ownerID, reason, s.now().UTC())
	if err != nil {
		s.logger.Error(ctx, "revoke all failed", "owner_id", ownerID, "reason", reason, "error", err)
		return 0, err
	}

	s.metrics.Revoked(string(reason), n)
	s.logger.Info(ctx, "refresh tokens revoked", "owner_id", ownerID, "reason", reason, "count", n)
	return n, nil
}

// RevokeOne revokes a single token. It reports false when the token was
// unknown or already revoked; earlier revocation details are kept.
func (s *RevocationService) RevokeOne(ctx context.Context, token string, reason models.RevokeReason) (bool, error) {
	if !reason.Valid() {
		return false, common.ErrorValidation
	}

	ok, err := s.store.MarkRevoked(ctx, token, reason, s.now().UTC())
	if err != nil {
		s.logger.Error(ctx, "revoke token failed", "reason", reason, "error", err)
		return false, err
	}
	if ok {
		s.metrics.Revoked(string(reason), 1)
	}
	return ok, nil
}
