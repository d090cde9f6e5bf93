package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/owners"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/stretchr/testify/require"
)

const (
	testRefreshValidity = 14 * 24 * time.Hour
	testSessionWindow   = 10 * time.Minute
	testRenewalWindow   = 2 * time.Minute
)

var (
	t0 = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

	cheapHash = cryptox.Params{Memory: 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}
)

// faultyStore wraps a real store and injects failures.
type faultyStore struct {
	refreshtokens.Repository

	findForOwnerErr error
	findErr         error
	replaceErr      error
	markAllErr      error

	replaceCalls atomic.Int32
	touched      atomic.Bool
}

func (f *faultyStore) FindActiveForOwner(ctx context.Context, ownerID string, now time.Time) (*models.RefreshToken, error) {
	f.touched.Store(true)
	if f.findForOwnerErr != nil {
		return nil, f.findForOwnerErr
	}
	return f.Repository.FindActiveForOwner(ctx, ownerID, now)
}

func (f *faultyStore) FindActive(ctx context.Context, ownerID, token string, now time.Time) (*models.RefreshToken, error) {
	f.touched.Store(true)
	if f.findErr != nil {
		return nil, f.findErr
	}
	return f.Repository.FindActive(ctx, ownerID, token, now)
}

func (f *faultyStore) Replace(ctx context.Context, p refreshtokens.ReplaceParams) error {
	f.touched.Store(true)
	f.replaceCalls.Add(1)
	if f.replaceErr != nil {
		return f.replaceErr
	}
	return f.Repository.Replace(ctx, p)
}

func (f *faultyStore) MarkAllRevoked(ctx context.Context, ownerID string, reason models.RevokeReason, now time.Time) (int64, error) {
	f.touched.Store(true)
	if f.markAllErr != nil {
		return 0, f.markAllErr
	}
	return f.Repository.MarkAllRevoked(ctx, ownerID, reason, now)
}

// failingOwners fails every lookup with err.
type failingOwners struct{ err error }

func (f failingOwners) GetByEmail(context.Context, string) (*models.Owner, error) { return nil, f.err }

type fixture struct {
	mem        *refreshtokens.MemoryRepository
	store      *faultyStore
	owners     *owners.MemoryRepository
	issuer     *TokenIssuer
	revocation *RevocationService
	validator  *SessionValidator
	auth       *AuthService
	clock      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := refreshtokens.NewMemoryRepository()
	store := &faultyStore{Repository: mem}
	ownerRepo := owners.NewMemoryRepository()

	clock := t0
	now := func() time.Time { return clock }

	issuer := NewTokenIssuer(store, testRefreshValidity, nil)
	issuer.now = now
	revocation := NewRevocationService(store, nil, nil)
	revocation.now = now
	validator := NewSessionValidator(ownerRepo, store, issuer,
		ValidatorConfig{SessionWindow: testSessionWindow, RenewalWindow: testRenewalWindow}, nil, nil)
	auth := NewAuthService(ownerRepo, store, issuer, revocation, testSessionWindow, cheapHash, nil)
	auth.now = now

	return &fixture{
		mem:        mem,
		store:      store,
		owners:     ownerRepo,
		issuer:     issuer,
		revocation: revocation,
		validator:  validator,
		auth:       auth,
		clock:      &clock,
	}
}

func (f *fixture) setClock(at time.Time) { *f.clock = at }

// register creates an owner at the current clock and returns the session.
func (f *fixture) register(t *testing.T, email string) *Session {
	t.Helper()
	s, err := f.auth.Register(context.Background(), email, "correct horse")
	require.NoError(t, err)
	return s
}

func (f *fixture) activeCount(t *testing.T, ownerID string, tokens []string, now time.Time) int {
	t.Helper()
	n := 0
	for _, v := range tokens {
		_, err := f.mem.FindActive(context.Background(), ownerID, v, now)
		if err == nil {
			n++
			continue
		}
		require.ErrorIs(t, err, common.ErrorNotFound)
	}
	return n
}
