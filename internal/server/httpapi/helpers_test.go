package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/cryptox"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/owners"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testPassword = "correct horse battery"
	testHorizon  = 14 * 24 * time.Hour
	testWindow   = 10 * time.Minute
	testRenewal  = 2 * time.Minute
)

var cheapHash = cryptox.Params{Memory: 1024, Time: 1, Threads: 1, SaltLen: 16, KeyLen: 32}

func init() {
	gin.SetMode(gin.TestMode)
}

// failingRevokeStore fails every revocation.
type failingRevokeStore struct {
	refreshtokens.Repository
}

func (failingRevokeStore) MarkAllRevoked(context.Context, string, models.RevokeReason, time.Time) (int64, error) {
	return 0, errors.New("connection reset")
}

func (failingRevokeStore) MarkRevoked(context.Context, string, models.RevokeReason, time.Time) (bool, error) {
	return false, errors.New("connection reset")
}

type testEnv struct {
	handler *Handler
	router  *gin.Engine
	tokens  *refreshtokens.MemoryRepository
	owners  *owners.MemoryRepository
	codec   *auth.SessionCodec
}

type envOption func(*Deps, *refreshtokens.Repository)

func withStore(wrap func(refreshtokens.Repository) refreshtokens.Repository) envOption {
	return func(_ *Deps, store *refreshtokens.Repository) { *store = wrap(*store) }
}

func withDeps(f func(*Deps)) envOption {
	return func(d *Deps, _ *refreshtokens.Repository) { f(d) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	tokens := refreshtokens.NewMemoryRepository()
	ownerRepo := owners.NewMemoryRepository()
	codec := auth.NewSessionCodec([]byte(testSecret))

	var store refreshtokens.Repository = tokens
	d := Deps{
		Codec:   codec,
		Gateway: NewGateway(codec, CookieConfig{RefreshHorizon: testHorizon}),
	}
	for _, o := range opts {
		o(&d, &store)
	}

	issuer := services.NewTokenIssuer(store, testHorizon, nil)
	revocation := services.NewRevocationService(store, nil, nil)
	d.Auth = services.NewAuthService(ownerRepo, store, issuer, revocation, testWindow, cheapHash, nil)
	d.Validator = services.NewSessionValidator(ownerRepo, store, issuer,
		services.ValidatorConfig{SessionWindow: testWindow, RenewalWindow: testRenewal}, nil, nil)

	h := NewHandler(d)
	return &testEnv{handler: h, router: h.Router(), tokens: tokens, owners: ownerRepo, codec: codec}
}

// shiftClock makes the handler see the wall clock moved by d.
func (e *testEnv) shiftClock(d time.Duration) {
	e.handler.now = func() time.Time { return time.Now().Add(d) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) register(t *testing.T, email string) (sessionResponse, *http.Cookie) {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/auth/register", gin.H{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	c := cookieNamed(rec, SessionCookieName)
	require.NotNil(t, c, "session cookie must be set")
	return resp, c
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	var found *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			found = c
		}
	}
	return found
}
