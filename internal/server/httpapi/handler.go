// Package httpapi exposes the session lifecycle over HTTP with gin: the
// login, register, refresh, revoke and logout controllers and the per-request
// session hook.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type revokeResponse struct {
	Revoked bool `json:"revoked"`
}

type sessionResponse struct {
	OwnerID          string    `json:"owner_id"`
	Email            string    `json:"email"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
}

// Deps are the collaborators of Handler.
type Deps struct {
	Auth      *services.AuthService
	Validator *services.SessionValidator
	Codec     *auth.SessionCodec
	Gateway   *Gateway
	Logger    logging.Logger
	// Limiter guards the credential endpoints. Nil disables limiting.
	Limiter *RateLimiter
	// Requests and Metrics are optional.
	Requests RequestRecorder
	Metrics  http.Handler
	// Ping reports backend health for /healthz. Nil means always healthy.
	Ping func(ctx context.Context) error
}

type Handler struct {
	auth      *services.AuthService
	validator *services.SessionValidator
	codec     *auth.SessionCodec
	gateway   *Gateway
	logger    logging.Logger
	limiter   *RateLimiter
	requests  RequestRecorder
	metrics   http.Handler
	ping      func(ctx context.Context) error
	now       func() time.Time
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Handler{
		auth:      d.Auth,
		validator: d.Validator,
		codec:     d.Codec,
		gateway:   d.Gateway,
		logger:    logger.With("module", "http"),
		limiter:   d.Limiter,
		requests:  d.Requests,
		metrics:   d.Metrics,
		ping:      d.Ping,
		now:       time.Now,
	}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.accessLog())

	r.GET("/healthz", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	a := r.Group("/auth")
	credentials := a.Group("")
	if h.limiter != nil {
		credentials.Use(h.limiter.Middleware())
	}
	credentials.POST("/register", h.Register)
	credentials.POST("/login", h.Login)
	credentials.POST("/refresh", h.Refresh)

	authed := a.Group("", h.sessionRequired())
	authed.POST("/logout", h.Logout)
	authed.POST("/revoke", h.Revoke)
	authed.GET("/session", h.Session)

	return r
}

// Register creates an owner and opens a session.
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	s, err := h.auth.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrorValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, common.ErrorAlreadyExists):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		default:
			h.internalError(c, "register", err)
		}
		return
	}

	h.writeSession(c, s)
}

// Login verifies credentials and opens a session.
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	s, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		h.internalError(c, "login", err)
		return
	}

	h.writeSession(c, s)
}

// Refresh exchanges a refresh token for a new session. The session cookie
// identifies the owner and must carry a valid signature; its window may
// have elapsed.
// POST /auth/refresh
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}

	raw, ok := h.gateway.ReadSession(c.Request)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
		return
	}
	claims, _, err := h.codec.DecodeIgnoringExpiry(raw)
	if err != nil {
		h.gateway.Clear(c.Writer)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}

	s, err := h.auth.Refresh(c.Request.Context(), claims, req.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
			return
		}
		h.internalError(c, "refresh", err)
		return
	}

	h.writeSession(c, s)
}

// Logout revokes every refresh token of the session owner and clears the
// cookies. A failed revocation is reported as 503; the cookies are cleared
// either way.
// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	claims, _ := ClaimsFrom(c)
	h.gateway.Clear(c.Writer)

	if _, err := h.auth.Logout(c.Request.Context(), claims.OwnerID); err != nil {
		h.logger.Error(c.Request.Context(), "logout revocation failed", "owner_id", claims.OwnerID, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "logout could not be completed"})
		return
	}

	c.Status(http.StatusNoContent)
}

// Revoke revokes a single refresh token of the session owner.
// POST /auth/revoke
func (h *Handler) Revoke(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refresh_token is required"})
		return
	}
	claims, _ := ClaimsFrom(c)

	ok, err := h.auth.RevokeToken(c.Request.Context(), claims.OwnerID, req.RefreshToken)
	if err != nil {
		if errors.Is(err, common.ErrorValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.internalError(c, "revoke", err)
		return
	}

	c.JSON(http.StatusOK, revokeResponse{Revoked: ok})
}

// Session returns the claims of the current session.
// GET /auth/session
func (h *Handler) Session(c *gin.Context) {
	claims, _ := ClaimsFrom(c)
	c.JSON(http.StatusOK, sessionResponse{OwnerID: claims.OwnerID, Email: claims.Email})
}

// Health reports liveness and backend reachability.
// GET /healthz
func (h *Handler) Health(c *gin.Context) {
	if h.ping != nil {
		if err := h.ping(c.Request.Context()); err != nil {
			h.logger.Warn(c.Request.Context(), "health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) writeSession(c *gin.Context, s *services.Session) {
	if err := h.gateway.Issue(c.Writer, s, h.now().UTC()); err != nil {
		h.internalError(c, "issue session cookie", err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{
		OwnerID:          s.Claims.OwnerID,
		Email:            s.Claims.Email,
		RefreshToken:     s.RefreshToken.Token,
		RefreshExpiresAt: s.RefreshToken.ExpiryAt,
	})
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error(c.Request.Context(), op+" failed", "error", err)
	if errors.Is(err, common.ErrStoreUnavailable) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
