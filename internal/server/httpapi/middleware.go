package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/gin-gonic/gin"
)

const claimsKey = "session_claims"

// RequestRecorder counts served requests.
type RequestRecorder interface {
	Request(route string, status int)
}

// accessLog logs every request through the handler logger and counts it.
func (h *Handler) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		h.logger.Info(c.Request.Context(), "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"latency", time.Since(start),
		)
		if h.requests != nil {
			h.requests.Request(route, status)
		}
	}
}

// sessionRequired decodes the session cookie, runs the validator and
// applies its decision before the handler runs.
func (h *Handler) sessionRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := h.now().UTC()

		raw, ok := h.gateway.ReadSession(c.Request)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing session"})
			return
		}

		claims, props, err := h.codec.Decode(raw, now)
		if err != nil {
			if errors.Is(err, common.ErrTokenExpired) {
				// The cookie still identifies the owner for /auth/refresh.
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
				return
			}
			h.gateway.Clear(c.Writer)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}

		d := h.validator.Validate(c.Request.Context(), claims, props, now)
		if err := h.gateway.Apply(c.Writer, d, now); err != nil {
			h.logger.Error(c.Request.Context(), "applying session decision", "error", err)
			h.gateway.Clear(c.Writer)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}
		if err := d.Err(); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(claimsKey, d.Claims)
		c.Next()
	}
}

// ClaimsFrom returns the claims the session middleware accepted.
func ClaimsFrom(c *gin.Context) (models.SessionClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return models.SessionClaims{}, false
	}
	claims, ok := v.(models.SessionClaims)
	return claims, ok
}
