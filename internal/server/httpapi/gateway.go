package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/auth"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/services"
)

const (
	SessionCookieName  = common.SessionCookieName
	EligibleCookieName = common.RefreshEligibleCookieName

	// RefreshTokenHeader carries the replacement refresh token after a
	// passive rotation.
	RefreshTokenHeader = "X-Refresh-Token"
)

type CookieConfig struct {
	Secure bool
	Domain string
	// RefreshHorizon is the Max-Age of both cookies.
	RefreshHorizon time.Duration
}

// Gateway turns session decisions into cookies on the response.
type Gateway struct {
	codec *auth.SessionCodec
	cfg   CookieConfig
}

func NewGateway(codec *auth.SessionCodec, cfg CookieConfig) *Gateway {
	return &Gateway{codec: codec, cfg: cfg}
}

// ReadSession returns the raw session cookie value.
func (g *Gateway) ReadSession(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Issue writes a fresh session cookie and the companion eligibility cookie.
func (g *Gateway) Issue(w http.ResponseWriter, s *services.Session, now time.Time) error {
	return g.write(w, s.Claims, s.Cookie, now)
}

// Apply carries out a validator decision. Accept writes nothing, rotate
// re-encodes the session and exposes the new refresh token, reject clears
// both cookies.
func (g *Gateway) Apply(w http.ResponseWriter, d services.Decision, now time.Time) error {
	switch d.Kind {
	case services.DecisionAccept:
		return nil
	case services.DecisionRotate:
		if err := g.write(w, d.Claims, d.Cookie, now); err != nil {
			return err
		}
		if d.RefreshToken != nil {
			w.Header().Set(RefreshTokenHeader, d.RefreshToken.Token)
		}
		return nil
	default:
		g.Clear(w)
		return nil
	}
}

// Clear drops any session cookie already written to w and expires both
// cookies on the client.
func (g *Gateway) Clear(w http.ResponseWriter) {
	w.Header().Del("Set-Cookie")
	w.Header().Del(RefreshTokenHeader)
	for _, c := range []struct {
		name     string
		httpOnly bool
	}{{SessionCookieName, true}, {EligibleCookieName, false}} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     "/",
			Domain:   g.cfg.Domain,
			Expires:  time.Unix(0, 0).UTC(),
			MaxAge:   -1,
			HttpOnly: c.httpOnly,
			Secure:   g.cfg.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func (g *Gateway) write(w http.ResponseWriter, claims models.SessionClaims, props models.CookieProps, now time.Time) error {
	value, err := g.codec.Encode(claims, props)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	http.SetCookie(w, g.cookie(SessionCookieName, value, true, props.Persistent, now))
	http.SetCookie(w, g.cookie(EligibleCookieName, "1", false, true, now))
	return nil
}

func (g *Gateway) cookie(name, value string, httpOnly, persistent bool, now time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   g.cfg.Domain,
		HttpOnly: httpOnly,
		Secure:   g.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if persistent && g.cfg.RefreshHorizon > 0 {
		c.MaxAge = int(g.cfg.RefreshHorizon / time.Second)
		c.Expires = now.Add(g.cfg.RefreshHorizon).UTC()
	}
	return c
}
