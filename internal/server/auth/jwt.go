// Package auth implements the signed session cookie: claims and the sliding
// window are carried in an HS256 JWT.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT body of the session cookie.
type Claims struct {
	jwt.RegisteredClaims
	OwnerID     string `json:"oid"`
	Email       string `json:"email"`
	AccessValue string `json:"av"`
	TokenID     string `json:"tid"`
}

// SessionCodec signs and verifies session cookies.
type SessionCodec struct {
	secret []byte
}

func NewSessionCodec(secret []byte) *SessionCodec {
	return &SessionCodec{secret: secret}
}

// Encode signs claims with the window described by props.
func (c *SessionCodec) Encode(claims models.SessionClaims, props models.CookieProps) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(props.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(props.ExpiresAt),
		},
		OwnerID:     claims.OwnerID,
		Email:       claims.Email,
		AccessValue: claims.AccessValue,
		TokenID:     claims.TokenID,
	})

	tokenString, err := token.SignedString(c.secret)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// Decode verifies the signature and the window at now. An elapsed window
// yields common.ErrTokenExpired, anything else common.ErrInvalidToken.
func (c *SessionCodec) Decode(tokenString string, now time.Time) (models.SessionClaims, models.CookieProps, error) {
	return c.decode(tokenString,
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	)
}

// DecodeIgnoringExpiry verifies only the signature. The refresh endpoint
// uses it to identify the owner of a session whose window has elapsed.
func (c *SessionCodec) DecodeIgnoringExpiry(tokenString string) (models.SessionClaims, models.CookieProps, error) {
	return c.decode(tokenString, jwt.WithoutClaimsValidation())
}

func (c *SessionCodec) decode(tokenString string, opts ...jwt.ParserOption) (models.SessionClaims, models.CookieProps, error) {
	claims := &Claims{}
	opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.SessionClaims{}, models.CookieProps{}, common.ErrTokenExpired
		}
		return models.SessionClaims{}, models.CookieProps{}, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}

	if !token.Valid {
		return models.SessionClaims{}, models.CookieProps{}, common.ErrInvalidToken
	}

	props := models.CookieProps{Persistent: true}
	if claims.IssuedAt != nil {
		props.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		props.ExpiresAt = claims.ExpiresAt.Time
	}

	return models.SessionClaims{
		OwnerID:     claims.OwnerID,
		Email:       claims.Email,
		AccessValue: claims.AccessValue,
		TokenID:     claims.TokenID,
	}, props, nil
}
