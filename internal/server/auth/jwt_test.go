package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

var testClaims = models.SessionClaims{
	OwnerID:     "6f1c2d1e-9a53-4c3b-8f0e-2b6f6b1f3c11",
	Email:       "alice@example.com",
	AccessValue: "access-1",
	TokenID:     "0b7d9d2a-5c1e-4f7a-9e36-3f1a2b4c5d6e",
}

func TestEncodeAndDecode_Success(t *testing.T) {
	t.Parallel()

	codec := NewSessionCodec([]byte("super-secret"))
	now := time.Unix(1_700_000_000, 0)
	props := models.NewCookieProps(now, 10*time.Minute)

	tok, err := codec.Encode(testClaims, props)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	claims, gotProps, err := codec.Decode(tok, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if claims != testClaims {
		t.Fatalf("claims mismatch: got %+v want %+v", claims, testClaims)
	}
	if !gotProps.IssuedAt.Equal(props.IssuedAt) || !gotProps.ExpiresAt.Equal(props.ExpiresAt) {
		t.Fatalf("props mismatch: got %+v want %+v", gotProps, props)
	}
	if !gotProps.Persistent {
		t.Fatalf("decoded session cookie must be persistent")
	}
}

func TestDecode_Expired(t *testing.T) {
	t.Parallel()

	codec := NewSessionCodec([]byte("secret"))
	now := time.Unix(1_700_000_000, 0)

	tok, err := codec.Encode(testClaims, models.NewCookieProps(now, 10*time.Minute))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	_, _, err = codec.Decode(tok, now.Add(11*time.Minute))
	if !errors.Is(err, common.ErrTokenExpired) {
		t.Fatalf("expected common.ErrTokenExpired, got %v", err)
	}
}

func TestDecodeIgnoringExpiry_AcceptsElapsedWindow(t *testing.T) {
	t.Parallel()

	codec := NewSessionCodec([]byte("secret"))
	issued := time.Now().Add(-time.Hour)

	tok, err := codec.Encode(testClaims, models.NewCookieProps(issued, 10*time.Minute))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	claims, _, err := codec.DecodeIgnoringExpiry(tok)
	if err != nil {
		t.Fatalf("DecodeIgnoringExpiry error: %v", err)
	}
	if claims.OwnerID != testClaims.OwnerID {
		t.Fatalf("owner mismatch: %q", claims.OwnerID)
	}
}

func TestDecode_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewSessionCodec([]byte("right-secret")).Encode(testClaims, models.NewCookieProps(time.Now(), time.Hour))
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}

	wrong := NewSessionCodec([]byte("wrong-secret"))
	if _, _, err := wrong.Decode(tok, time.Now()); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
	if _, _, err := wrong.DecodeIgnoringExpiry(tok); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("signature must still be verified, got %v", err)
	}
}

func TestDecode_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		OwnerID:          testClaims.OwnerID,
	}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}

	if _, _, err := NewSessionCodec(secret).Decode(tok, time.Now()); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestDecode_MissingExpiry(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{OwnerID: testClaims.OwnerID}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign error: %v", err)
	}

	if _, _, err := NewSessionCodec(secret).Decode(tok, time.Now()); !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("a cookie without a window must be invalid, got %v", err)
	}
}

func TestDecode_MalformedString(t *testing.T) {
	t.Parallel()

	if _, _, err := NewSessionCodec([]byte("k")).Decode("not.a.jwt", time.Now()); err == nil {
		t.Fatalf("expected error for malformed token, got nil")
	}
}
