package rest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenExpiryFromClaim(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": exp.Unix(),
		"sub": "voice",
	})
	signed, err := tok.SignedString([]byte("dev-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	got := tokenExpiry(signed)
	if !got.Equal(exp) {
		t.Errorf("expiry = %v, want %v", got, exp)
	}
}

func TestTokenExpiryWithoutClaim(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "voice"})
	signed, err := tok.SignedString([]byte("dev-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got := tokenExpiry(signed); !got.IsZero() {
		t.Errorf("expiry = %v, want zero", got)
	}
}

func TestTokenExpiryNonJWT(t *testing.T) {
	if got := tokenExpiry("006opaque-media-token"); !got.IsZero() {
		t.Errorf("expiry = %v, want zero for opaque token", got)
	}
}
