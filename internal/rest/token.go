package rest

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// tokenExpiry reads the exp claim without verifying the signature; the
// backend signed the token for the media server, not for us. A token that
// is not a JWT, or carries no expiry, yields the zero time.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		log.Debug().Err(err).Str("module", "rest").Msg("voice token is not a parseable JWT")
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
