// ABOUTME: Reads the expiry claim from an access token without verifying it
// ABOUTME: Signature checks belong to the backend; the client only schedules refreshes

package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ExpiresAt returns the exp claim of a JWT. ok is false when the token is
// not a JWT or carries no expiry.
func ExpiresAt(raw string) (exp time.Time, ok bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// Lifetime returns the iat and exp claims of a JWT. ok is false unless both
// are present.
func Lifetime(raw string) (issued, exp time.Time, ok bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, time.Time{}, false
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return time.Time{}, time.Time{}, false
	}
	return claims.IssuedAt.Time, claims.ExpiresAt.Time, true
}
