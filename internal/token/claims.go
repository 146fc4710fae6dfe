// Package token implements C2, the dual-token JWT credential issuer: minting
// and validating short-lived access tokens and longer-lived refresh tokens,
// plus revocation via an external blocklist. Claim shape and HMAC signing are
// grounded on other_examples/darkolive-modus's ChronosSession
// (jwt.MapClaims + jwt.NewWithClaims(jwt.SigningMethodHS256, ...)); the
// Redis-backed blocklist key scheme is grounded on other_examples'
// GEBNETI-authy session.go (hashToken/getBlacklistKey/TTL-bounded Set
// pattern), adapted from a per-token SHA-256 hash key to the jti/sid claims
// spec §4.2 names directly.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/filehub/authd/internal/enum"
)

// Claims is the JWT payload shape for both access and refresh tokens (spec
// §4.2): sub/jti/sid/typ plus the registered exp/iat.
type Claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
	Role      string `json:"role,omitempty"`
}

// TokenType parses the typ claim back into enum.TokenType.
func (c Claims) TokenType() (enum.TokenType, error) {
	return enum.ParseTokenType(c.Type)
}

// TTLs are the spec §6 defaults: access ~15 minutes, refresh ~24 hours.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 24 * time.Hour
)
