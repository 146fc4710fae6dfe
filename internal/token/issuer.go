package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/filehub/authd/internal/apperr"
	"github.com/filehub/authd/internal/enum"
)

// Blocklist is C2's revocation side, satisfied by a Redis-backed
// implementation (see blocklist.go) so it can be shared across daemon
// instances; fails closed on store outage per spec §4.2's "a revocation
// check that cannot be answered must be treated as revoked".
type Blocklist interface {
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
	IsSessionRevoked(ctx context.Context, sessionID string) (bool, error)
	RevokeToken(ctx context.Context, jti string, ttl time.Duration) error
	RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error
}

// Issuer is C2, the Credential/Token minter+validator.
type Issuer struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	blocklist  Blocklist
}

func New(secret []byte, accessTTL, refreshTTL time.Duration, blocklist Blocklist) *Issuer {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &Issuer{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL, blocklist: blocklist}
}

// Pair is the dual-token result of a successful mint (spec §4.2 "mint").
type Pair struct {
	AccessToken       string
	RefreshToken      string
	AccessJTI         string
	RefreshJTI        string
	ExpiresAt         time.Time // access token expiry
	RefreshExpiresAt  time.Time
}

// Mint issues a fresh access+refresh token pair bound to sessionID.
func (iss *Issuer) Mint(userID, sessionID, role string) (Pair, error) {
	now := time.Now().UTC()

	accessJTI := uuid.NewString()
	accessExp := now.Add(iss.accessTTL)
	access, err := iss.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        accessJTI,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(accessExp),
		},
		SessionID: sessionID,
		Type:      enum.TokenAccess.String(),
		Role:      role,
	})
	if err != nil {
		return Pair{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to sign access token", err)
	}

	refreshJTI := uuid.NewString()
	refreshExp := now.Add(iss.refreshTTL)
	refresh, err := iss.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        refreshJTI,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(refreshExp),
		},
		SessionID: sessionID,
		Type:      enum.TokenRefresh.String(),
		Role:      role,
	})
	if err != nil {
		return Pair{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to sign refresh token", err)
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessJTI:        accessJTI,
		RefreshJTI:       refreshJTI,
		ExpiresAt:        accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (iss *Issuer) sign(claims Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(iss.secret)
}

// parse validates signature and expiry only; revocation is checked
// separately so callers can tell Revoked apart. An expired token is reported
// as Expired; any other parse or verification failure, an undecodable token
// included, is reported as BadSignature. Malformed is returned only when
// parsing succeeds but the token is not valid.
func (iss *Issuer) parse(tokenString string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return iss.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, apperr.Expired()
		}
		return Claims{}, apperr.BadSignature()
	}
	if !parsed.Valid {
		return Claims{}, apperr.Malformed()
	}
	return claims, nil
}

// ValidateAccess parses and checks revocation for an access token.
func (iss *Issuer) ValidateAccess(ctx context.Context, tokenString string) (Claims, error) {
	claims, err := iss.parse(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != enum.TokenAccess.String() {
		return Claims{}, apperr.WrongType()
	}
	if err := iss.checkRevocation(ctx, claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

// ValidateRefresh parses and checks revocation for a refresh token.
func (iss *Issuer) ValidateRefresh(ctx context.Context, tokenString string) (Claims, error) {
	claims, err := iss.parse(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.Type != enum.TokenRefresh.String() {
		return Claims{}, apperr.WrongType()
	}
	if err := iss.checkRevocation(ctx, claims); err != nil {
		return Claims{}, err
	}
	return claims, nil
}

func (iss *Issuer) checkRevocation(ctx context.Context, claims Claims) error {
	tokenRevoked, err := iss.blocklist.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		// fail closed: spec §4.2 treats an unanswerable revocation check as revoked.
		return apperr.Wrap(apperr.ServiceUnavailable, "REVOCATION_CHECK_FAILED", "could not verify token revocation status", err)
	}
	if tokenRevoked {
		return apperr.Revoked()
	}
	sessionRevoked, err := iss.blocklist.IsSessionRevoked(ctx, claims.SessionID)
	if err != nil {
		return apperr.Wrap(apperr.ServiceUnavailable, "REVOCATION_CHECK_FAILED", "could not verify session revocation status", err)
	}
	if sessionRevoked {
		return apperr.Revoked()
	}
	return nil
}

// Revoke blocklists a single token by jti until it would have expired
// naturally (spec §4.2 "revoke").
func (iss *Issuer) Revoke(ctx context.Context, claims Claims) error {
	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		return nil // already expired, nothing to block
	}
	if err := iss.blocklist.RevokeToken(ctx, claims.ID, ttl); err != nil {
		return apperr.Wrap(apperr.Internal, "INTERNAL", "failed to revoke token", err)
	}
	return nil
}

// RevokeSession blocklists every token bound to sessionID (spec §4.2
// "revoke_session") for the longest TTL we issue (the refresh TTL), so
// stale access tokens minted under that session are rejected too.
func (iss *Issuer) RevokeSession(ctx context.Context, sessionID string) error {
	if err := iss.blocklist.RevokeSession(ctx, sessionID, iss.refreshTTL); err != nil {
		return apperr.Wrap(apperr.Internal, "INTERNAL", "failed to revoke session", err)
	}
	return nil
}

// IsSessionRevoked exposes the session-block check (C2 "is_session_revoked")
// for callers that only hold a session ID, not a full claim set.
func (iss *Issuer) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	return iss.blocklist.IsSessionRevoked(ctx, sessionID)
}
