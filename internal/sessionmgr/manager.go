// Package sessionmgr implements C6, the Session Manager: the orchestrator
// that sequences C1 (credential) → C5 (limiter) → C3 (seat) → C4 (session
// store, here internal/store directly — see DESIGN.md's C4 disposition
// note) → C2 (token) and, on termination, the reverse compensating order,
// exactly per spec §4.6.
package sessionmgr

import (
	"context"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/filehub/authd/internal/apperr"
	"github.com/filehub/authd/internal/credential"
	"github.com/filehub/authd/internal/enum"
	"github.com/filehub/authd/internal/seat"
	"github.com/filehub/authd/internal/sessionlimit"
	"github.com/filehub/authd/internal/store"
	"github.com/filehub/authd/internal/termination"
	"github.com/filehub/authd/internal/token"

	"github.com/google/uuid"
)

// Config holds the session/timeout knobs spec §6 enumerates. Populated by
// internal/config's loaders; a Manager does not read config files itself.
type Config struct {
	AbsoluteTimeout time.Duration // default 12h
	IdleTimeout     time.Duration // default 30m
}

func DefaultConfig() Config {
	return Config{AbsoluteTimeout: 12 * time.Hour, IdleTimeout: 30 * time.Minute}
}

// Manager is C6.
type Manager struct {
	store     *store.Store
	verifier  *credential.Verifier
	limiter   *sessionlimit.Limiter
	allocator seat.Allocator
	issuer    *token.Issuer
	channel   *termination.Channel
	cfg       Config
}

func New(s *store.Store, v *credential.Verifier, l *sessionlimit.Limiter, a seat.Allocator, iss *token.Issuer, ch *termination.Channel, cfg Config) *Manager {
	return &Manager{store: s, verifier: v, limiter: l, allocator: a, issuer: iss, channel: ch, cfg: cfg}
}

// LoginResult bundles the response shape spec §6's POST /auth/login names,
// plus the minted session id for the audit middleware's attribution.
type LoginResult struct {
	Tokens    token.Pair
	User      store.User
	SessionID string
}

// Login implements spec §4.6's login pseudocode verbatim: verify, resolve
// limit and apply overflow, allocate a seat, create the session row, mint
// tokens. Any failure after a successful TryAllocate releases the seat
// before returning, per spec §4.6's compensating-action rule.
func (m *Manager) Login(ctx context.Context, username, password, ip, ua string) (LoginResult, error) {
	u, err := m.verifier.Verify(ctx, username, password, ip)
	if err != nil {
		return LoginResult{}, err
	}

	role, rerr := u.RoleEnum()
	if rerr != nil {
		role = enum.RoleViewer
	}
	isAdmin := role == enum.RoleAdmin

	n, err := m.store.CountForUser(ctx, u.ID, m.cfg.IdleTimeout)
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to count user sessions", err)
	}

	limit, err := m.limiter.ResolveLimit(ctx, u.ID, role)
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to resolve session limit", err)
	}
	if !limit.Unlimited && n >= limit.Max {
		active, lerr := m.store.ListForUser(ctx, u.ID, true, m.cfg.IdleTimeout)
		if lerr != nil {
			return LoginResult{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to list user sessions", lerr)
		}
		if len(active) == 0 {
			// count and list disagree only under concurrent termination; treat as no overflow
		} else {
			act := m.limiter.Apply(active)
			if act.Deny {
				return LoginResult{}, apperr.SessionLimitReached()
			}
			if _, terr := m.Terminate(ctx, act.KickSessionID, u.ID, "overflow_kick"); terr != nil {
				return LoginResult{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to kick session for overflow", terr)
			}
		}
	}

	decision, err := m.allocator.TryAllocate(ctx, u.ID, isAdmin)
	if err != nil {
		return LoginResult{}, apperr.Wrap(apperr.ServiceUnavailable, "SEAT_ALLOCATE_FAILED", "seat allocation unavailable", err)
	}
	if !decision.Granted {
		return LoginResult{}, apperr.NoSeatsAvailable()
	}

	sid := uuid.NewString()
	sess, err := m.store.CreateSession(ctx, store.NewSession{
		ID:        sid,
		UserID:    u.ID,
		IP:        ip,
		UserAgent: ua,
		ExpiresAt: time.Now().UTC().Add(m.cfg.AbsoluteTimeout),
	})
	if err != nil {
		m.releaseOnFailure(ctx, u.ID)
		return LoginResult{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to create session", err)
	}
	if bindErr := m.allocator.BindSession(ctx, u.ID, sess.ID); bindErr != nil {
		log.Printf("[WARN] failed to bind session %s to seat allocation: %v", sess.ID, bindErr)
	}

	pair, err := m.issuer.Mint(u.ID, sid, role.String())
	if err != nil {
		// compensate: undo session creation and seat allocation
		if _, terr := m.store.Terminate(ctx, sid, "system", "mint_failed"); terr != nil {
			log.Printf("[WARN] failed to compensate session %s after mint failure: %v", sid, terr)
		}
		m.releaseOnFailure(ctx, u.ID)
		return LoginResult{}, err
	}

	return LoginResult{Tokens: pair, User: u, SessionID: sid}, nil
}

func (m *Manager) releaseOnFailure(ctx context.Context, userKey string) {
	if err := m.allocator.Release(ctx, userKey); err != nil {
		log.Printf("[WARN] failed to release seat for %s during compensation: %v", userKey, err)
	}
}

// RefreshResult bundles the new token pair with the session/user identity
// the refresh resolved to, so callers (the audit middleware in particular)
// can attribute the event without re-parsing the spent refresh token.
type RefreshResult struct {
	Tokens    token.Pair
	SessionID string
	UserID    string
}

// Refresh implements spec §4.6's refresh: validate, ensure sid still names
// an active session, mint a new pair, revoke the old refresh jti. The
// session row is unchanged except last_activity.
func (m *Manager) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	claims, err := m.issuer.ValidateRefresh(ctx, refreshToken)
	if err != nil {
		return RefreshResult{}, err
	}

	sess, err := m.store.FindActive(ctx, claims.SessionID, m.cfg.IdleTimeout)
	if err != nil {
		return RefreshResult{}, apperr.Wrap(apperr.Unauthorized, "SESSION_NOT_ACTIVE", "session is not active", err)
	}
	if err := m.store.Touch(ctx, sess.ID, time.Now().UTC()); err != nil {
		return RefreshResult{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to touch session", err)
	}

	u, err := m.store.GetUserByID(ctx, sess.UserID)
	if err != nil {
		return RefreshResult{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to load user for refresh", err)
	}
	role, _ := u.RoleEnum()

	pair, err := m.issuer.Mint(u.ID, sess.ID, role.String())
	if err != nil {
		return RefreshResult{}, err
	}

	if err := m.issuer.Revoke(ctx, claims); err != nil {
		log.Printf("[WARN] failed to revoke old refresh token after rotation: %v", err)
	}

	return RefreshResult{Tokens: pair, SessionID: sess.ID, UserID: u.ID}, nil
}

// Logout is terminate-by-self (spec §4.6).
func (m *Manager) Logout(ctx context.Context, sessionID, actorUserID, reason string) error {
	if reason == "" {
		reason = "logout"
	}
	_, err := m.Terminate(ctx, sessionID, actorUserID, reason)
	return err
}

// Terminate implements spec §4.6's idempotent four-step termination path.
// Returns whether it was a no-op on an already-terminated session.
func (m *Manager) Terminate(ctx context.Context, sessionID, by, reason string) (alreadyTerminated bool, err error) {
	sess, lookupErr := m.store.GetSession(ctx, sessionID)
	if lookupErr != nil {
		return false, apperr.Wrap(apperr.NotFound, "NOT_FOUND", "session not found", lookupErr)
	}

	already, terr := m.store.Terminate(ctx, sessionID, by, reason)
	if terr != nil {
		return false, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to terminate session", terr)
	}
	if already {
		return true, nil
	}

	// Step ordering matters: blocklist before release (spec §4.6), so a
	// client whose request was mid-flight cannot re-acquire on the same token.
	if err := m.issuer.RevokeSession(ctx, sessionID); err != nil {
		log.Printf("[WARN] failed to revoke session %s during termination: %v", sessionID, err)
	}
	if err := m.allocator.Release(ctx, sess.UserID); err != nil {
		log.Printf("[WARN] failed to release seat for %s during termination: %v", sess.UserID, err)
	}
	// best-effort push (spec §4.8)
	m.channel.Push(sessionID, reason, by)

	return false, nil
}

// TerminateAllNonAdmin implements spec §4.6's bulk operation: iterate every
// active session whose user role ≠ Admin and terminate each. Not required
// to be atomic across sessions — partial progress is acceptable.
type TerminateAllResult struct {
	Terminated        int
	AlreadyTerminated int
	Errors            int
}

func (m *Manager) TerminateAllNonAdmin(ctx context.Context, by, reason string) (TerminateAllResult, error) {
	sessions, err := m.store.ListActiveAll(ctx, "", m.cfg.IdleTimeout)
	if err != nil {
		return TerminateAllResult{}, apperr.Wrap(apperr.Internal, "INTERNAL", "failed to list active sessions", err)
	}

	var result TerminateAllResult
	for _, sess := range sessions {
		u, uerr := m.store.GetUserByID(ctx, sess.UserID)
		if uerr != nil {
			log.Printf("[WARN] terminate_all_non_admin: failed to load user %s: %v", sess.UserID, uerr)
			result.Errors++
			continue
		}
		role, rerr := u.RoleEnum()
		if rerr != nil || role == enum.RoleAdmin {
			continue
		}
		already, terr := m.Terminate(ctx, sess.ID, by, reason)
		if terr != nil {
			log.Printf("[WARN] terminate_all_non_admin: failed to terminate %s: %v", sess.ID, terr)
			result.Errors++
			continue
		}
		if already {
			result.AlreadyTerminated++
			continue
		}
		result.Terminated++
	}
	return result, nil
}
