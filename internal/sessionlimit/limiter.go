// Package sessionlimit implements C5, the Session Limiter: resolving a
// user's concurrent-session cap and deciding what to do when a login would
// exceed it. Grounded on internal/store's SessionLimitOverride persistence
// (itself grounded on original_source/filehub-auth/src/seat/limiter.rs) and
// on spec §4.5's resolution order and overflow strategies.
package sessionlimit

import (
	"context"
	"errors"

	"github.com/filehub/authd/internal/enum"
	"github.com/filehub/authd/internal/store"
)

// Limit is the resolved cap: either Unlimited or a fixed positive count.
type Limit struct {
	Unlimited bool
	Max       int
}

// Action is what the caller (the Session Manager, C6) must do about an
// overflowing login.
type Action struct {
	Deny              bool
	KickSessionID     string // set when a specific session must be terminated first
	KickSessionUserID string
}

// RoleDefaults maps enum.Role to its configured per-role cap; 0 means
// unlimited, per spec §6's `session.limits.by_role`.
type RoleDefaults map[enum.Role]int

// Limiter is C5.
type Limiter struct {
	store    *store.Store
	byRole   RoleDefaults
	overflow enum.OverflowStrategy
}

func New(s *store.Store, byRole RoleDefaults, overflow enum.OverflowStrategy) *Limiter {
	return &Limiter{store: s, byRole: byRole, overflow: overflow}
}

// ResolveLimit implements spec §4.5's resolution order: per-user override >
// per-role default > unlimited.
func (l *Limiter) ResolveLimit(ctx context.Context, userID string, role enum.Role) (Limit, error) {
	override, err := l.store.GetSessionLimitOverride(ctx, userID)
	if err == nil {
		if override.MaxSessions == 0 {
			return Limit{Unlimited: true}, nil
		}
		return Limit{Max: override.MaxSessions}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Limit{}, err
	}

	if max, ok := l.byRole[role]; ok {
		if max == 0 {
			return Limit{Unlimited: true}, nil
		}
		return Limit{Max: max}, nil
	}

	return Limit{Unlimited: true}, nil
}

// Apply decides what to do when a login for userID would bring their active
// session count to n ≥ limit.Max (spec §4.5's three overflow strategies).
// For kick_oldest/kick_idle it selects the target session from the caller-
// supplied active session list so it doesn't need to re-query the store.
func (l *Limiter) Apply(active []store.Session) Action {
	switch l.overflow {
	case enum.OverflowKickOldest:
		target := oldestSession(active)
		return Action{KickSessionID: target.ID, KickSessionUserID: target.UserID}
	case enum.OverflowKickIdle:
		target := idlestSession(active)
		return Action{KickSessionID: target.ID, KickSessionUserID: target.UserID}
	default:
		return Action{Deny: true}
	}
}

func oldestSession(sessions []store.Session) store.Session {
	oldest := sessions[0]
	for _, s := range sessions[1:] {
		if s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	return oldest
}

func idlestSession(sessions []store.Session) store.Session {
	idlest := sessions[0]
	for _, s := range sessions[1:] {
		if s.LastActivity.Before(idlest.LastActivity) {
			idlest = s
		}
	}
	return idlest
}
