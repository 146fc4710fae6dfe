package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/filehub/authd/internal/enum"
)

// SessionPolicy is config/session_policy.toml: spec §6's session.limits.*,
// idle/absolute timeouts, and the reconciler/cleanup interval knobs.
type SessionPolicy struct {
	IdleTimeoutMinutes       int            `toml:"idle_timeout_minutes"`
	AbsoluteTimeoutHours     int            `toml:"absolute_timeout_hours"`
	CleanupIntervalMinutes   int            `toml:"cleanup_interval_minutes"`
	ReconcileIntervalSeconds int            `toml:"reconcile_interval_seconds"`
	Limits                   SessionLimits  `toml:"limits"`
}

// SessionLimits is the session.limits table: per-role caps (0 = unlimited)
// and the overflow strategy applied when a login would exceed the cap.
type SessionLimits struct {
	ByRole           map[string]int `toml:"by_role"`
	OverflowStrategy string         `toml:"overflow_strategy"`
}

// LoadSessionPolicy reads and parses config/session_policy.toml.
func LoadSessionPolicy(path string) (*SessionPolicy, error) {
	var policy SessionPolicy
	if _, err := toml.DecodeFile(path, &policy); err != nil {
		return nil, fmt.Errorf("failed to parse session policy file: %w", err)
	}
	return &policy, nil
}

// IdleTimeout returns the configured idle timeout, defaulting per spec §6.
func (p SessionPolicy) IdleTimeout() time.Duration {
	if p.IdleTimeoutMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(p.IdleTimeoutMinutes) * time.Minute
}

// AbsoluteTimeout returns the configured hard session expiry, defaulting per spec §6.
func (p SessionPolicy) AbsoluteTimeout() time.Duration {
	if p.AbsoluteTimeoutHours <= 0 {
		return 12 * time.Hour
	}
	return time.Duration(p.AbsoluteTimeoutHours) * time.Hour
}

// CleanupInterval returns the configured expired-session sweep frequency.
func (p SessionPolicy) CleanupInterval() time.Duration {
	if p.CleanupIntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(p.CleanupIntervalMinutes) * time.Minute
}

// ReconcileInterval returns the configured drift-check frequency.
func (p SessionPolicy) ReconcileInterval() time.Duration {
	if p.ReconcileIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.ReconcileIntervalSeconds) * time.Second
}

// RoleDefaults translates the by_role string-keyed map into
// internal/sessionlimit's RoleDefaults, skipping names that don't parse as
// an enum.Role rather than failing the whole load — an unrecognized role
// name in the policy file is an operator typo, not a reason to refuse to
// start.
func (p SessionPolicy) RoleDefaults() map[enum.Role]int {
	out := make(map[enum.Role]int, len(p.Limits.ByRole))
	for name, max := range p.Limits.ByRole {
		role, err := enum.ParseRole(name)
		if err != nil {
			continue
		}
		out[role] = max
	}
	return out
}

// Overflow parses the configured overflow strategy, defaulting to deny on
// an empty or unrecognized value (spec §6's session.limits.overflow_strategy
// default behavior: fail closed).
func (p SessionPolicy) Overflow() enum.OverflowStrategy {
	strategy, err := enum.ParseOverflowStrategy(p.Limits.OverflowStrategy)
	if err != nil {
		return enum.OverflowDeny
	}
	return strategy
}
