package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/filehub/authd/internal/enum"
)

// User is the spec §3 User entity.
type User struct {
	ID             string           `db:"id"`
	Username       string           `db:"username"`
	Role           string           `db:"role"`
	Status         string           `db:"status"`
	PasswordHash   string           `db:"password_hash"`
	FailedAttempts int              `db:"failed_attempts"`
	LockedUntil    sql.NullTime     `db:"locked_until"`
	LastLoginAt    sql.NullTime     `db:"last_login_at"`
	CreatedAt      time.Time        `db:"created_at"`
}

// RoleEnum parses the stored role column.
func (u User) RoleEnum() (enum.Role, error) { return enum.ParseRole(u.Role) }

// StatusEnum parses the stored status column.
func (u User) StatusEnum() (enum.UserStatus, error) { return enum.ParseUserStatus(u.Status) }

// GetUserByUsername looks up a user by case-insensitive username.
// Returns ErrNotFound if no such user exists.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u User
	query := s.adoptQuery("SELECT * FROM users WHERE LOWER(username) = LOWER(?)")
	if err := s.db.GetContext(ctx, &u, query, username); err != nil {
		if isNoRows(err) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("failed to get user %q: %w", username, err)
	}
	return u, nil
}

// GetUserByID looks up a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u User
	query := s.adoptQuery("SELECT * FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &u, query, id); err != nil {
		if isNoRows(err) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("failed to get user %q: %w", id, err)
	}
	return u, nil
}

// CreateUser inserts a new user row.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery(`INSERT INTO users
		(id, username, role, status, password_hash, failed_attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, u.ID, u.Username, u.Role, u.Status, u.PasswordHash, 0, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to create user %q: %w", u.Username, err)
	}
	return nil
}

// RecordLoginSuccess zeroes the failure counter and stamps last_login_at
// (spec §4.1 step 5: "zero the failure counter, set last_login_at = now").
func (s *Store) RecordLoginSuccess(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("UPDATE users SET failed_attempts = 0, locked_until = NULL, last_login_at = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("failed to record login success for %q: %w", userID, err)
	}
	return nil
}

// RecordLoginFailure increments the failure counter and, if it crosses
// maxAttempts, sets locked_until = now + lockoutDuration and resets the
// counter (spec §4.1 step 4). Returns the resulting failed-attempt count and
// whether the account was locked by this call.
func (s *Store) RecordLoginFailure(ctx context.Context, userID string, maxAttempts int, lockoutDuration time.Duration) (attempts int, locked bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int
	selQuery := s.adoptQuery("SELECT failed_attempts FROM users WHERE id = ?")
	if err := s.db.GetContext(ctx, &current, selQuery, userID); err != nil {
		return 0, false, fmt.Errorf("failed to read failed_attempts for %q: %w", userID, err)
	}

	next := current + 1
	if next >= maxAttempts {
		lockedUntil := time.Now().UTC().Add(lockoutDuration)
		query := s.adoptQuery("UPDATE users SET failed_attempts = 0, locked_until = ? WHERE id = ?")
		if _, err := s.db.ExecContext(ctx, query, lockedUntil, userID); err != nil {
			return 0, false, fmt.Errorf("failed to lock user %q: %w", userID, err)
		}
		log.Printf("[WARN] user %q locked after %d consecutive failures", userID, next)
		return next, true, nil
	}

	query := s.adoptQuery("UPDATE users SET failed_attempts = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, next, userID); err != nil {
		return 0, false, fmt.Errorf("failed to bump failed_attempts for %q: %w", userID, err)
	}
	return next, false, nil
}

// UpdatePassword replaces a user's password hash (password-change path).
func (s *Store) UpdatePassword(ctx context.Context, userID, newHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("UPDATE users SET password_hash = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, newHash, userID); err != nil {
		return fmt.Errorf("failed to update password for %q: %w", userID, err)
	}
	return nil
}

// SetSessionLimitOverride upserts a per-user session-cap override (C5,
// supplemented from original_source/filehub-auth/src/seat/limiter.rs with an
// audit reason column, see SPEC_FULL.md).
func (s *Store) SetSessionLimitOverride(ctx context.Context, userID string, maxSessions int, reason, setBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery(`INSERT INTO session_limit_overrides (user_id, max_sessions, reason, set_by, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET max_sessions = excluded.max_sessions,
			reason = excluded.reason, set_by = excluded.set_by, updated_at = excluded.updated_at`)
	_, err := s.db.ExecContext(ctx, query, userID, maxSessions, reason, setBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set session limit override for %q: %w", userID, err)
	}
	return nil
}

// SessionLimitOverride is the per-user session cap row, see C5.
type SessionLimitOverride struct {
	UserID      string `db:"user_id"`
	MaxSessions int    `db:"max_sessions"`
	Reason      sql.NullString `db:"reason"`
	SetBy       sql.NullString `db:"set_by"`
}

// GetSessionLimitOverride fetches a user's override, if any (ErrNotFound
// otherwise).
func (s *Store) GetSessionLimitOverride(ctx context.Context, userID string) (SessionLimitOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var o SessionLimitOverride
	query := s.adoptQuery("SELECT user_id, max_sessions, reason, set_by FROM session_limit_overrides WHERE user_id = ?")
	if err := s.db.GetContext(ctx, &o, query, userID); err != nil {
		if isNoRows(err) {
			return SessionLimitOverride{}, ErrNotFound
		}
		return SessionLimitOverride{}, fmt.Errorf("failed to get session limit override for %q: %w", userID, err)
	}
	return o, nil
}

// maskUsername is used only in log lines; kept to avoid leaking full
// identifiers into WARN-level logs that operators might forward elsewhere.
func maskUsername(username string) string {
	if len(username) <= 2 {
		return "**"
	}
	return username[:2] + strings.Repeat("*", len(username)-2)
}
