package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"
)

// Session is the spec §3 Session entity with the full column set named in
// spec §6's "Session table minimum columns" line, extended with
// last_activity/idle-timeout fields spec §3's invariant requires.
type Session struct {
	ID                string         `db:"id"`
	UserID            string         `db:"user_id"`
	IP                sql.NullString `db:"ip"`
	UserAgent         sql.NullString `db:"user_agent"`
	CreatedAt         time.Time      `db:"created_at"`
	ExpiresAt         time.Time      `db:"expires_at"`
	LastActivity      time.Time      `db:"last_activity"`
	TerminatedAt      sql.NullTime   `db:"terminated_at"`
	TerminatedBy      sql.NullString `db:"terminated_by"`
	TerminatedReason  sql.NullString `db:"terminated_reason"`
}

// IsActive implements spec §3's Session invariant: "active iff terminated_at
// is null ∧ now < expires_at ∧ now − last_activity < idle_timeout". Always
// computed live against `now`, never cached, per spec §4.4.
func (s Session) IsActive(now time.Time, idleTimeout time.Duration) bool {
	if s.TerminatedAt.Valid {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	return now.Sub(s.LastActivity) < idleTimeout
}

// NewSession is the C4 create(new_session) contract's input.
type NewSession struct {
	ID        string
	UserID    string
	IP        string
	UserAgent string
	ExpiresAt time.Time
}

// CreateSession inserts a new session row (C4 create). IP/user-agent are
// encrypted at rest when the Store has a FieldCrypto configured.
func (s *Store) CreateSession(ctx context.Context, in NewSession) (Session, error) {
	encIP, err := s.encryptField(in.IP)
	if err != nil {
		return Session{}, fmt.Errorf("failed to encrypt session ip: %w", err)
	}
	encUA, err := s.encryptField(in.UserAgent)
	if err != nil {
		return Session{}, fmt.Errorf("failed to encrypt session user_agent: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	query := s.adoptQuery(`INSERT INTO sessions
		(id, user_id, ip, user_agent, created_at, expires_at, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query, in.ID, in.UserID, encIP, encUA, now, in.ExpiresAt.UTC(), now)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return Session{
		ID: in.ID, UserID: in.UserID,
		IP:        sql.NullString{String: in.IP, Valid: in.IP != ""},
		UserAgent: sql.NullString{String: in.UserAgent, Valid: in.UserAgent != ""},
		CreatedAt: now, ExpiresAt: in.ExpiresAt.UTC(), LastActivity: now,
	}, nil
}

// decryptSession reverses the at-rest encryption CreateSession applies to
// IP/user-agent, in place.
func (s *Store) decryptSession(sess Session) Session {
	if sess.IP.Valid {
		sess.IP.String = s.decryptField(sess.IP.String)
	}
	if sess.UserAgent.Valid {
		sess.UserAgent.String = s.decryptField(sess.UserAgent.String)
	}
	return sess
}

// FindActive returns the session iff it exists and spec §3's active
// invariant currently holds, else ErrNotFound (C4 find_active).
func (s *Store) FindActive(ctx context.Context, sessionID string, idleTimeout time.Duration) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	query := s.adoptQuery("SELECT * FROM sessions WHERE id = ?")
	if err := s.db.GetContext(ctx, &sess, query, sessionID); err != nil {
		if isNoRows(err) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("failed to get session %q: %w", sessionID, err)
	}
	if !sess.IsActive(time.Now().UTC(), idleTimeout) {
		return Session{}, ErrNotFound
	}
	return s.decryptSession(sess), nil
}

// Touch updates last_activity; a no-op (but not an error) if the session is
// already terminated, per spec §4.4.
func (s *Store) Touch(ctx context.Context, sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("UPDATE sessions SET last_activity = ? WHERE id = ? AND terminated_at IS NULL")
	if _, err := s.db.ExecContext(ctx, query, now.UTC(), sessionID); err != nil {
		return fmt.Errorf("failed to touch session %q: %w", sessionID, err)
	}
	return nil
}

// Terminate sets terminated_at/by/reason if not already set. Idempotent:
// returns (alreadyTerminated=true, nil) on a session already terminated,
// matching spec §4.6 terminate()'s "if it returned was already terminated,
// return success" and spec §5's idempotency guarantee.
func (s *Store) Terminate(ctx context.Context, sessionID string, by, reason string) (alreadyTerminated bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	query := s.adoptQuery(`UPDATE sessions SET terminated_at = ?, terminated_by = ?, terminated_reason = ?
		WHERE id = ? AND terminated_at IS NULL`)
	result, execErr := s.db.ExecContext(ctx, query, now, nullableString(by), reason, sessionID)
	if execErr != nil {
		return false, fmt.Errorf("failed to terminate session %q: %w", sessionID, execErr)
	}
	rows, raErr := result.RowsAffected()
	if raErr != nil {
		return false, fmt.Errorf("failed to check affected rows: %w", raErr)
	}
	if rows == 0 {
		// either missing or already terminated; distinguish for callers that care
		var exists bool
		existsQuery := s.adoptQuery("SELECT EXISTS(SELECT 1 FROM sessions WHERE id = ?)")
		if err := s.db.GetContext(ctx, &exists, existsQuery, sessionID); err != nil {
			return false, fmt.Errorf("failed to check session existence: %w", err)
		}
		if !exists {
			return false, ErrNotFound
		}
		return true, nil
	}
	log.Printf("[DEBUG] terminated session %s reason=%s", maskSessionID(sessionID), reason)
	return false, nil
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func maskSessionID(id string) string {
	if len(id) <= 8 {
		return "****"
	}
	return id[:8] + "****"
}

// FindExpired returns non-terminated sessions where now >= expires_at or
// now - last_activity >= idleTimeout (C4 find_expired, consumed by C9
// Cleanup).
func (s *Store) FindExpired(ctx context.Context, idleTimeout time.Duration) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	idleCutoff := now.Add(-idleTimeout)
	query := s.adoptQuery(`SELECT * FROM sessions
		WHERE terminated_at IS NULL AND (expires_at <= ? OR last_activity <= ?)`)
	var sessions []Session
	if err := s.db.SelectContext(ctx, &sessions, query, now, idleCutoff); err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	for i := range sessions {
		sessions[i] = s.decryptSession(sessions[i])
	}
	return sessions, nil
}

// CountAllActive returns the authoritative count of active sessions
// (C4 count_all_active, consumed by C3's reconcile and C9's Reconciler).
func (s *Store) CountAllActive(ctx context.Context, idleTimeout time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	idleCutoff := now.Add(-idleTimeout)
	var count int
	query := s.adoptQuery(`SELECT COUNT(*) FROM sessions
		WHERE terminated_at IS NULL AND expires_at > ? AND last_activity > ?`)
	if err := s.db.GetContext(ctx, &count, query, now, idleCutoff); err != nil {
		return 0, fmt.Errorf("failed to count active sessions: %w", err)
	}
	return count, nil
}

// CountForUser returns the active session count for one user (C5 input).
func (s *Store) CountForUser(ctx context.Context, userID string, idleTimeout time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	idleCutoff := now.Add(-idleTimeout)
	var count int
	query := s.adoptQuery(`SELECT COUNT(*) FROM sessions
		WHERE user_id = ? AND terminated_at IS NULL AND expires_at > ? AND last_activity > ?`)
	if err := s.db.GetContext(ctx, &count, query, userID, now, idleCutoff); err != nil {
		return 0, fmt.Errorf("failed to count sessions for user %q: %w", userID, err)
	}
	return count, nil
}

// ListForUser lists a user's sessions, optionally filtered to active-only
// (C4 list_for_user).
func (s *Store) ListForUser(ctx context.Context, userID string, activeOnly bool, idleTimeout time.Duration) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []Session
	if !activeOnly {
		query := s.adoptQuery("SELECT * FROM sessions WHERE user_id = ? ORDER BY created_at DESC")
		if err := s.db.SelectContext(ctx, &sessions, query, userID); err != nil {
			return nil, fmt.Errorf("failed to list sessions for user %q: %w", userID, err)
		}
		for i := range sessions {
			sessions[i] = s.decryptSession(sessions[i])
		}
		return sessions, nil
	}

	now := time.Now().UTC()
	idleCutoff := now.Add(-idleTimeout)
	query := s.adoptQuery(`SELECT * FROM sessions WHERE user_id = ? AND terminated_at IS NULL
		AND expires_at > ? AND last_activity > ? ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &sessions, query, userID, now, idleCutoff); err != nil {
		return nil, fmt.Errorf("failed to list active sessions for user %q: %w", userID, err)
	}
	for i := range sessions {
		sessions[i] = s.decryptSession(sessions[i])
	}
	return sessions, nil
}

// ListActiveAll lists every active session, optionally filtered by user —
// supplemented per SPEC_FULL.md's admin-session-listing expansion, grounded
// on original_source/filehub-service/src/session/service.rs's
// list_active_sessions.
func (s *Store) ListActiveAll(ctx context.Context, userIDFilter string, idleTimeout time.Duration) ([]Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now().UTC()
	idleCutoff := now.Add(-idleTimeout)
	var sessions []Session
	if userIDFilter == "" {
		query := s.adoptQuery(`SELECT * FROM sessions WHERE terminated_at IS NULL
			AND expires_at > ? AND last_activity > ? ORDER BY created_at DESC`)
		if err := s.db.SelectContext(ctx, &sessions, query, now, idleCutoff); err != nil {
			return nil, fmt.Errorf("failed to list active sessions: %w", err)
		}
		for i := range sessions {
			sessions[i] = s.decryptSession(sessions[i])
		}
		return sessions, nil
	}
	query := s.adoptQuery(`SELECT * FROM sessions WHERE user_id = ? AND terminated_at IS NULL
		AND expires_at > ? AND last_activity > ? ORDER BY created_at DESC`)
	if err := s.db.SelectContext(ctx, &sessions, query, userIDFilter, now, idleCutoff); err != nil {
		return nil, fmt.Errorf("failed to list active sessions for user %q: %w", userIDFilter, err)
	}
	for i := range sessions {
		sessions[i] = s.decryptSession(sessions[i])
	}
	return sessions, nil
}

// GetSession fetches a session row regardless of its active/expired state
// (used by admin GET /admin/sessions/{id}).
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	query := s.adoptQuery("SELECT * FROM sessions WHERE id = ?")
	if err := s.db.GetContext(ctx, &sess, query, sessionID); err != nil {
		if isNoRows(err) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("failed to get session %q: %w", sessionID, err)
	}
	return s.decryptSession(sess), nil
}
