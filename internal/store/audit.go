package store

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/filehub/authd/internal/enum"
)

// AuditEntry is one row of the auth_audit_log table, scoped to the
// auth-relevant events internal/audit's middleware emits (login, refresh,
// logout, terminate, lockout, permission-denied) — narrower than the
// teacher's KV-CRUD audit entry.
type AuditEntry struct {
	ID        int64            `json:"id" db:"id"`
	Timestamp time.Time        `json:"timestamp" db:"timestamp"`
	Action    enum.AuditAction `json:"action" db:"action"`
	Actor     string           `json:"actor" db:"actor"`
	ActorType enum.ActorType   `json:"actor_type" db:"actor_type"`
	Result    enum.AuditResult `json:"result" db:"result"`
	SessionID string           `json:"session_id,omitempty" db:"session_id"`
	IP        string           `json:"ip,omitempty" db:"ip"`
	UserAgent string           `json:"user_agent,omitempty" db:"user_agent"`
	Detail    string           `json:"detail,omitempty" db:"detail"`
	RequestID string           `json:"request_id,omitempty" db:"request_id"`
}

// AuditQuery filters audit_log reads, mirroring
// app_teacher_ref/store/audit.go's AuditQuery shape minus the key-prefix
// filter this domain has no equivalent for. ActorType/Action/Result are
// taken as their wire string form so an empty string unambiguously means
// "no filter" — unlike the enum types, whose zero value is itself a valid
// filter value (ActorUser, AuditActionLogin, AuditResultSuccess).
type AuditQuery struct {
	Actor     string
	ActorType string
	Action    string
	Result    string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// LogAudit inserts an audit entry.
func (s *Store) LogAudit(ctx context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery(`
		INSERT INTO auth_audit_log (timestamp, action, actor, actor_type, result, session_id, ip, user_agent, detail, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		entry.Timestamp.Format(time.RFC3339),
		entry.Action.String(),
		entry.Actor,
		entry.ActorType.String(),
		entry.Result.String(),
		entry.SessionID,
		entry.IP,
		entry.UserAgent,
		entry.Detail,
		entry.RequestID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// auditRow scans auth_audit_log rows (string-typed enum columns, nullable
// text columns), mirroring the teacher's auditRow/toAuditEntry split.
type auditRow struct {
	ID        int64   `db:"id"`
	Timestamp string  `db:"timestamp"`
	Action    string  `db:"action"`
	Actor     string  `db:"actor"`
	ActorType string  `db:"actor_type"`
	Result    string  `db:"result"`
	SessionID *string `db:"session_id"`
	IP        *string `db:"ip"`
	UserAgent *string `db:"user_agent"`
	Detail    *string `db:"detail"`
	RequestID *string `db:"request_id"`
}

func (r auditRow) toEntry() AuditEntry {
	ts, err := time.Parse(time.RFC3339, r.Timestamp)
	if err != nil {
		log.Printf("[WARN] failed to parse audit timestamp %q: %v", r.Timestamp, err)
	}
	action, err := enum.ParseAuditAction(r.Action)
	if err != nil {
		log.Printf("[WARN] failed to parse audit action %q: %v", r.Action, err)
	}
	actorType, err := enum.ParseActorType(r.ActorType)
	if err != nil {
		log.Printf("[WARN] failed to parse audit actor_type %q: %v", r.ActorType, err)
	}
	result, err := enum.ParseAuditResult(r.Result)
	if err != nil {
		log.Printf("[WARN] failed to parse audit result %q: %v", r.Result, err)
	}

	e := AuditEntry{
		ID:        r.ID,
		Timestamp: ts,
		Action:    action,
		Actor:     r.Actor,
		ActorType: actorType,
		Result:    result,
	}
	if r.SessionID != nil {
		e.SessionID = *r.SessionID
	}
	if r.IP != nil {
		e.IP = *r.IP
	}
	if r.UserAgent != nil {
		e.UserAgent = *r.UserAgent
	}
	if r.Detail != nil {
		e.Detail = *r.Detail
	}
	if r.RequestID != nil {
		e.RequestID = *r.RequestID
	}
	return e
}

// QueryAudit retrieves audit entries matching q, newest first, plus the
// total count ignoring limit/offset (for pagination), mirroring the
// teacher's QueryAudit dynamic-WHERE-clause construction.
func (s *Store) QueryAudit(ctx context.Context, q AuditQuery) ([]AuditEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conditions []string
	var args []any

	if q.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, q.Actor)
	}
	if q.ActorType != "" {
		conditions = append(conditions, "actor_type = ?")
		args = append(args, q.ActorType)
	}
	if q.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, q.Action)
	}
	if q.Result != "" {
		conditions = append(conditions, "result = ?")
		args = append(args, q.Result)
	}
	if !q.From.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, q.From.Format(time.RFC3339))
	}
	if !q.To.IsZero() {
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, q.To.Format(time.RFC3339))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE "
		for i, c := range conditions {
			if i > 0 {
				whereClause += " AND "
			}
			whereClause += c
		}
	}

	countQuery := s.adoptQuery("SELECT COUNT(*) FROM auth_audit_log" + whereClause)
	var total int
	if err := s.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10000
	}
	selectQuery := s.adoptQuery(`SELECT id, timestamp, action, actor, actor_type, result, session_id, ip, user_agent, detail, request_id
		FROM auth_audit_log` + whereClause + ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`)
	selectArgs := append(append([]any{}, args...), limit, q.Offset)

	rows, err := s.db.QueryxContext(ctx, selectQuery, selectArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var r auditRow
		if err := rows.StructScan(&r); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, r.toEntry())
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating audit rows: %w", err)
	}

	return entries, total, nil
}

// DeleteAuditOlderThan removes audit entries older than the cutoff,
// returning the number of rows deleted.
func (s *Store) DeleteAuditOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("DELETE FROM auth_audit_log WHERE timestamp < ?")
	result, err := s.db.ExecContext(ctx, query, olderThan.Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit entries: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if count > 0 {
		log.Printf("[DEBUG] deleted %d audit entries older than %s", count, olderThan.Format(time.RFC3339))
	}
	return count, nil
}
