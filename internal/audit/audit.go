// Package audit logs and serves the auth-relevant events spec §1 carves out
// of the out-of-scope "notification/audit persistence" line (login, refresh,
// logout, terminate, lockout, permission-denied), grounded on
// app_teacher_ref/server/audit.go's auditor/AuditHandler split — narrowed to
// this domain's fixed, small action set. Each call site already knows the
// outcome and actor it wants to record (unlike the teacher's single
// generic method/path-derived middleware), so Logger is invoked directly
// from httpapi's handlers rather than wrapping them.
package audit

import (
	"context"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/filehub/authd/internal/enum"
	"github.com/filehub/authd/internal/store"
)

// Logger writes auth-relevant audit entries, the sole write path into
// auth_audit_log.
type Logger struct {
	store *store.Store
}

func NewLogger(s *store.Store) *Logger {
	return &Logger{store: s}
}

// Event is everything the caller knows about one auth-relevant occurrence;
// Logger fills in the timestamp.
type Event struct {
	Action    enum.AuditAction
	Actor     string
	ActorType enum.ActorType
	Result    enum.AuditResult
	SessionID string
	IP        string
	UserAgent string
	Detail    string
	RequestID string
}

// Log persists one event, logging (not returning) a failure the way
// app_teacher_ref/server/audit.go's Middleware does — a caller mid-response
// has nothing useful to do with an audit-write error.
func (l *Logger) Log(ctx context.Context, ev Event) {
	entry := store.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    ev.Action,
		Actor:     ev.Actor,
		ActorType: ev.ActorType,
		Result:    ev.Result,
		SessionID: ev.SessionID,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		Detail:    ev.Detail,
		RequestID: ev.RequestID,
	}
	if err := l.store.LogAudit(ctx, entry); err != nil {
		log.Printf("[WARN] failed to log audit entry: %v", err)
	}
}
