// Package termination implements C8, the Termination Channel: a broker of
// long-lived duplex connections keyed by session_id, pushing best-effort
// "session_terminated" notices. Generalized from
// app_teacher_ref/server/sse/sse.go's key-topic broker (tmaxmax/go-sse):
// that service fans one key change out to an exact-key topic plus every
// ancestor-prefix topic; here each session has exactly one topic (its own
// session_id), since termination targets one session and its one subscriber,
// not a tree of path prefixes.
package termination

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/tmaxmax/go-sse"
)

// GraceSeconds is the spec §4.8 default: clients get this long to finish
// in-flight work after receiving a termination notice before the server
// considers them gone.
const GraceSeconds = 5

// Notice is the spec §4.8 termination message shape.
type Notice struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	Reason        string `json:"reason"`
	TerminatedBy  string `json:"terminated_by,omitempty"`
	GraceSeconds  int    `json:"grace_seconds"`
}

// droppedPushes counts best-effort pushes that found no subscriber — spec
// §4.8 calls for a metrics increment on drop; wired here as a plain counter
// rather than a full metrics backend, since spec.md's Non-goals exclude an
// observability stack and the ambient logging already surfaces WARNs.
var droppedPushes int64

// DroppedPushes reports the best-effort-drop counter for a /metrics-style
// consumer to read.
func DroppedPushes() int64 { return droppedPushes }

// Channel is C8.
type Channel struct {
	server *sse.Server
}

func New() *Channel {
	c := &Channel{}
	c.server = &sse.Server{
		OnSession: c.onSession,
	}
	return c
}

// ServeHTTP handles a client's subscription to its own session's
// termination topic, identified by the {session_id} path value (mirrors
// app_teacher_ref/server/sse/sse.go's write-deadline extension for
// long-lived streaming).
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		if err2 := rc.SetWriteDeadline(time.Now().Add(24 * time.Hour)); err2 != nil {
			log.Printf("[DEBUG] termination channel: could not set write deadline: %v, %v", err, err2)
		}
	}
	c.server.ServeHTTP(w, r)
}

func (c *Channel) onSession(w http.ResponseWriter, r *http.Request) ([]string, bool) {
	sessionID := r.PathValue("session_id")
	if sessionID == "" {
		http.Error(w, "session_id required", http.StatusBadRequest)
		return nil, false
	}
	// Authorization that the caller's bearer token actually names this
	// session_id is enforced by internal/httpapi's middleware chain before
	// this handler runs; the channel itself only brokers by topic name.
	return []string{sessionID}, true
}

// Push sends a termination notice to session_id's subscriber, if any. Push
// is best-effort per spec §4.8: durability comes from the session's
// revoked state, not from delivery — a missed push just means the client
// finds out on its next request instead of immediately.
func (c *Channel) Push(sessionID, reason, terminatedBy string) {
	notice := Notice{
		Type:         "session_terminated",
		SessionID:    sessionID,
		Reason:       reason,
		TerminatedBy: terminatedBy,
		GraceSeconds: GraceSeconds,
	}
	data, err := json.Marshal(notice)
	if err != nil {
		log.Printf("[WARN] termination channel: failed to marshal notice: %v", err)
		return
	}

	msg := &sse.Message{}
	msg.AppendData(string(data))
	msg.Type = sse.Type("session_terminated")

	if err := c.server.Publish(msg, sessionID); err != nil {
		droppedPushes++
		log.Printf("[DEBUG] termination channel: no subscriber for session %s: %v", sessionID, err)
		return
	}
	log.Printf("[DEBUG] termination channel: pushed notice for session %s reason=%s", sessionID, reason)
}

// Shutdown gracefully drains the broker.
func (c *Channel) Shutdown(ctx context.Context) error {
	if err := c.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown termination channel: %w", err)
	}
	return nil
}
