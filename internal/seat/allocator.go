// Package seat implements C3, the Seat Allocator: atomic acquire/release
// against a finite concurrent-session pool with an admin reservation, behind
// a single pluggable interface with two interchangeable strategies (in-process
// mutex-guarded map, or a Redis Lua-scripted shared external pool), per spec
// §4.3 and §9's "enumerated allocator_strategy config and a trait object
// whose concrete type is chosen at startup."
package seat

import "context"

// Decision is the result of a TryAllocate call.
type Decision struct {
	Granted bool
	Reason  string // "reserved" | "pool full", only meaningful when !Granted
}

// PoolState is the spec §3 Seat Pool State snapshot.
type PoolState struct {
	TotalSeats    int
	AdminReserved int
	Allocated     int
}

// SeedEntry describes one session that was already active in the Session
// Store before this process started.
type SeedEntry struct {
	UserKey   string
	SessionID string
}

// Allocator is the single trait both strategies satisfy (spec §4.3, §9).
type Allocator interface {
	TryAllocate(ctx context.Context, userKey string, isAdmin bool) (Decision, error)
	// BindSession records the session id a just-granted allocation belongs
	// to, once the Session Manager has created the session row. Not part of
	// spec.md's literal try_allocate signature (which precedes session
	// creation, per §4.6's login pseudocode) but needed so reconcile can
	// track (key → session_id) per the §9 Open Question decision — see
	// DESIGN.md.
	BindSession(ctx context.Context, userKey, sessionID string) error
	Release(ctx context.Context, userKey string) error
	Snapshot(ctx context.Context) (PoolState, error)
	SetTotal(ctx context.Context, n int) error
	SetAdminReserved(ctx context.Context, k int) error
	// Seed populates the allocator's live state from entries that are
	// already active in the Session Store, before any admission decision is
	// served. Spec §4.3's startup recovery step ("call reconcile(...) before
	// serving any login request") only corrects the *count* a fresh
	// allocator reports; without Seed a fresh in-process allocator's
	// allocated set is empty regardless of what Reconcile observes, so it
	// would admit total_seats new logins on top of whatever was already
	// active. Seed is idempotent per entry (duplicate UserKeys are a no-op,
	// matching TryAllocate's own idempotent-reacquire behavior).
	Seed(ctx context.Context, entries []SeedEntry) error
	// Reconcile compares the allocator's live count against activeInStore,
	// the Session Store's authoritative count (spec §4.3's N) and logs
	// drift. It does not persist a snapshot; the caller records one. Returns
	// whether drift was detected and a structured detail string (JSON) for
	// the snapshot row's drift_detail column.
	Reconcile(ctx context.Context, activeInStore int) (driftDetected bool, detail string, err error)
}
