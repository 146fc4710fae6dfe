package seat

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/go-pkgz/lgr"
)

// InProcess is the single mutual-exclusion-guarded strategy of spec §4.3:
// "pool state guarded by a single mutual-exclusion primitive; acquire/release
// is a critical section on the allocated set." Grounded on the teacher's
// own single-writer discipline for SQLite (internal/store's RWLocker) —
// generalized here to guard an in-memory map instead of a database handle.
type InProcess struct {
	mu            sync.Mutex
	total         int
	adminReserved int
	allocated     map[string]string // userKey -> sessionID ("" until BindSession)
}

func NewInProcess(total, adminReserved int) *InProcess {
	return &InProcess{
		total:         total,
		adminReserved: adminReserved,
		allocated:     make(map[string]string),
	}
}

func (a *InProcess) TryAllocate(_ context.Context, userKey string, isAdmin bool) (Decision, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.allocated[userKey]; ok {
		return Decision{Granted: true}, nil // idempotent re-acquire, spec §4.3
	}

	current := len(a.allocated)
	capacity := a.total - current
	if !isAdmin {
		capacity = a.total - current - a.adminReserved
		if capacity < 0 {
			capacity = 0
		}
	}

	if capacity > 0 {
		a.allocated[userKey] = ""
		return Decision{Granted: true}, nil
	}
	if isAdmin && a.total > current {
		a.allocated[userKey] = ""
		return Decision{Granted: true}, nil
	}
	if isAdmin {
		return Decision{Granted: false, Reason: "pool full"}, nil
	}
	if current >= a.total && a.adminReserved < a.total {
		return Decision{Granted: false, Reason: "pool full"}, nil
	}
	return Decision{Granted: false, Reason: "reserved"}, nil
}

func (a *InProcess) BindSession(_ context.Context, userKey, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.allocated[userKey]; ok {
		a.allocated[userKey] = sessionID
	}
	return nil
}

// Release is a warning + success when userKey isn't allocated, per spec §5's
// idempotency table.
func (a *InProcess) Release(_ context.Context, userKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.allocated[userKey]; !ok {
		log.Printf("[WARN] seat release for unallocated key %q", userKey)
		return nil
	}
	delete(a.allocated, userKey)
	return nil
}

func (a *InProcess) Snapshot(_ context.Context) (PoolState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return PoolState{TotalSeats: a.total, AdminReserved: a.adminReserved, Allocated: len(a.allocated)}, nil
}

func (a *InProcess) SetTotal(_ context.Context, n int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = n
	return nil
}

func (a *InProcess) SetAdminReserved(_ context.Context, k int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.adminReserved = k
	return nil
}

// Seed populates allocated directly from entries already active in the
// Session Store, bypassing the capacity check TryAllocate would otherwise
// apply — these sessions already hold their seats, this call is recovering
// that fact into a freshly constructed allocator, not making a new
// admission decision. Must run before any TryAllocate is served, per spec
// §4.3's startup recovery step.
func (a *InProcess) Seed(_ context.Context, entries []SeedEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range entries {
		a.allocated[e.UserKey] = e.SessionID
	}
	return nil
}

// driftDetail is the structured JSON shape for pool_snapshots.drift_detail,
// supplemented from original_source/filehub-auth/src/seat/reconciler.rs
// (see SPEC_FULL.md's SUPPLEMENTED FEATURES section).
type driftDetail struct {
	AllocatorCount int    `json:"allocator_count"`
	StoreCount     int    `json:"store_count"`
	Strategy       string `json:"strategy"`
}

// Reconcile implements the §9 Open Question decision: reset-while-tracking.
// Rather than clearing the allocated map (the original's behavior, which
// momentarily under-counts held seats), it logs drift and leaves the map's
// keys intact — those keys are still backed by a real session the Session
// Store confirms is active, so forgetting them would let a concurrent login
// acquire a seat that is, in truth, still held. The drift figure itself is
// informational; the authoritative count for admission decisions remains
// len(allocated), which this call deliberately does not rewrite.
func (a *InProcess) Reconcile(_ context.Context, activeInStore int) (bool, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current := len(a.allocated)
	drift := current != activeInStore
	if drift {
		log.Printf("[WARN] seat pool drift: allocator=%d store=%d", current, activeInStore)
	}

	detail, err := json.Marshal(driftDetail{
		AllocatorCount: current,
		StoreCount:     activeInStore,
		Strategy:       "in_process",
	})
	if err != nil {
		return drift, "", err
	}
	return drift, string(detail), nil
}
