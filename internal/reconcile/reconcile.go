// Package reconcile implements C9, the Reconciler & Cleanup cooperative
// tasks: a periodic expired-session sweep (full termination path) and a
// periodic drift check against the Seat Allocator. Goroutine+ticker+
// shutdown-signal shape kept near-verbatim from
// app_teacher_ref/server/auth/auth.go's startCleanup/startWatcher.
package reconcile

import (
	"context"
	"fmt"
	"time"

	log "github.com/go-pkgz/lgr"

	"github.com/filehub/authd/internal/seat"
	"github.com/filehub/authd/internal/sessionmgr"
	"github.com/filehub/authd/internal/store"
)

// Config holds the two interval knobs spec §6 names.
type Config struct {
	CleanupInterval   time.Duration // default 15m
	ReconcileInterval time.Duration // default 60s
	IdleTimeout       time.Duration
}

func DefaultConfig() Config {
	return Config{
		CleanupInterval:   15 * time.Minute,
		ReconcileInterval: 60 * time.Second,
		IdleTimeout:       30 * time.Minute,
	}
}

// Runner owns the two cooperative tasks.
type Runner struct {
	store     *store.Store
	allocator seat.Allocator
	manager   *sessionmgr.Manager
	cfg       Config
}

func New(s *store.Store, a seat.Allocator, mgr *sessionmgr.Manager, cfg Config) *Runner {
	return &Runner{store: s, allocator: a, manager: mgr, cfg: cfg}
}

// Start seeds the allocator from every session the Session Store already
// considers active, launches Cleanup and Reconciler as background
// goroutines, and runs one Reconcile pass synchronously first (spec §4.3's
// "Startup recovery: on process start, call reconcile(count_all_active())
// before serving any login request"). Seeding must precede that first
// Reconcile call: a freshly constructed allocator's live set is empty, and
// Reconcile only compares counts and logs drift — it never rewrites the
// allocator's state — so without seeding, a restart with N pre-existing
// active sessions would leave the allocator free to admit total_seats new
// logins on top of those N, violating invariant 1 (|allocated| ≤
// total_seats).
func (r *Runner) Start(ctx context.Context) error {
	if err := r.seedAllocator(ctx); err != nil {
		return err
	}
	if err := r.reconcileOnce(ctx); err != nil {
		return err
	}
	r.startCleanup(ctx)
	r.startReconciler(ctx)
	return nil
}

// seedAllocator lists every currently-active session and hands the
// allocator each one's (user id, session id) pair directly, so the
// allocator's live set reflects reality before the first admission
// decision or Reconcile call.
func (r *Runner) seedAllocator(ctx context.Context) error {
	active, err := r.store.ListActiveAll(ctx, "", r.cfg.IdleTimeout)
	if err != nil {
		return fmt.Errorf("list active sessions for seat seed: %w", err)
	}
	if len(active) == 0 {
		return nil
	}
	entries := make([]seat.SeedEntry, len(active))
	for i, sess := range active {
		entries[i] = seat.SeedEntry{UserKey: sess.UserID, SessionID: sess.ID}
	}
	if err := r.allocator.Seed(ctx, entries); err != nil {
		return fmt.Errorf("seed seat allocator: %w", err)
	}
	log.Printf("[INFO] seeded seat allocator with %d pre-existing active sessions", len(entries))
	return nil
}

// startCleanup runs the expired-session sweep every CleanupInterval,
// terminating each expired session through the full termination path
// (blocklist + seat release + store terminate) with reason
// "absolute_timeout" or "idle_timeout" per spec §4.9.
func (r *Runner) startCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Printf("[INFO] session cleanup stopped")
				return
			case <-ticker.C:
				r.runCleanupPass(ctx)
			}
		}
	}()

	log.Printf("[INFO] session cleanup started (interval: %s)", r.cfg.CleanupInterval)
}

func (r *Runner) runCleanupPass(ctx context.Context) {
	expired, err := r.store.FindExpired(ctx, r.cfg.IdleTimeout)
	if err != nil {
		log.Printf("[WARN] failed to list expired sessions: %v", err)
		return
	}
	var swept int
	now := time.Now().UTC()
	for _, sess := range expired {
		reason := "idle_timeout"
		if !now.Before(sess.ExpiresAt) {
			reason = "absolute_timeout"
		}
		if _, err := r.manager.Terminate(ctx, sess.ID, "system", reason); err != nil {
			log.Printf("[WARN] failed to terminate expired session %s: %v", sess.ID, err)
			continue
		}
		swept++
	}
	if swept > 0 {
		log.Printf("[INFO] cleaned up %d expired sessions", swept)
	}
}

// startReconciler runs the drift check every ReconcileInterval.
func (r *Runner) startReconciler(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.ReconcileInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Printf("[INFO] seat reconciler stopped")
				return
			case <-ticker.C:
				if err := r.reconcileOnce(ctx); err != nil {
					log.Printf("[WARN] reconcile pass failed: %v", err)
				}
			}
		}
	}()

	log.Printf("[INFO] seat reconciler started (interval: %s)", r.cfg.ReconcileInterval)
}

// reconcileOnce calls C4.count_all_active() and C3.reconcile(...), and
// writes a snapshot row whether or not drift was detected, per spec §4.9.
func (r *Runner) reconcileOnce(ctx context.Context) error {
	n, err := r.store.CountAllActive(ctx, r.cfg.IdleTimeout)
	if err != nil {
		return err
	}

	drift, detail, err := r.allocator.Reconcile(ctx, n)
	if err != nil {
		return err
	}

	poolState, err := r.allocator.Snapshot(ctx)
	if err != nil {
		return err
	}

	available := poolState.TotalSeats - poolState.Allocated
	if available < 0 {
		available = 0
	}

	snap := store.PoolSnapshot{
		TotalSeats:     poolState.TotalSeats,
		CheckedOut:     poolState.Allocated,
		Available:      available,
		AdminReserved:  poolState.AdminReserved,
		ActiveSessions: n,
		DriftDetected:  drift,
		Source:         "reconciler",
	}
	if detail != "" {
		snap.DriftDetail.String = detail
		snap.DriftDetail.Valid = true
	}
	if err := r.store.RecordSnapshot(ctx, snap); err != nil {
		return err
	}

	return nil
}
