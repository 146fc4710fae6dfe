package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PoolSnapshot is the spec §6 snapshot schema row, persisted on every
// reconciliation cycle and whenever drift is detected (spec §4.3).
// DriftDetail carries the structured JSON supplemented from
// original_source/filehub-auth/src/seat/reconciler.rs (see SPEC_FULL.md).
type PoolSnapshot struct {
	ID             int64          `db:"id"`
	TotalSeats     int            `db:"total_seats"`
	CheckedOut     int            `db:"checked_out"`
	Available      int            `db:"available"`
	AdminReserved  int            `db:"admin_reserved"`
	ActiveSessions int            `db:"active_sessions"`
	DriftDetected  bool           `db:"drift_detected"`
	DriftDetail    sql.NullString `db:"drift_detail"`
	Source         string         `db:"source"`
	CreatedAt      time.Time      `db:"created_at"`
}

// RecordSnapshot inserts a pool snapshot row (C9 Reconciler).
func (s *Store) RecordSnapshot(ctx context.Context, snap PoolSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery(`INSERT INTO pool_snapshots
		(total_seats, checked_out, available, admin_reserved, active_sessions, drift_detected, drift_detail, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, snap.TotalSeats, snap.CheckedOut, snap.Available,
		snap.AdminReserved, snap.ActiveSessions, snap.DriftDetected, snap.DriftDetail, snap.Source, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record pool snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recently recorded snapshot, ErrNotFound if
// none exist yet.
func (s *Store) LatestSnapshot(ctx context.Context) (PoolSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap PoolSnapshot
	query := s.adoptQuery("SELECT * FROM pool_snapshots ORDER BY created_at DESC LIMIT 1")
	if err := s.db.GetContext(ctx, &snap, query); err != nil {
		if isNoRows(err) {
			return PoolSnapshot{}, ErrNotFound
		}
		return PoolSnapshot{}, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}
