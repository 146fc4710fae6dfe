package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Share is the spec §3 Share entity.
type Share struct {
	ID            string         `db:"id"`
	ShareType     string         `db:"share_type"`
	ResourceType  string         `db:"resource_type"`
	ResourceID    string         `db:"resource_id"`
	CreatedBy     string         `db:"created_by"`
	Token         sql.NullString `db:"token"`
	PasswordHash  sql.NullString `db:"password_hash"`
	SharedWith    sql.NullString `db:"shared_with"`
	Permission    string         `db:"permission"`
	AllowDownload bool           `db:"allow_download"`
	MaxDownloads  sql.NullInt64  `db:"max_downloads"`
	DownloadCount int            `db:"download_count"`
	ExpiresAt     sql.NullTime   `db:"expires_at"`
	IsActive      bool           `db:"is_active"`
	CreatedAt     time.Time      `db:"created_at"`
}

// IsLive implements spec §3's Share invariant: "grants access iff is_active
// ∧ now < expires_at ∧ download_count < max_downloads".
func (sh Share) IsLive(now time.Time) bool {
	if !sh.IsActive {
		return false
	}
	if sh.ExpiresAt.Valid && !now.Before(sh.ExpiresAt.Time) {
		return false
	}
	if sh.MaxDownloads.Valid && int64(sh.DownloadCount) >= sh.MaxDownloads.Int64 {
		return false
	}
	return true
}

// CreateShare inserts a new share row.
func (s *Store) CreateShare(ctx context.Context, sh Share) (Share, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sh.ID == "" {
		sh.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	query := s.adoptQuery(`INSERT INTO shares
		(id, share_type, resource_type, resource_id, created_by, token, password_hash,
		 shared_with, permission, allow_download, max_downloads, download_count, expires_at, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, sh.ID, sh.ShareType, sh.ResourceType, sh.ResourceID, sh.CreatedBy,
		sh.Token, sh.PasswordHash, sh.SharedWith, sh.Permission, sh.AllowDownload, sh.MaxDownloads, 0,
		sh.ExpiresAt, true, now)
	if err != nil {
		return Share{}, fmt.Errorf("failed to create share: %w", err)
	}
	sh.CreatedAt = now
	sh.IsActive = true
	sh.DownloadCount = 0
	return sh, nil
}

// GetShareByToken fetches a share by its public token, ErrNotFound
// otherwise.
func (s *Store) GetShareByToken(ctx context.Context, token string) (Share, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sh Share
	query := s.adoptQuery("SELECT * FROM shares WHERE token = ?")
	if err := s.db.GetContext(ctx, &sh, query, token); err != nil {
		if isNoRows(err) {
			return Share{}, ErrNotFound
		}
		return Share{}, fmt.Errorf("failed to get share by token: %w", err)
	}
	return sh, nil
}

// IncrementDownloadCount bumps download_count by one, used when a share's
// allow_download path is exercised.
func (s *Store) IncrementDownloadCount(ctx context.Context, shareID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("UPDATE shares SET download_count = download_count + 1 WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, shareID); err != nil {
		return fmt.Errorf("failed to increment download count for share %q: %w", shareID, err)
	}
	return nil
}

// DeactivateShare marks a share inactive (revocation).
func (s *Store) DeactivateShare(ctx context.Context, shareID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("UPDATE shares SET is_active = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, false, shareID); err != nil {
		return fmt.Errorf("failed to deactivate share %q: %w", shareID, err)
	}
	return nil
}
