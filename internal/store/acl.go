package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AnyonePrincipal is the wildcard principal value for public ACL grants
// (spec §3: "principal is either a user_id or the wildcard anyone").
const AnyonePrincipal = "anyone"

// ACLEntry is the spec §3 ACL Entry.
type ACLEntry struct {
	ID           string       `db:"id"`
	ResourceType string       `db:"resource_type"`
	ResourceID   string       `db:"resource_id"`
	Principal    string       `db:"principal"`
	Permission   string       `db:"permission"`
	Inheritance  string       `db:"inheritance"`
	ExpiresAt    sql.NullTime `db:"expires_at"`
	CreatedAt    time.Time    `db:"created_at"`
}

// IsLive implements the ACL Entry invariant: "grants permission iff now <
// expires_at (or expires_at is null)".
func (e ACLEntry) IsLive(now time.Time) bool {
	return !e.ExpiresAt.Valid || now.Before(e.ExpiresAt.Time)
}

// CreateACLEntry inserts a new ACL entry, generating its id.
func (s *Store) CreateACLEntry(ctx context.Context, e ACLEntry) (ACLEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	query := s.adoptQuery(`INSERT INTO acl_entries
		(id, resource_type, resource_id, principal, permission, inheritance, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, e.ID, e.ResourceType, e.ResourceID, e.Principal,
		e.Permission, e.Inheritance, e.ExpiresAt, now)
	if err != nil {
		return ACLEntry{}, fmt.Errorf("failed to create acl entry: %w", err)
	}
	e.CreatedAt = now
	return e, nil
}

// DeleteACLEntry removes an ACL entry by id (soft-delete by removal, per
// spec §3's ACL Entry lifecycle line).
func (s *Store) DeleteACLEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery("DELETE FROM acl_entries WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete acl entry %q: %w", id, err)
	}
	return nil
}

// ListACLForResource returns every non-expired and expired entry for one
// resource matching userID or the anyone wildcard; filtering by liveness is
// left to the caller (internal/permission) since spec §4.7 step 3/4
// distinguishes matched-but-expired from matched-and-live explicitly.
func (s *Store) ListACLForResource(ctx context.Context, resourceType, resourceID, userID string) ([]ACLEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := s.adoptQuery(`SELECT * FROM acl_entries
		WHERE resource_type = ? AND resource_id = ? AND (principal = ? OR principal = ?)`)
	var entries []ACLEntry
	if err := s.db.SelectContext(ctx, &entries, query, resourceType, resourceID, userID, AnyonePrincipal); err != nil {
		return nil, fmt.Errorf("failed to list acl entries for %s/%s: %w", resourceType, resourceID, err)
	}
	return entries, nil
}
