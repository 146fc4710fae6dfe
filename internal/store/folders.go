package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Folder is the minimal resource-graph row C7's inherited-ACL walk needs:
// just enough to answer "what owns this, and what's its parent" for files
// and folders. Full folder/file metadata (name, storage location, byte
// content) lives in the file-management system's storage layer, which spec
// §1 places out of scope; this table exists only so the Permission Resolver
// has something concrete to walk in tests and in a real deployment would be
// a view/foreign read against that external system.
type Folder struct {
	ID           string         `db:"id"`
	ParentID     sql.NullString `db:"parent_id"`
	OwnerID      string         `db:"owner_id"`
}

// ensureFolderSchema is called lazily since folders are a resource-graph
// convenience, not part of the core auth schema migration.
func (s *Store) ensureFolderSchema(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var schema string
	if s.dbType == DBTypePostgres {
		schema = `CREATE TABLE IF NOT EXISTS folders (
			id TEXT PRIMARY KEY,
			parent_id TEXT,
			owner_id TEXT NOT NULL
		)`
	} else {
		schema = `CREATE TABLE IF NOT EXISTS folders (
			id TEXT PRIMARY KEY,
			parent_id TEXT,
			owner_id TEXT NOT NULL
		)`
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create folders table: %w", err)
	}
	return nil
}

// UpsertFolder records (or updates) a folder's owner/parent pointer.
func (s *Store) UpsertFolder(ctx context.Context, f Folder) error {
	if err := s.ensureFolderSchema(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := s.adoptQuery(`INSERT INTO folders (id, parent_id, owner_id) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET parent_id = excluded.parent_id, owner_id = excluded.owner_id`)
	if _, err := s.db.ExecContext(ctx, query, f.ID, f.ParentID, f.OwnerID); err != nil {
		return fmt.Errorf("failed to upsert folder %q: %w", f.ID, err)
	}
	return nil
}

// GetFolder fetches a folder's owner/parent pointer, ErrNotFound otherwise.
func (s *Store) GetFolder(ctx context.Context, id string) (Folder, error) {
	if err := s.ensureFolderSchema(ctx); err != nil {
		return Folder{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var f Folder
	query := s.adoptQuery("SELECT * FROM folders WHERE id = ?")
	if err := s.db.GetContext(ctx, &f, query, id); err != nil {
		if isNoRows(err) {
			return Folder{}, ErrNotFound
		}
		return Folder{}, fmt.Errorf("failed to get folder %q: %w", id, err)
	}
	return f, nil
}
