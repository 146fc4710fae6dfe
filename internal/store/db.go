package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	_ "github.com/jackc/pgx/v5/stdlib" // postgresql driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// Store is the durable backing for C4 Session Store plus Users, ACL
// entries, Shares, and seat-pool Snapshots.
type Store struct {
	db     *sqlx.DB
	dbType DBType
	mu     RWLocker
	crypto *FieldCrypto
}

// SetFieldCrypto enables at-rest encryption of session IP/user-agent
// fields. Optional: a nil crypto (the default) leaves those fields in
// plaintext, matching deployments that don't supply a master key.
func (s *Store) SetFieldCrypto(c *FieldCrypto) {
	s.crypto = c
}

// encryptField encrypts a session PII field for storage, returning the
// input unchanged if no FieldCrypto is configured.
func (s *Store) encryptField(v string) (string, error) {
	if s.crypto == nil || v == "" {
		return v, nil
	}
	out, err := s.crypto.Encrypt([]byte(v))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt field: %w", err)
	}
	return string(out), nil
}

// decryptField reverses encryptField, logging (not failing) a decryption
// error — a row written before encryption was enabled, or under a rotated
// key, should still be readable rather than block the caller.
func (s *Store) decryptField(v string) string {
	if s.crypto == nil || v == "" {
		return v
	}
	out, err := s.crypto.Decrypt([]byte(v))
	if err != nil {
		log.Printf("[WARN] failed to decrypt session field: %v", err)
		return v
	}
	return string(out)
}

// New creates a Store, auto-detecting the dialect from the URL scheme
// exactly as app_teacher_ref/store/db.go's New/detectDBType does.
func New(dbURL string) (*Store, error) {
	dbType := detectDBType(dbURL)

	var db *sqlx.DB
	var err error
	var locker RWLocker

	switch dbType {
	case DBTypePostgres:
		db, err = connectPostgres(dbURL)
		locker = noopLocker{}
	default:
		db, err = connectSQLite(dbURL)
		locker = &sync.RWMutex{}
	}
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, dbType: dbType, mu: locker}

	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Printf("[DEBUG] initialized %s store", s.dbTypeName())
	return s, nil
}

func connectSQLite(dbPath string) (*sqlx.DB, error) {
	dbPath = strings.TrimPrefix(dbPath, "sqlite://")
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=1000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil { //nolint:noctx // init-time, no context available
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	db.SetMaxOpenConns(1) // single writer
	return db, nil
}

func connectPostgres(dbURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// createSchema creates the users, sessions, acl_entries, shares,
// session_limit_overrides, and pool_snapshots tables (spec §3, §6).
func (s *Store) createSchema() error {
	var schema string
	switch s.dbType {
	case DBTypePostgres:
		schema = `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				role TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				password_hash TEXT NOT NULL,
				failed_attempts INTEGER NOT NULL DEFAULT 0,
				locked_until TIMESTAMPTZ,
				last_login_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id),
				ip TEXT,
				user_agent TEXT,
				created_at TIMESTAMPTZ NOT NULL,
				expires_at TIMESTAMPTZ NOT NULL,
				last_activity TIMESTAMPTZ NOT NULL,
				terminated_at TIMESTAMPTZ,
				terminated_by TEXT,
				terminated_reason TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
			CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
			CREATE TABLE IF NOT EXISTS acl_entries (
				id TEXT PRIMARY KEY,
				resource_type TEXT NOT NULL,
				resource_id TEXT NOT NULL,
				principal TEXT NOT NULL,
				permission TEXT NOT NULL,
				inheritance TEXT NOT NULL,
				expires_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_acl_resource ON acl_entries(resource_type, resource_id);
			CREATE TABLE IF NOT EXISTS shares (
				id TEXT PRIMARY KEY,
				share_type TEXT NOT NULL,
				resource_type TEXT NOT NULL,
				resource_id TEXT NOT NULL,
				created_by TEXT NOT NULL,
				token TEXT,
				password_hash TEXT,
				shared_with TEXT,
				permission TEXT NOT NULL,
				allow_download BOOLEAN NOT NULL DEFAULT TRUE,
				max_downloads INTEGER,
				download_count INTEGER NOT NULL DEFAULT 0,
				expires_at TIMESTAMPTZ,
				is_active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS session_limit_overrides (
				user_id TEXT PRIMARY KEY,
				max_sessions INTEGER NOT NULL,
				reason TEXT,
				set_by TEXT,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS pool_snapshots (
				id SERIAL PRIMARY KEY,
				total_seats INTEGER NOT NULL,
				checked_out INTEGER NOT NULL,
				available INTEGER NOT NULL,
				admin_reserved INTEGER NOT NULL,
				active_sessions INTEGER NOT NULL,
				drift_detected BOOLEAN NOT NULL,
				drift_detail TEXT,
				source TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			);
			CREATE TABLE IF NOT EXISTS auth_audit_log (
				id SERIAL PRIMARY KEY,
				timestamp TIMESTAMPTZ NOT NULL,
				action TEXT NOT NULL,
				actor TEXT NOT NULL,
				actor_type TEXT NOT NULL,
				result TEXT NOT NULL DEFAULT 'success',
				session_id TEXT,
				ip TEXT,
				user_agent TEXT,
				detail TEXT,
				request_id TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_auth_audit_ts ON auth_audit_log(timestamp);
			CREATE INDEX IF NOT EXISTS idx_auth_audit_actor ON auth_audit_log(actor)`
	default:
		schema = `
			CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				role TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'active',
				password_hash TEXT NOT NULL,
				failed_attempts INTEGER NOT NULL DEFAULT 0,
				locked_until DATETIME,
				last_login_at DATETIME,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL REFERENCES users(id),
				ip TEXT,
				user_agent TEXT,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				last_activity DATETIME NOT NULL,
				terminated_at DATETIME,
				terminated_by TEXT,
				terminated_reason TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
			CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
			CREATE TABLE IF NOT EXISTS acl_entries (
				id TEXT PRIMARY KEY,
				resource_type TEXT NOT NULL,
				resource_id TEXT NOT NULL,
				principal TEXT NOT NULL,
				permission TEXT NOT NULL,
				inheritance TEXT NOT NULL,
				expires_at DATETIME,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE INDEX IF NOT EXISTS idx_acl_resource ON acl_entries(resource_type, resource_id);
			CREATE TABLE IF NOT EXISTS shares (
				id TEXT PRIMARY KEY,
				share_type TEXT NOT NULL,
				resource_type TEXT NOT NULL,
				resource_id TEXT NOT NULL,
				created_by TEXT NOT NULL,
				token TEXT,
				password_hash TEXT,
				shared_with TEXT,
				permission TEXT NOT NULL,
				allow_download BOOLEAN NOT NULL DEFAULT 1,
				max_downloads INTEGER,
				download_count INTEGER NOT NULL DEFAULT 0,
				expires_at DATETIME,
				is_active BOOLEAN NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE TABLE IF NOT EXISTS session_limit_overrides (
				user_id TEXT PRIMARY KEY,
				max_sessions INTEGER NOT NULL,
				reason TEXT,
				set_by TEXT,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE TABLE IF NOT EXISTS pool_snapshots (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				total_seats INTEGER NOT NULL,
				checked_out INTEGER NOT NULL,
				available INTEGER NOT NULL,
				admin_reserved INTEGER NOT NULL,
				active_sessions INTEGER NOT NULL,
				drift_detected BOOLEAN NOT NULL,
				drift_detail TEXT,
				source TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE TABLE IF NOT EXISTS auth_audit_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp TEXT NOT NULL,
				action TEXT NOT NULL,
				actor TEXT NOT NULL,
				actor_type TEXT NOT NULL,
				result TEXT NOT NULL DEFAULT 'success',
				session_id TEXT,
				ip TEXT,
				user_agent TEXT,
				detail TEXT,
				request_id TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_auth_audit_ts ON auth_audit_log(timestamp);
			CREATE INDEX IF NOT EXISTS idx_auth_audit_actor ON auth_audit_log(actor)`
	}

	for _, stmt := range strings.Split(schema, ";") {
		q := strings.TrimSpace(stmt)
		if q == "" {
			continue
		}
		if _, err := s.db.Exec(q); err != nil { //nolint:noctx // init-time, no context available
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

func (s *Store) dbTypeName() string {
	if s.dbType == DBTypePostgres {
		return "postgres"
	}
	return "sqlite"
}

// adoptQuery rewrites `?` placeholders to `$1, $2, ...` for Postgres, kept
// near-verbatim from app_teacher_ref/store/db.go's adoptQuery.
func (s *Store) adoptQuery(query string) string {
	if s.dbType != DBTypePostgres {
		return query
	}
	result := make([]byte, 0, len(query)+10)
	paramNum := 1
	for i := range len(query) {
		if query[i] != '?' {
			result = append(result, query[i])
			continue
		}
		result = append(result, '$')
		result = append(result, strconv.Itoa(paramNum)...)
		paramNum++
	}
	return string(result)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func isNoRows(err error) bool {
	return err == sql.ErrNoRows
}
