package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehub/authd/internal/enum"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, id string) User {
	t.Helper()
	u := User{
		ID:           id,
		Username:     id + "-user",
		Role:         enum.RoleViewer.String(),
		Status:       enum.StatusActive.String(),
		PasswordHash: "hash",
	}
	require.NoError(t, s.CreateUser(t.Context(), u))
	return u
}

func TestCreateSession_FindActive(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")

	in := NewSession{ID: "sess1", UserID: "u1", IP: "10.0.0.1", UserAgent: "curl/8", ExpiresAt: time.Now().Add(time.Hour)}
	created, err := s.CreateSession(t.Context(), in)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", created.IP.String)

	got, err := s.FindActive(t.Context(), "sess1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "sess1", got.ID)
	assert.Equal(t, "10.0.0.1", got.IP.String)
	assert.Equal(t, "curl/8", got.UserAgent.String)
}

func TestFindActive_NotFoundWhenMissing(t *testing.T) {
	s := testStore(t)
	_, err := s.FindActive(t.Context(), "missing", time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindActive_ExpiredIsNotFound(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")
	_, err := s.CreateSession(t.Context(), NewSession{
		ID: "sess-exp", UserID: "u1", ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	_, err = s.FindActive(t.Context(), "sess-exp", time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindActive_IdleTimeoutExpiresSession(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")
	_, err := s.CreateSession(t.Context(), NewSession{
		ID: "sess-idle", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// last_activity was just set to now, so an idle timeout of 0 should
	// immediately disqualify it.
	_, err = s.FindActive(t.Context(), "sess-idle", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTouch_UpdatesLastActivityAndIsNoopWhenTerminated(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")
	_, err := s.CreateSession(t.Context(), NewSession{ID: "sess1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	later := time.Now().Add(time.Minute).UTC()
	require.NoError(t, s.Touch(t.Context(), "sess1", later))

	sess, err := s.GetSession(t.Context(), "sess1")
	require.NoError(t, err)
	assert.WithinDuration(t, later, sess.LastActivity, time.Second)

	_, err = s.Terminate(t.Context(), "sess1", "u1", "logout")
	require.NoError(t, err)

	// terminated sessions aren't touched, but this call must not error
	require.NoError(t, s.Touch(t.Context(), "sess1", time.Now().Add(time.Hour).UTC()))
	sess2, err := s.GetSession(t.Context(), "sess1")
	require.NoError(t, err)
	assert.WithinDuration(t, later, sess2.LastActivity, time.Second, "touch after termination must be a no-op")
}

func TestTerminate_IdempotentAndNotFound(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")
	_, err := s.CreateSession(t.Context(), NewSession{ID: "sess1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	already, err := s.Terminate(t.Context(), "sess1", "u1", "logout")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = s.Terminate(t.Context(), "sess1", "u1", "logout-again")
	require.NoError(t, err)
	assert.True(t, already, "terminating twice should report alreadyTerminated=true, not error")

	_, err = s.Terminate(t.Context(), "does-not-exist", "u1", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindExpired(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")
	_, err := s.CreateSession(t.Context(), NewSession{ID: "live", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.CreateSession(t.Context(), NewSession{ID: "dead", UserID: "u1", ExpiresAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	expired, err := s.FindExpired(t.Context(), time.Hour)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "dead", expired[0].ID)
}

func TestCountAllActiveAndCountForUser(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")
	_, err := s.CreateSession(t.Context(), NewSession{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.CreateSession(t.Context(), NewSession{ID: "s2", UserID: "u2", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	total, err := s.CountAllActive(t.Context(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	forU1, err := s.CountForUser(t.Context(), "u1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, forU1)
}

func TestListForUser_ActiveOnlyFilter(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")
	_, err := s.CreateSession(t.Context(), NewSession{ID: "active", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.CreateSession(t.Context(), NewSession{ID: "terminated", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.Terminate(t.Context(), "terminated", "u1", "logout")
	require.NoError(t, err)

	all, err := s.ListForUser(t.Context(), "u1", false, time.Hour)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	activeOnly, err := s.ListForUser(t.Context(), "u1", true, time.Hour)
	require.NoError(t, err)
	require.Len(t, activeOnly, 1)
	assert.Equal(t, "active", activeOnly[0].ID)
}

func TestListActiveAll_OptionalUserFilter(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")
	seedUser(t, s, "u2")
	_, err := s.CreateSession(t.Context(), NewSession{ID: "s1", UserID: "u1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	_, err = s.CreateSession(t.Context(), NewSession{ID: "s2", UserID: "u2", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	all, err := s.ListActiveAll(t.Context(), "", time.Hour)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := s.ListActiveAll(t.Context(), "u2", time.Hour)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "s2", filtered[0].ID)
}

func TestSession_IsActive(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name string
		sess Session
		want bool
	}{
		{"fresh session", Session{ExpiresAt: now.Add(time.Hour), LastActivity: now}, true},
		{"terminated session", Session{ExpiresAt: now.Add(time.Hour), LastActivity: now, TerminatedAt: sql.NullTime{Time: now, Valid: true}}, false},
		{"past expiry", Session{ExpiresAt: now.Add(-time.Minute), LastActivity: now}, false},
		{"idle too long", Session{ExpiresAt: now.Add(time.Hour), LastActivity: now.Add(-2 * time.Hour)}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.sess.IsActive(now, time.Hour))
		})
	}
}

// IP/user-agent encryption at rest (Store.SetFieldCrypto) must round-trip
// through the full create->read path and leave the caller-facing
// CreateSession result in plaintext.
func TestSessionFieldEncryption_RoundTrip(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")

	crypto, err := NewFieldCrypto([]byte("0123456789abcdef"))
	require.NoError(t, err)
	s.SetFieldCrypto(crypto)

	created, err := s.CreateSession(t.Context(), NewSession{
		ID: "enc1", UserID: "u1", IP: "203.0.113.9", UserAgent: "Mozilla/5.0",
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", created.IP.String, "CreateSession must return plaintext even though the row is encrypted at rest")

	fetched, err := s.GetSession(t.Context(), "enc1")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", fetched.IP.String)
	assert.Equal(t, "Mozilla/5.0", fetched.UserAgent.String)

	active, err := s.FindActive(t.Context(), "enc1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", active.IP.String)
}

func TestSessionFieldEncryption_RawRowIsNotPlaintext(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")

	crypto, err := NewFieldCrypto([]byte("0123456789abcdef"))
	require.NoError(t, err)
	s.SetFieldCrypto(crypto)

	_, err = s.CreateSession(t.Context(), NewSession{
		ID: "enc2", UserID: "u1", IP: "203.0.113.9", ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	var rawIP string
	query := s.adoptQuery("SELECT ip FROM sessions WHERE id = ?")
	require.NoError(t, s.db.GetContext(t.Context(), &rawIP, query, "enc2"))
	assert.NotEqual(t, "203.0.113.9", rawIP)
}

func TestSessionFieldEncryption_UnreadableRowStaysReadablePlaintext(t *testing.T) {
	s := testStore(t)
	seedUser(t, s, "u1")

	// written before encryption was enabled
	_, err := s.CreateSession(t.Context(), NewSession{
		ID: "plain1", UserID: "u1", IP: "198.51.100.1", ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	crypto, err := NewFieldCrypto([]byte("0123456789abcdef"))
	require.NoError(t, err)
	s.SetFieldCrypto(crypto)

	// decryptField must fall back to the raw value rather than erroring the caller
	fetched, err := s.GetSession(t.Context(), "plain1")
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", fetched.IP.String)
}
