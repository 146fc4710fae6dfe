package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehub/authd/internal/enum"
)

func TestLogAuditAndQueryAudit(t *testing.T) {
	s := testStore(t)

	now := time.Now().UTC()
	require.NoError(t, s.LogAudit(t.Context(), AuditEntry{
		Timestamp: now, Action: enum.AuditActionLogin, Actor: "alice",
		ActorType: enum.ActorUser, Result: enum.AuditResultSuccess, SessionID: "sess1",
	}))
	require.NoError(t, s.LogAudit(t.Context(), AuditEntry{
		Timestamp: now.Add(time.Second), Action: enum.AuditActionLoginFailed, Actor: "bob",
		ActorType: enum.ActorUser, Result: enum.AuditResultDenied,
	}))

	entries, total, err := s.QueryAudit(t.Context(), AuditQuery{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "bob", entries[0].Actor, "newest first")
	assert.Equal(t, enum.AuditActionLoginFailed, entries[0].Action)
}

func TestQueryAudit_FiltersByActorAndResult(t *testing.T) {
	s := testStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.LogAudit(t.Context(), AuditEntry{
		Timestamp: now, Action: enum.AuditActionLogin, Actor: "alice",
		ActorType: enum.ActorUser, Result: enum.AuditResultSuccess,
	}))
	require.NoError(t, s.LogAudit(t.Context(), AuditEntry{
		Timestamp: now, Action: enum.AuditActionLoginFailed, Actor: "alice",
		ActorType: enum.ActorUser, Result: enum.AuditResultDenied,
	}))
	require.NoError(t, s.LogAudit(t.Context(), AuditEntry{
		Timestamp: now, Action: enum.AuditActionLoginFailed, Actor: "bob",
		ActorType: enum.ActorUser, Result: enum.AuditResultDenied,
	}))

	entries, total, err := s.QueryAudit(t.Context(), AuditQuery{Actor: "alice", Result: enum.AuditResultDenied.String()})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Actor)
}

func TestQueryAudit_TimeRange(t *testing.T) {
	s := testStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.LogAudit(t.Context(), AuditEntry{
			Timestamp: base.Add(time.Duration(i) * time.Hour), Action: enum.AuditActionLogin,
			Actor: "alice", ActorType: enum.ActorUser, Result: enum.AuditResultSuccess,
		}))
	}

	entries, total, err := s.QueryAudit(t.Context(), AuditQuery{
		From: base.Add(30 * time.Minute),
		To:   base.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
}

func TestQueryAudit_LimitDefaultsWhenUnset(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.LogAudit(t.Context(), AuditEntry{
			Timestamp: time.Now().UTC(), Action: enum.AuditActionLogin,
			Actor: "alice", ActorType: enum.ActorUser, Result: enum.AuditResultSuccess,
		}))
	}
	entries, total, err := s.QueryAudit(t.Context(), AuditQuery{Limit: 0})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, entries, 3)
}

func TestDeleteAuditOlderThan(t *testing.T) {
	s := testStore(t)
	old := time.Now().UTC().Add(-200 * 24 * time.Hour)
	recent := time.Now().UTC()
	require.NoError(t, s.LogAudit(t.Context(), AuditEntry{
		Timestamp: old, Action: enum.AuditActionLogin, Actor: "alice",
		ActorType: enum.ActorUser, Result: enum.AuditResultSuccess,
	}))
	require.NoError(t, s.LogAudit(t.Context(), AuditEntry{
		Timestamp: recent, Action: enum.AuditActionLogin, Actor: "alice",
		ActorType: enum.ActorUser, Result: enum.AuditResultSuccess,
	}))

	deleted, err := s.DeleteAuditOlderThan(t.Context(), time.Now().UTC().Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, total, err := s.QueryAudit(t.Context(), AuditQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
