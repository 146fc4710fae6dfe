package seat_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filehub/authd/internal/seat"
)

func TestInProcess_TryAllocate_GrantsUpToCapacity(t *testing.T) {
	a := seat.NewInProcess(2, 0)

	d1, err := a.TryAllocate(t.Context(), "user1", false)
	require.NoError(t, err)
	assert.True(t, d1.Granted)

	d2, err := a.TryAllocate(t.Context(), "user2", false)
	require.NoError(t, err)
	assert.True(t, d2.Granted)

	d3, err := a.TryAllocate(t.Context(), "user3", false)
	require.NoError(t, err)
	assert.False(t, d3.Granted)
	assert.Equal(t, "pool full", d3.Reason)
}

func TestInProcess_TryAllocate_IsIdempotentPerKey(t *testing.T) {
	a := seat.NewInProcess(1, 0)
	d1, err := a.TryAllocate(t.Context(), "user1", false)
	require.NoError(t, err)
	assert.True(t, d1.Granted)

	d2, err := a.TryAllocate(t.Context(), "user1", false)
	require.NoError(t, err)
	assert.True(t, d2.Granted, "re-acquiring the same key should succeed, not consume a second seat")

	snap, err := a.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Allocated)
}

func TestInProcess_AdminReservedSeats(t *testing.T) {
	a := seat.NewInProcess(2, 1) // 1 seat reserved for admins

	// a regular user can only take the 1 non-reserved seat
	d1, err := a.TryAllocate(t.Context(), "user1", false)
	require.NoError(t, err)
	assert.True(t, d1.Granted)

	d2, err := a.TryAllocate(t.Context(), "user2", false)
	require.NoError(t, err)
	assert.False(t, d2.Granted)
	assert.Equal(t, "reserved", d2.Reason)

	// an admin can still take the reserved seat
	d3, err := a.TryAllocate(t.Context(), "admin1", true)
	require.NoError(t, err)
	assert.True(t, d3.Granted)

	// now the pool is entirely full, even for admins
	d4, err := a.TryAllocate(t.Context(), "admin2", true)
	require.NoError(t, err)
	assert.False(t, d4.Granted)
	assert.Equal(t, "pool full", d4.Reason)
}

func TestInProcess_Release_IsIdempotent(t *testing.T) {
	a := seat.NewInProcess(1, 0)
	_, err := a.TryAllocate(t.Context(), "user1", false)
	require.NoError(t, err)

	require.NoError(t, a.Release(t.Context(), "user1"))
	require.NoError(t, a.Release(t.Context(), "user1"), "releasing an already-released key must not error")
	require.NoError(t, a.Release(t.Context(), "never-allocated"))

	snap, err := a.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Allocated)
}

func TestInProcess_BindSession(t *testing.T) {
	a := seat.NewInProcess(1, 0)
	_, err := a.TryAllocate(t.Context(), "user1", false)
	require.NoError(t, err)
	require.NoError(t, a.BindSession(t.Context(), "user1", "sess1"))
	// binding an unallocated key is a no-op, not an error
	require.NoError(t, a.BindSession(t.Context(), "never-allocated", "sess2"))
}

func TestInProcess_SetTotalAndAdminReserved(t *testing.T) {
	a := seat.NewInProcess(1, 0)
	require.NoError(t, a.SetTotal(t.Context(), 5))
	require.NoError(t, a.SetAdminReserved(t.Context(), 2))

	snap, err := a.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 5, snap.TotalSeats)
	assert.Equal(t, 2, snap.AdminReserved)
}

func TestInProcess_Reconcile_DetectsDrift(t *testing.T) {
	a := seat.NewInProcess(5, 0)
	_, err := a.TryAllocate(t.Context(), "user1", false)
	require.NoError(t, err)

	drift, detail, err := a.Reconcile(t.Context(), 3)
	require.NoError(t, err)
	assert.True(t, drift)

	var d struct {
		AllocatorCount int `json:"allocator_count"`
		StoreCount     int `json:"store_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(detail), &d))
	assert.Equal(t, 1, d.AllocatorCount)
	assert.Equal(t, 3, d.StoreCount)

	noDrift, _, err := a.Reconcile(t.Context(), 1)
	require.NoError(t, err)
	assert.False(t, noDrift)
}

func TestInProcess_Seed_PopulatesAllocatedSetBeforeFirstAdmission(t *testing.T) {
	a := seat.NewInProcess(2, 0)
	require.NoError(t, a.Seed(t.Context(), []seat.SeedEntry{
		{UserKey: "user1", SessionID: "sess1"},
		{UserKey: "user2", SessionID: "sess2"},
	}))

	snap, err := a.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Allocated)

	// the pool is now full from the seeded entries alone; a genuinely new
	// login must be denied, not admitted on top of the pre-existing ones.
	d, err := a.TryAllocate(t.Context(), "user3", false)
	require.NoError(t, err)
	assert.False(t, d.Granted)

	// but re-acquiring a seeded key is still idempotent.
	d2, err := a.TryAllocate(t.Context(), "user1", false)
	require.NoError(t, err)
	assert.True(t, d2.Granted)
}

func TestInProcess_Reconcile_DoesNotRewriteAllocatedSet(t *testing.T) {
	a := seat.NewInProcess(5, 0)
	_, err := a.TryAllocate(t.Context(), "user1", false)
	require.NoError(t, err)

	_, _, err = a.Reconcile(t.Context(), 0)
	require.NoError(t, err)

	snap, err := a.Snapshot(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Allocated, "reconcile must not clear the allocated map even when drift is detected")
}
