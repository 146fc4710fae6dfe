package seat

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/go-pkgz/lgr"
	"github.com/redis/go-redis/v9"
)

// Shared is the external-KV strategy of spec §4.3: "state in an external
// atomic KV; acquire performed via a server-evaluated atomic script... that
// is evaluated as one indivisible step from the client's perspective." The
// Lua-script-as-Go-const pattern is grounded on other_examples'
// AzielCF-az-wap valkey_session.go (releaseLockScript), generalized from a
// single CAS-delete to the admission-rule script below.
type Shared struct {
	client *redis.Client
	prefix string // e.g. "seatpool" — keyspace isolation per deployment
}

func NewShared(client *redis.Client, prefix string) *Shared {
	if prefix == "" {
		prefix = "seatpool"
	}
	return &Shared{client: client, prefix: prefix}
}

func (s *Shared) allocatedKey() string { return fmt.Sprintf("%s:allocated", s.prefix) }
func (s *Shared) totalKey() string     { return fmt.Sprintf("%s:total", s.prefix) }
func (s *Shared) reservedKey() string  { return fmt.Sprintf("%s:admin_reserved", s.prefix) }

// allocateScript implements spec §4.3's admission rule as one indivisible
// step: KEYS[1]=allocated hash, ARGV[1]=user_key, ARGV[2]=is_admin ("1"/"0"),
// ARGV[3]=total, ARGV[4]=admin_reserved. The allocated hash maps
// user_key -> "" (session id bound later via BindSession/HSET).
var allocateScript = redis.NewScript(`
local allocated_key = KEYS[1]
local user_key = ARGV[1]
local is_admin = ARGV[2] == "1"
local total = tonumber(ARGV[3])
local reserved = tonumber(ARGV[4])

if redis.call("HEXISTS", allocated_key, user_key) == 1 then
	return "granted"
end

local current = redis.call("HLEN", allocated_key)
local capacity
if is_admin then
	capacity = total - current
else
	capacity = total - current - reserved
end

if capacity > 0 then
	redis.call("HSET", allocated_key, user_key, "")
	return "granted"
end

if is_admin and total > current then
	redis.call("HSET", allocated_key, user_key, "")
	return "granted"
end

if is_admin then
	return "denied:pool full"
end
if current >= total and reserved < total then
	return "denied:pool full"
end
return "denied:reserved"
`)

func (s *Shared) TryAllocate(ctx context.Context, userKey string, isAdmin bool) (Decision, error) {
	total, reserved, err := s.readCapacity(ctx)
	if err != nil {
		return Decision{}, err
	}
	adminFlag := "0"
	if isAdmin {
		adminFlag = "1"
	}
	res, err := allocateScript.Run(ctx, s.client, []string{s.allocatedKey()}, userKey, adminFlag, total, reserved).Text()
	if err != nil {
		return Decision{}, fmt.Errorf("seat allocate script: %w", err)
	}
	if res == "granted" {
		return Decision{Granted: true}, nil
	}
	reason := "pool full"
	if len(res) > len("denied:") {
		reason = res[len("denied:"):]
	}
	return Decision{Granted: false, Reason: reason}, nil
}

func (s *Shared) BindSession(ctx context.Context, userKey, sessionID string) error {
	if err := s.client.HSet(ctx, s.allocatedKey(), userKey, sessionID).Err(); err != nil {
		return fmt.Errorf("bind session for seat %q: %w", userKey, err)
	}
	return nil
}

func (s *Shared) Release(ctx context.Context, userKey string) error {
	n, err := s.client.HDel(ctx, s.allocatedKey(), userKey).Result()
	if err != nil {
		return fmt.Errorf("release seat %q: %w", userKey, err)
	}
	if n == 0 {
		log.Printf("[WARN] seat release for unallocated key %q", userKey)
	}
	return nil
}

func (s *Shared) Snapshot(ctx context.Context) (PoolState, error) {
	total, reserved, err := s.readCapacity(ctx)
	if err != nil {
		return PoolState{}, err
	}
	n, err := s.client.HLen(ctx, s.allocatedKey()).Result()
	if err != nil {
		return PoolState{}, fmt.Errorf("seat snapshot: %w", err)
	}
	return PoolState{TotalSeats: total, AdminReserved: reserved, Allocated: int(n)}, nil
}

func (s *Shared) SetTotal(ctx context.Context, n int) error {
	return s.client.Set(ctx, s.totalKey(), n, 0).Err()
}

func (s *Shared) SetAdminReserved(ctx context.Context, k int) error {
	return s.client.Set(ctx, s.reservedKey(), k, 0).Err()
}

// Seed mirrors InProcess.Seed: it HSETs every already-active session
// straight into the allocated hash, bypassing the admission-rule script,
// since these sessions already hold their seats and this is recovering
// that fact rather than making a fresh admission decision. Must run before
// any TryAllocate is served, per spec §4.3's startup recovery step.
func (s *Shared) Seed(ctx context.Context, entries []SeedEntry) error {
	if len(entries) == 0 {
		return nil
	}
	fields := make([]string, 0, len(entries)*2)
	for _, e := range entries {
		fields = append(fields, e.UserKey, e.SessionID)
	}
	if err := s.client.HSet(ctx, s.allocatedKey(), fields).Err(); err != nil {
		return fmt.Errorf("seed allocated seats: %w", err)
	}
	return nil
}

func (s *Shared) readCapacity(ctx context.Context) (total, reserved int, err error) {
	total, err = s.client.Get(ctx, s.totalKey()).Int()
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("read total_seats: %w", err)
	}
	reserved, err = s.client.Get(ctx, s.reservedKey()).Int()
	if err != nil && err != redis.Nil {
		return 0, 0, fmt.Errorf("read admin_reserved: %w", err)
	}
	return total, reserved, nil
}

// Reconcile mirrors InProcess.Reconcile's reset-while-tracking decision:
// drift is logged and snapshotted, the hash's keys are left untouched.
func (s *Shared) Reconcile(ctx context.Context, activeInStore int) (bool, string, error) {
	n, err := s.client.HLen(ctx, s.allocatedKey()).Result()
	if err != nil {
		return false, "", fmt.Errorf("reconcile: %w", err)
	}
	current := int(n)
	drift := current != activeInStore
	if drift {
		log.Printf("[WARN] seat pool drift (shared): allocator=%d store=%d", current, activeInStore)
	}
	detail, err := json.Marshal(driftDetail{
		AllocatorCount: current,
		StoreCount:     activeInStore,
		Strategy:       "shared_external",
	})
	if err != nil {
		return drift, "", err
	}
	return drift, string(detail), nil
}
