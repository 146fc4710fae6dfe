package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBlocklist is the shared-external revocation store: `jwt:blocklist:
// {jti}` for single-token revocation, `jwt:session_block:{sid}` for
// whole-session revocation, per spec §4.2. Key scheme and TTL-bounded Set
// pattern grounded on other_examples' GEBNETI-authy session.go
// (getBlacklistKey + cache.Set(ctx, key, "true", ttl)).
type RedisBlocklist struct {
	client *redis.Client
}

func NewRedisBlocklist(client *redis.Client) *RedisBlocklist {
	return &RedisBlocklist{client: client}
}

func tokenBlockKey(jti string) string    { return fmt.Sprintf("jwt:blocklist:%s", jti) }
func sessionBlockKey(sid string) string { return fmt.Sprintf("jwt:session_block:%s", sid) }

func (b *RedisBlocklist) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	return b.exists(ctx, tokenBlockKey(jti))
}

func (b *RedisBlocklist) IsSessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	return b.exists(ctx, sessionBlockKey(sessionID))
}

func (b *RedisBlocklist) exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS %s: %w", key, err)
	}
	return n > 0, nil
}

func (b *RedisBlocklist) RevokeToken(ctx context.Context, jti string, ttl time.Duration) error {
	if err := b.client.Set(ctx, tokenBlockKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", tokenBlockKey(jti), err)
	}
	return nil
}

func (b *RedisBlocklist) RevokeSession(ctx context.Context, sessionID string, ttl time.Duration) error {
	if err := b.client.Set(ctx, sessionBlockKey(sessionID), "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", sessionBlockKey(sessionID), err)
	}
	return nil
}

// InProcessBlocklist is a single-instance fallback (e.g. tests, or a
// single-replica deployment without Redis configured) using an in-memory map
// with lazy expiry sweeps — mirrors the pluggable-strategy shape spec §4.3
// mandates for the seat allocator, applied here to revocation.
type InProcessBlocklist struct {
	tokens   map[string]time.Time
	sessions map[string]time.Time
}

func NewInProcessBlocklist() *InProcessBlocklist {
	return &InProcessBlocklist{
		tokens:   make(map[string]time.Time),
		sessions: make(map[string]time.Time),
	}
}

func (b *InProcessBlocklist) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	exp, ok := b.tokens[jti]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(b.tokens, jti)
		return false, nil
	}
	return true, nil
}

func (b *InProcessBlocklist) IsSessionRevoked(_ context.Context, sessionID string) (bool, error) {
	exp, ok := b.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(b.sessions, sessionID)
		return false, nil
	}
	return true, nil
}

func (b *InProcessBlocklist) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	b.tokens[jti] = time.Now().Add(ttl)
	return nil
}

func (b *InProcessBlocklist) RevokeSession(_ context.Context, sessionID string, ttl time.Duration) error {
	b.sessions[sessionID] = time.Now().Add(ttl)
	return nil
}
