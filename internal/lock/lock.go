// Package lock implements per-key mutual exclusion for the rule engine and
// idempotency ledger: Redis SETNX-with-TTL plus a Lua compare-and-delete
// unlock, falling back to an in-process map when Redis is unavailable.
package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Unlock when the caller's token does not match
// the current holder (the lock expired and was acquired by someone else).
var ErrNotHeld = errors.New("lock: not held by this token")

// Backend is a distributed or local mutual-exclusion primitive.
type Backend interface {
	// TryLock attempts to acquire key for ttl. ok is false if already held.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Unlock releases key only if it is still held by token.
	Unlock(ctx context.Context, key, token string) error
}

var hostname = func() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown-host"
	}
	return h
}()

func newToken() string {
	return hostname + ":" + itoa(time.Now().UnixMilli()) + ":" + uuid.NewString()
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// RedisBackend acquires locks via SET key value NX PX ttl and releases
// them via a Lua compare-and-delete so only the owning token can unlock.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (b *RedisBackend) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := newToken()
	ok, err := b.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (b *RedisBackend) Unlock(ctx context.Context, key, token string) error {
	res, err := unlockScript.Run(ctx, b.client, []string{key}, token).Int()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrNotHeld
	}
	return nil
}

// InProcessBackend is the fallback used when Redis is unavailable. It
// holds keys in an in-memory map with monotonic-clock expiry, so it is
// only correct within a single process.
type InProcessBackend struct {
	mu      sync.Mutex
	entries map[string]inProcessEntry
}

type inProcessEntry struct {
	token   string
	expires time.Time
}

// NewInProcessBackend creates an empty in-process lock table.
func NewInProcessBackend() *InProcessBackend {
	return &InProcessBackend{entries: make(map[string]inProcessEntry)}
}

func (b *InProcessBackend) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if e, exists := b.entries[key]; exists && now.Before(e.expires) {
		return "", false, nil
	}

	token := newToken()
	b.entries[key] = inProcessEntry{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (b *InProcessBackend) Unlock(_ context.Context, key, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, exists := b.entries[key]
	if !exists || e.token != token {
		return ErrNotHeld
	}
	delete(b.entries, key)
	return nil
}

// RuleKey builds the canonical lock key for serializing a rule's
// evaluation across shards: siem:lock:rule:{tenant}:{rule_id}.
func RuleKey(tenantID, ruleID string) string {
	return "siem:lock:rule:" + tenantID + ":" + ruleID
}
