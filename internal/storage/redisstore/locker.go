package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

// Ownership-checked release and extend. Both return 0 when the key is held
// by another owner or has expired.
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`)
)

// Locker is a core.Locker using SET NX with a TTL and a random owner value.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (core.Lease, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate lock owner: %w", err)
	}
	lease := &Lease{
		client: l.client,
		key:    "lock:" + key,
		value:  hex.EncodeToString(b),
	}

	ok, err := l.client.SetNX(ctx, lease.key, lease.value, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", lease.key, err)
	}
	if !ok {
		return nil, core.ErrLocked
	}
	return lease, nil
}

// Lease is a held Redis lock.
type Lease struct {
	client *redis.Client
	key    string
	value  string
}

// Extend resets the TTL. It returns core.ErrLocked once the lease was lost.
func (l *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return core.ErrLocked
	}
	return nil
}

// Release deletes the key only if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
	return err
}
