package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/bulkimport/internal/core"
)

type lockEntry struct {
	owner   string
	expires time.Time
}

// Locker is a process-local core.Locker. Leases expire after their TTL
// unless extended.
type Locker struct {
	mu    sync.Mutex
	locks map[string]lockEntry
	now   func() time.Time
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]lockEntry), now: time.Now}
}

func (l *Locker) Acquire(_ context.Context, key string, ttl time.Duration) (core.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expires) {
		return nil, core.ErrLocked
	}
	owner := uuid.NewString()
	l.locks[key] = lockEntry{owner: owner, expires: now.Add(ttl)}
	return &lease{locker: l, key: key, owner: owner}, nil
}

type lease struct {
	locker *Locker
	key    string
	owner  string
}

func (le *lease) Extend(_ context.Context, ttl time.Duration) error {
	l := le.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.locks[le.key]
	if !ok || e.owner != le.owner {
		return core.ErrLocked
	}
	e.expires = l.now().Add(ttl)
	l.locks[le.key] = e
	return nil
}

// Release is a no-op when the lease has already expired and been taken by
// another owner.
func (le *lease) Release(_ context.Context) error {
	l := le.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[le.key]; ok && e.owner == le.owner {
		delete(l.locks, le.key)
	}
	return nil
}
