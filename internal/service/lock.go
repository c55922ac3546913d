package service

import (
	"context"
	"sync"
	"time"
)

// Locker serialises provisioning runs by name.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]time.Time), clock: time.Now}
}

// Acquire takes the lock unless it is held and not yet expired. A zero ttl
// holds the lock until Release.
func (l *MemoryLocker) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expires, ok := l.held[name]; ok && (expires.IsZero() || now.Before(expires)) {
		return false, nil
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	l.held[name] = expires
	return true, nil
}

func (l *MemoryLocker) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}
