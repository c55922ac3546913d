package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLock implements named locks with Postgres session advisory locks.
// Each held lock pins one pooled connection until it is released, and a lost
// connection releases the lock. The TTL is ignored.
type AdvisoryLock struct {
	pool *pgxpool.Pool

	mu    sync.Mutex
	conns map[string]*pgxpool.Conn
}

func NewAdvisoryLock(pool *pgxpool.Pool) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, conns: make(map[string]*pgxpool.Conn)}
}

func hashLockName(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte("ragchat:lock:" + name))
	return int64(h.Sum64())
}

// Acquire tries to take the lock without blocking.
func (l *AdvisoryLock) Acquire(ctx context.Context, name string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.conns[name]; held {
		return false, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", hashLockName(name)).Scan(&acquired); err != nil {
		conn.Release()
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !acquired {
		conn.Release()
		return false, nil
	}

	l.conns[name] = conn
	return true, nil
}

// Release frees a lock held by this instance. Releasing a lock that is not
// held is a no-op.
func (l *AdvisoryLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn, held := l.conns[name]
	delete(l.conns, name)
	l.mu.Unlock()

	if !held {
		return nil
	}
	defer conn.Release()

	var released bool
	if err := conn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", hashLockName(name)).Scan(&released); err != nil {
		// drop the session so the server frees the lock
		_ = conn.Conn().Close(ctx)
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
