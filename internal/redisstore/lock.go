package redisstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockPrefix = keyPrefix + "lock:"

// Lock implements named locks with SET NX and a TTL. Each instance has its
// own owner id so it can never release a lock another instance holds.
type Lock struct {
	client  *redis.Client
	ownerID string
}

func NewLock(client *redis.Client) *Lock {
	return &Lock{client: client, ownerID: generateOwnerID()}
}

// generateOwnerID returns hostname:pid:random.
func generateOwnerID() string {
	hostname, _ := os.Hostname()
	randomBytes := make([]byte, 8)
	_, _ = rand.Read(randomBytes)
	return fmt.Sprintf("%s:%d:%s", hostname, os.Getpid(), hex.EncodeToString(randomBytes))
}

// Acquire reports whether the lock was taken.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockPrefix+name, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// deleteIfEqual removes KEYS[1] only while it still holds ARGV[1].
var deleteIfEqual = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release frees the lock if this instance holds it.
func (l *Lock) Release(ctx context.Context, name string) error {
	_, err := deleteIfEqual.Run(ctx, l.client, []string{lockPrefix + name}, l.ownerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func (l *Lock) OwnerID() string {
	return l.ownerID
}
