// Package redisadapter implements Redis-backed collaborators: the per-mailbox
// run lock and the OAuth token store.
package redisadapter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scout_server/core/port/out"
)

// runLockKey Redis key prefix for sync run locks
const runLockKey = "sync:lock:"

var _ out.RunLock = (*RunLock)(nil)

// RunLock serializes sync runs per (user, label) with SET NX + TTL. The TTL
// bounds how long a crashed run can block its mailbox.
type RunLock struct {
	client *redis.Client
}

// NewRunLock creates a new Redis run lock.
func NewRunLock(client *redis.Client) *RunLock {
	return &RunLock{client: client}
}

// Acquire takes the lock, returning false when another run holds it.
func (l *RunLock) Acquire(ctx context.Context, userID, label string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	ok, err := l.client.SetNX(ctx, lockKey(userID, label), time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	return ok, nil
}

// Release drops the lock.
func (l *RunLock) Release(ctx context.Context, userID, label string) error {
	if err := l.client.Del(ctx, lockKey(userID, label)).Err(); err != nil {
		return fmt.Errorf("failed to release run lock: %w", err)
	}
	return nil
}

func lockKey(userID, label string) string {
	return runLockKey + userID + ":" + label
}
