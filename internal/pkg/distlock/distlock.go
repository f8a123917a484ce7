// Package distlock provides a Redis-backed mutual exclusion primitive for
// operations that must not run concurrently across instances, such as
// tenant-wide score recomputes.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a single-use distributed lock over one key. A Lock instance is
// owned by one goroutine; create a fresh Lock per attempt.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// New creates a lock for the given name. The TTL bounds how long a crashed
// holder can block others.
func New(rdb *redis.Client, name string, ttl time.Duration) *Lock {
	b := make([]byte, 16)
	rand.Read(b)
	return &Lock{
		rdb:   rdb,
		key:   fmt.Sprintf("audience:lock:%s", name),
		token: hex.EncodeToString(b),
		ttl:   ttl,
	}
}

// Acquire attempts to take the lock without blocking. Returns false when
// another holder owns it.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Release drops the lock if this instance still owns it. Releasing a lock
// that expired or was taken over is a no-op.
func (l *Lock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Result()
	return err
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Extend pushes the expiry out for long-running holders.
func (l *Lock) Extend(ctx context.Context, ttl time.Duration) error {
	_, err := extendScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Result()
	return err
}

// KeepAlive re-extends the lock to its full TTL every interval until the
// returned stop function is called or the context ends. Holders whose work
// may outlive the TTL use this so the lock cannot expire mid-operation.
// A failed extension is retried on the next tick.
func (l *Lock) KeepAlive(ctx context.Context, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = l.Extend(ctx, l.ttl)
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}
