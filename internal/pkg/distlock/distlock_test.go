package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestLock_AcquireRelease(t *testing.T) {
	rdb, _ := setupRedis(t)
	ctx := context.Background()

	first := New(rdb, "recompute:t1", time.Minute)
	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v; want true", ok, err)
	}

	// A second holder must be rejected while the lock is held.
	second := New(rdb, "recompute:t1", time.Minute)
	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire() error: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a held lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Errorf("Acquire() after release = %v, %v; want true", ok, err)
	}
}

func TestLock_ReleaseOnlyOwn(t *testing.T) {
	rdb, mr := setupRedis(t)
	ctx := context.Background()

	holder := New(rdb, "recompute:t1", time.Minute)
	if ok, _ := holder.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}

	// A stranger's Release must not drop the holder's lock.
	stranger := New(rdb, "recompute:t1", time.Minute)
	if err := stranger.Release(ctx); err != nil {
		t.Fatalf("stranger Release() error: %v", err)
	}
	if !mr.Exists("audience:lock:recompute:t1") {
		t.Error("lock was released by a non-owner")
	}
}

func TestLock_DifferentKeysIndependent(t *testing.T) {
	rdb, _ := setupRedis(t)
	ctx := context.Background()

	a := New(rdb, "recompute:tenant-a", time.Minute)
	b := New(rdb, "recompute:tenant-b", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("first tenant lock failed")
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Error("second tenant lock should be independent")
	}
}

func TestLock_Extend(t *testing.T) {
	rdb, mr := setupRedis(t)
	ctx := context.Background()

	l := New(rdb, "recompute:t1", time.Second)
	if ok, _ := l.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}
	if err := l.Extend(ctx, time.Hour); err != nil {
		t.Fatalf("Extend() error: %v", err)
	}

	// The original TTL has been replaced; advancing past it must not expire
	// the lock.
	mr.FastForward(2 * time.Second)
	if !mr.Exists("audience:lock:recompute:t1") {
		t.Error("lock expired despite Extend")
	}
}

func TestLock_KeepAliveOutlivesTTL(t *testing.T) {
	rdb, mr := setupRedis(t)
	ctx := context.Background()

	l := New(rdb, "recompute:t1", 100*time.Millisecond)
	if ok, _ := l.Acquire(ctx); !ok {
		t.Fatal("Acquire failed")
	}

	stop := l.KeepAlive(ctx, 10*time.Millisecond)

	// Burn through several full TTLs, giving the keepalive a tick between
	// each advance. Without extension the lock would be long gone.
	for i := 0; i < 3; i++ {
		mr.FastForward(80 * time.Millisecond)
		time.Sleep(60 * time.Millisecond)
	}
	if !mr.Exists("audience:lock:recompute:t1") {
		t.Fatal("lock expired while keepalive was running")
	}

	// Once stopped, the TTL runs out normally.
	stop()
	mr.FastForward(200 * time.Millisecond)
	if mr.Exists("audience:lock:recompute:t1") {
		t.Error("lock survived past its TTL after keepalive stopped")
	}
}
