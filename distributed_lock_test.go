package lexibase

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDistributedLock_LockAndRelease(t *testing.T) {
	mr, client := setupTestRedis(t)
	lock := NewDistributedLock(client, "test")
	ctx := context.Background()

	release, err := lock.Lock(ctx, "x", time.Minute)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if !mr.Exists("test:lock:x") {
		t.Fatal("expected lock key to exist")
	}
	if ttl := mr.TTL("test:lock:x"); ttl != time.Minute {
		t.Errorf("expected ttl of a minute, got %v", ttl)
	}

	_, err = lock.Lock(ctx, "x", time.Minute)
	if !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld, got %v", err)
	}

	// Other names are independent
	releaseY, err := lock.Lock(ctx, "y", 0)
	if err != nil {
		t.Fatalf("Lock y failed: %v", err)
	}
	releaseY()

	release()
	if mr.Exists("test:lock:x") {
		t.Error("expected lock key to be removed")
	}
}

func TestDistributedLock_ReleaseKeepsForeignToken(t *testing.T) {
	mr, client := setupTestRedis(t)
	lock := NewDistributedLock(client, "test")
	ctx := context.Background()

	release, err := lock.Lock(ctx, "x", time.Second)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	// Our TTL expires and another process takes over
	mr.FastForward(2 * time.Second)
	if _, err := lock.Lock(ctx, "x", time.Minute); err != nil {
		t.Fatalf("second Lock failed: %v", err)
	}

	release()
	if !mr.Exists("test:lock:x") {
		t.Error("release must not delete a lock held by someone else")
	}
}

func TestDistributedLock_Unavailable(t *testing.T) {
	mr, client := setupTestRedis(t)
	lock := NewDistributedLock(client, "test")
	mr.Close()

	_, err := lock.Lock(context.Background(), "x", time.Minute)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestDistributedLock_LockWithRetry(t *testing.T) {
	_, client := setupTestRedis(t)
	lock := NewDistributedLock(client, "test")
	ctx := context.Background()

	release, _ := lock.Lock(ctx, "x", time.Minute)
	go func() {
		time.Sleep(30 * time.Millisecond)
		release()
	}()

	release2, err := lock.LockWithRetry(ctx, "x", time.Minute, 10, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("LockWithRetry failed: %v", err)
	}
	release2()
}

func TestDistributedLock_LockWithRetryExhausted(t *testing.T) {
	_, client := setupTestRedis(t)
	lock := NewDistributedLock(client, "test")
	ctx := context.Background()

	release, _ := lock.Lock(ctx, "x", time.Minute)
	defer release()

	_, err := lock.LockWithRetry(ctx, "x", time.Minute, 3, time.Millisecond)
	if !errors.Is(err, ErrLockHeld) {
		t.Errorf("expected ErrLockHeld after retries, got %v", err)
	}
}
