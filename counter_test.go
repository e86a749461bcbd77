package lexibase

import (
	"context"
	"sync"
	"testing"
)

func TestCounter_NextAndCurrent(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	c := NewCounter(client, "test:seq:backups")

	current, err := c.Current(ctx)
	if err != nil || current != 0 {
		t.Fatalf("expected 0 before first use, got %d, %v", current, err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}
	current, _ = c.Current(ctx)
	if current != 3 {
		t.Errorf("expected current 3, got %d", current)
	}
}

func TestCounter_ConcurrentNextIsUnique(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	c := NewCounter(client, "test:seq:backups")

	var mu sync.Mutex
	seen := map[int64]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := c.Next(ctx)
			if err != nil {
				t.Errorf("Next failed: %v", err)
				return
			}
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 20 {
		t.Errorf("expected 20 unique ids, got %d", len(seen))
	}
}

func TestCounter_InvalidValue(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Set("test:seq:backups", "abc")

	_, err := NewCounter(client, "test:seq:backups").Current(context.Background())
	if err == nil {
		t.Error("expected an error for a non-numeric counter")
	}
}

func TestCounter_AtLeastOnlyRaises(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	c := NewCounter(client, "test:seq:backups")

	got, err := c.AtLeast(ctx, 7)
	if err != nil {
		t.Fatalf("AtLeast failed: %v", err)
	}
	if got != 7 {
		t.Errorf("expected 7, got %d", got)
	}

	got, _ = c.AtLeast(ctx, 3)
	if got != 7 {
		t.Errorf("expected the counter to stay at 7, got %d", got)
	}
	next, _ := c.Next(ctx)
	if next != 8 {
		t.Errorf("expected 8 after raising, got %d", next)
	}
}
