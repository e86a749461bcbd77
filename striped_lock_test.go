package lexibase

import (
	"sync"
	"testing"
)

func TestStripedLocks_SameKeySameStripe(t *testing.T) {
	sl := NewStripedLocks(16)

	if sl.stripe("words/w1.json") != sl.stripe("words/w1.json") {
		t.Error("expected a stable stripe for the same key")
	}
	if NewStripedLocks(0).count != DefaultLockStripes {
		t.Error("expected default stripe count for non-positive input")
	}
}

func TestStripedLocks_SerializesWriters(t *testing.T) {
	sl := NewStripedLocks(4)
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := sl.Lock("progress.json")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected 50 increments, got %d", counter)
	}
}
