package lexibase

import (
	"hash/fnv"
	"sync"
)

// StripedLocks serializes writers per key without a single global mutex.
// The same key always hashes to the same stripe.
type StripedLocks struct {
	stripes []sync.Mutex
	count   uint32
}

// NewStripedLocks creates a striped lock with the given number of stripes
func NewStripedLocks(stripeCount int) *StripedLocks {
	if stripeCount <= 0 {
		stripeCount = DefaultLockStripes
	}
	return &StripedLocks{
		stripes: make([]sync.Mutex, stripeCount),
		count:   uint32(stripeCount),
	}
}

// Lock acquires the stripe for key and returns its release function.
//
//	unlock := locks.Lock(key)
//	defer unlock()
func (sl *StripedLocks) Lock(key string) func() {
	idx := sl.stripe(key)
	sl.stripes[idx].Lock()
	return sl.stripes[idx].Unlock
}

// stripe returns the stripe index for a key using FNV-1a
func (sl *StripedLocks) stripe(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % sl.count
}
