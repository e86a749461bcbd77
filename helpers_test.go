package lexibase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var testEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// testClock is a settable clock for stores under test
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

type structuredFixture struct {
	store   *StructuredStore
	backend *FilesystemBackend
	mr      *miniredis.Miniredis
	redis   *redis.Client
	clock   *testClock
	metrics *InMemoryMetrics
}

// setupStructured opens a structured store on a temp directory and miniredis
func setupStructured(t *testing.T, configure ...func(*StructuredConfig)) *structuredFixture {
	t.Helper()
	mr, client := setupTestRedis(t)
	f := &structuredFixture{
		backend: NewFilesystemBackend(t.TempDir()),
		mr:      mr,
		redis:   client,
		clock:   newTestClock(),
		metrics: NewInMemoryMetrics(),
	}
	cfg := StructuredConfig{
		Namespace: "test",
		Metrics:   f.metrics,
		Now:       f.clock.Now,
	}
	for _, c := range configure {
		c(&cfg)
	}
	f.store = NewStructuredStore(f.backend, client, cfg)
	if err := f.store.Open(context.Background()); err != nil {
		t.Fatalf("failed to open structured store: %v", err)
	}
	return f
}

func testWord(id, english string, lesson ID, added time.Time) Word {
	return Word{
		ID:         ID(id),
		English:    english,
		Vietnamese: "vi-" + english,
		Category:   CategoryNoun,
		LessonID:   lesson,
		AddedDate:  added,
	}
}

func testLesson(id, name string, created time.Time) Lesson {
	return Lesson{
		ID:          ID(id),
		Name:        name,
		Color:       "blue",
		CreatedDate: created,
	}
}

func wordIDs(words []Word) []ID {
	ids := make([]ID, len(words))
	for i, w := range words {
		ids[i] = w.ID
	}
	return ids
}

func lessonIDs(lessons []Lesson) []ID {
	ids := make([]ID, len(lessons))
	for i, l := range lessons {
		ids[i] = l.ID
	}
	return ids
}

func sameIDs(got, want []ID) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// faultyBackend fails chosen operations of a wrapped backend. Keys in hidden
// are written but left out of List, like a record store that lost them.
type faultyBackend struct {
	Backend
	mu         sync.Mutex
	failPut    map[string]bool
	hidden     map[string]bool
	failDelete bool
	failPing   bool
}

var errInjected = errors.New("injected failure")

func newFaultyBackend(b Backend) *faultyBackend {
	return &faultyBackend{Backend: b, failPut: map[string]bool{}, hidden: map[string]bool{}}
}

func (f *faultyBackend) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := f.Backend.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := keys[:0]
	for _, k := range keys {
		if !f.hidden[k] {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *faultyBackend) Put(ctx context.Context, key string, data []byte) error {
	f.mu.Lock()
	fail := f.failPut[key]
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Backend.Put(ctx, key, data)
}

func (f *faultyBackend) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	fail := f.failDelete
	f.mu.Unlock()
	if fail {
		return errInjected
	}
	return f.Backend.Delete(ctx, key)
}

func (f *faultyBackend) Ping(ctx context.Context) error {
	if f.failPing {
		return errInjected
	}
	return f.Backend.Ping(ctx)
}
