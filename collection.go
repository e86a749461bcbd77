package lexibase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// IndexDef describes one secondary index of a collection. Equality indexes
// set Values; range indexes set Score and Sorted.
type IndexDef[T any] struct {
	Name   string
	Field  string
	Sorted bool
	Values func(item T) []string
	Score  func(item T) (float64, bool)
}

// collection stores one record type as {name}/{id}.json blobs with its
// secondary indexes in Redis. Writes to a collection are serialized.
type collection[T any] struct {
	name    string
	backend Backend
	indexer *RedisIndexer
	idOf    func(item T) string
	indexes []IndexDef[T]
	logger  Logger
	metrics Metrics

	mu sync.Mutex
}

func newCollection[T any](name string, backend Backend, indexer *RedisIndexer, idOf func(T) string, logger Logger, metrics Metrics, indexes ...IndexDef[T]) *collection[T] {
	return &collection[T]{
		name:    name,
		backend: backend,
		indexer: indexer,
		idOf:    idOf,
		indexes: indexes,
		logger:  logger,
		metrics: metrics,
	}
}

func (c *collection[T]) key(id string) string {
	return c.name + "/" + id + recordSuffix
}

func (c *collection[T]) checkID(id string) error {
	if !validSegment(id) {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"collection": c.name,
			"id":         id,
			"reason":     "id must be a non-empty single path segment",
		})
	}
	return nil
}

func (c *collection[T]) entries(item T) []IndexEntry {
	var out []IndexEntry
	for _, idx := range c.indexes {
		if idx.Sorted {
			if score, ok := idx.Score(item); ok {
				out = append(out, IndexEntry{Index: idx.Name, Score: score, Sorted: true})
			}
			continue
		}
		for _, v := range idx.Values(item) {
			if v != "" {
				out = append(out, IndexEntry{Index: idx.Name, Value: v})
			}
		}
	}
	return out
}

func (c *collection[T]) entriesOf(data []byte) ([]IndexEntry, error) {
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return c.entries(item), nil
}

func (c *collection[T]) begin() *recordTx {
	return &recordTx{
		collection: c.name,
		backend:    c.backend,
		indexer:    c.indexer,
		entriesOf:  c.entriesOf,
		logger:     c.logger,
		metrics:    c.metrics,
	}
}

func (c *collection[T]) stagePut(tx *recordTx, item T) error {
	id := c.idOf(item)
	if err := c.checkID(id); err != nil {
		return err
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", c.name, id, err)
	}
	tx.put(id, c.key(id), data, c.entries(item))
	return nil
}

// get loads one record; found is false when it does not exist
func (c *collection[T]) get(ctx context.Context, id string) (item T, found bool, err error) {
	if err := c.checkID(id); err != nil {
		return item, false, err
	}
	data, err := c.backend.Get(ctx, c.key(id))
	if err != nil {
		if IsNotFound(err) {
			return item, false, nil
		}
		return item, false, err
	}
	if err := json.Unmarshal(data, &item); err != nil {
		return item, false, WithContext(ErrInvalidData, map[string]interface{}{
			"key":   c.key(id),
			"error": err.Error(),
		})
	}
	return item, true, nil
}

// ids lists the ids of every stored record, sorted
func (c *collection[T]) ids(ctx context.Context) ([]string, error) {
	keys, err := c.backend.List(ctx, c.name+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", c.name, err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		rest := strings.TrimPrefix(k, c.name+"/")
		if rest == k || strings.Contains(rest, "/") || !strings.HasSuffix(rest, recordSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(rest, recordSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (c *collection[T]) all(ctx context.Context) ([]T, error) {
	ids, err := c.ids(ctx)
	if err != nil {
		return nil, err
	}
	return c.load(ctx, ids)
}

// load fetches records by id, skipping ids whose record vanished
func (c *collection[T]) load(ctx context.Context, ids []string) ([]T, error) {
	items := make([]T, 0, len(ids))
	for _, id := range ids {
		item, found, err := c.get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			c.metrics.Increment(MetricIndexStale, "collection", c.name)
			c.logger.Debug("index points at missing record", "collection", c.name, "id", id)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *collection[T]) count(ctx context.Context) (int, error) {
	ids, err := c.ids(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// insert adds a record and fails with ErrDuplicateID if the id is taken
func (c *collection[T]) insert(ctx context.Context, item T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.idOf(item)
	if err := c.checkID(id); err != nil {
		return err
	}
	exists, err := c.backend.Exists(ctx, c.key(id))
	if err != nil {
		return err
	}
	if exists {
		return WithContext(ErrDuplicateID, map[string]interface{}{
			"collection": c.name,
			"id":         id,
		})
	}

	tx := c.begin()
	if err := c.stagePut(tx, item); err != nil {
		return err
	}
	return tx.commit(ctx)
}

// put inserts or replaces records by id. When items repeat an id the last one wins.
func (c *collection[T]) put(ctx context.Context, items ...T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	last := make(map[string]int, len(items))
	for i, item := range items {
		last[c.idOf(item)] = i
	}

	tx := c.begin()
	for i, item := range items {
		if last[c.idOf(item)] != i {
			continue
		}
		if err := c.stagePut(tx, item); err != nil {
			return err
		}
	}
	return tx.commit(ctx)
}

// remove deletes a record; removing an absent id is a no-op
func (c *collection[T]) remove(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkID(id); err != nil {
		return err
	}
	exists, err := c.backend.Exists(ctx, c.key(id))
	if err != nil || !exists {
		return err
	}

	tx := c.begin()
	tx.delete(id, c.key(id))
	return tx.commit(ctx)
}

// replace makes the collection hold exactly items: absent ids are deleted,
// changed records rewritten, unchanged ones left alone
func (c *collection[T]) replace(ctx context.Context, items []T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, err := c.ids(ctx)
	if err != nil {
		return err
	}

	last := make(map[string]int, len(items))
	for i, item := range items {
		last[c.idOf(item)] = i
	}

	tx := c.begin()
	wanted := make(map[string]bool, len(items))
	for i, item := range items {
		id := c.idOf(item)
		if err := c.checkID(id); err != nil {
			return err
		}
		wanted[id] = true
		if last[id] != i {
			continue
		}

		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", c.name, id, err)
		}
		current, err := c.backend.Get(ctx, c.key(id))
		if err != nil && !IsNotFound(err) {
			return err
		}
		if current != nil && bytes.Equal(current, data) {
			continue
		}
		tx.put(id, c.key(id), data, c.entries(item))
	}
	for _, id := range existing {
		if !wanted[id] {
			tx.delete(id, c.key(id))
		}
	}
	return tx.commit(ctx)
}

// clear deletes every record and every index key of the collection
func (c *collection[T]) clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids, err := c.ids(ctx)
	if err != nil {
		return err
	}
	tx := c.begin()
	for _, id := range ids {
		tx.delete(id, c.key(id))
	}
	if err := tx.commit(ctx); err != nil {
		return err
	}
	return c.indexer.DropCollection(ctx, c.name)
}

// reindex drops and rebuilds every index from the stored records
func (c *collection[T]) reindex(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.all(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.indexer.DropCollection(ctx, c.name); err != nil {
		return 0, err
	}
	_, err = c.indexer.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, item := range items {
			c.indexer.stage(ctx, pipe, c.name, c.idOf(item), nil, c.entries(item))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild indexes of %s: %w", c.name, err)
	}
	return len(items), nil
}

// lookup returns the records indexed under value
func (c *collection[T]) lookup(ctx context.Context, index, value string) ([]T, error) {
	c.metrics.Increment(MetricIndexLookups, "collection", c.name, "index", index)
	ids, err := c.indexer.Members(ctx, c.name, index, value)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return c.load(ctx, ids)
}

// scoreRange returns the records of a range index within [min, max]
func (c *collection[T]) scoreRange(ctx context.Context, index string, min, max float64, reverse bool) ([]T, error) {
	c.metrics.Increment(MetricIndexLookups, "collection", c.name, "index", index)
	ids, err := c.indexer.RangeByScore(ctx, c.name, index, min, max, reverse)
	if err != nil {
		return nil, err
	}
	return c.load(ctx, ids)
}

// unbounded range helpers
var (
	minScore = math.Inf(-1)
	maxScore = math.Inf(1)
)
