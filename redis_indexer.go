package lexibase

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisIndexer keeps the secondary indexes of the structured store.
//
// Equality indexes are Redis sets keyed {ns}:idx:{collection}:{index}:{value}
// whose members are record ids. Range indexes are sorted sets keyed
// {ns}:zidx:{collection}:{index} scored by the indexed value.
type RedisIndexer struct {
	redis     *redis.Client
	namespace string
}

// IndexEntry is one index membership of a record
type IndexEntry struct {
	Index  string
	Value  string  // equality indexes
	Score  float64 // range indexes
	Sorted bool
}

// NewRedisIndexer creates a new Redis-backed indexer
func NewRedisIndexer(client *redis.Client, namespace string) *RedisIndexer {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &RedisIndexer{
		redis:     client,
		namespace: namespace,
	}
}

func (r *RedisIndexer) setKey(collection, index, value string) string {
	return fmt.Sprintf("%s:idx:%s:%s:%s", r.namespace, collection, index, value)
}

func (r *RedisIndexer) sortedKey(collection, index string) string {
	return fmt.Sprintf("%s:zidx:%s:%s", r.namespace, collection, index)
}

// key returns a non-index key in the namespace, e.g. key("seq", "backups")
func (r *RedisIndexer) key(parts ...string) string {
	k := r.namespace
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// stage queues the index changes of one record onto a MULTI pipeline:
// entries in old but not in new are removed, entries in new are (re)added.
func (r *RedisIndexer) stage(ctx context.Context, pipe redis.Pipeliner, collection, id string, old, new []IndexEntry) {
	keep := make(map[string]bool, len(new))
	for _, e := range new {
		keep[r.entryKey(collection, e)] = true
	}
	for _, e := range old {
		if e.Sorted {
			if !keep[r.entryKey(collection, e)] {
				pipe.ZRem(ctx, r.sortedKey(collection, e.Index), id)
			}
			continue
		}
		if !keep[r.entryKey(collection, e)] {
			pipe.SRem(ctx, r.setKey(collection, e.Index, e.Value), id)
		}
	}
	for _, e := range new {
		if e.Sorted {
			pipe.ZAdd(ctx, r.sortedKey(collection, e.Index), redis.Z{Score: e.Score, Member: id})
			continue
		}
		pipe.SAdd(ctx, r.setKey(collection, e.Index, e.Value), id)
	}
}

func (r *RedisIndexer) entryKey(collection string, e IndexEntry) string {
	if e.Sorted {
		return r.sortedKey(collection, e.Index)
	}
	return r.setKey(collection, e.Index, e.Value)
}

// Members returns the ids indexed under value
func (r *RedisIndexer) Members(ctx context.Context, collection, index, value string) ([]string, error) {
	members, err := r.redis.SMembers(ctx, r.setKey(collection, index, value)).Result()
	if err == redis.Nil {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s.%s: %w", collection, index, err)
	}
	return members, nil
}

// RangeByScore returns the ids whose score lies in [min, max], ascending, or
// descending when reverse is set. Infinite bounds are open.
func (r *RedisIndexer) RangeByScore(ctx context.Context, collection, index string, min, max float64, reverse bool) ([]string, error) {
	lo, hi := scoreBound(min), scoreBound(max)
	key := r.sortedKey(collection, index)

	var (
		ids []string
		err error
	)
	if reverse {
		ids, err = r.redis.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	} else {
		ids, err = r.redis.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: lo, Max: hi}).Result()
	}
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to range index %s.%s: %w", collection, index, err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func scoreBound(v float64) string {
	switch {
	case math.IsInf(v, -1):
		return "-inf"
	case math.IsInf(v, 1):
		return "+inf"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DropCollection deletes every index key of a collection
func (r *RedisIndexer) DropCollection(ctx context.Context, collection string) error {
	for _, pattern := range []string{
		fmt.Sprintf("%s:idx:%s:*", r.namespace, collection),
		fmt.Sprintf("%s:zidx:%s:*", r.namespace, collection),
	} {
		keys, err := r.scan(ctx, pattern)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			continue
		}
		if err := r.redis.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to drop indexes of %s: %w", collection, err)
		}
	}
	return nil
}

func (r *RedisIndexer) scan(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := r.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// Ping checks Redis connectivity
func (r *RedisIndexer) Ping(ctx context.Context) error {
	return r.redis.Ping(ctx).Err()
}
