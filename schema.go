package lexibase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// CollectionSchema describes a collection and its indexes. Descriptors are
// written under _schema/ so external tools can discover the layout.
type CollectionSchema struct {
	Name          string        `json:"name"`
	KeyPath       string        `json:"keyPath"`
	AutoIncrement bool          `json:"autoIncrement"`
	Indexes       []IndexSchema `json:"indexes"`
	Version       int           `json:"version"`
}

// IndexSchema describes one index of a collection
type IndexSchema struct {
	Name   string `json:"name"`
	Field  string `json:"field"`
	Sorted bool   `json:"sorted"`
}

// SchemaUpgrade moves the structured store from version To-1 to To.
// Apply must be idempotent: a crash after Apply and before the version bump
// runs it again.
type SchemaUpgrade struct {
	To          int
	Description string
	Apply       func(ctx context.Context, s *StructuredStore) error
}

const schemaPrefix = "_schema/"

func describe[T any](c *collection[T], keyPath string, autoIncrement bool) CollectionSchema {
	cs := CollectionSchema{
		Name:          c.name,
		KeyPath:       keyPath,
		AutoIncrement: autoIncrement,
		Version:       SchemaVersion,
	}
	for _, idx := range c.indexes {
		cs.Indexes = append(cs.Indexes, IndexSchema{Name: idx.Name, Field: idx.Field, Sorted: idx.Sorted})
	}
	return cs
}

// Schema returns the descriptors of the five collections
func (s *StructuredStore) Schema() []CollectionSchema {
	return []CollectionSchema{
		describe(s.words, "id", false),
		describe(s.lessons, "id", false),
		describe(s.progress, "type", false),
		describe(s.settings, "key", false),
		describe(s.backups, "id", true),
	}
}

// initialUpgrade creates the collection descriptors of version 1
func initialUpgrade() SchemaUpgrade {
	return SchemaUpgrade{
		To:          1,
		Description: "create words, lessons, progress, settings and backups",
		Apply: func(ctx context.Context, s *StructuredStore) error {
			for _, cs := range s.Schema() {
				data, err := json.MarshalIndent(cs, "", "  ")
				if err != nil {
					return err
				}
				if err := s.backend.Put(ctx, schemaPrefix+cs.Name+recordSuffix, data); err != nil {
					return fmt.Errorf("failed to write schema of %s: %w", cs.Name, err)
				}
			}
			return nil
		},
	}
}

// upgradeSteps orders the built-in and registered steps by target version
func (s *StructuredStore) upgradeSteps() ([]SchemaUpgrade, error) {
	steps := append([]SchemaUpgrade{initialUpgrade()}, s.cfg.Upgrades...)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].To < steps[j].To })
	for i, step := range steps {
		if step.To != i+1 || step.Apply == nil {
			return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "schema_upgrades",
				"value":  step.To,
				"reason": "upgrade steps must cover every version from 1 without gaps",
			})
		}
	}
	return steps, nil
}

// SchemaVersionStored returns the version recorded in Redis, 0 for a fresh store
func (s *StructuredStore) SchemaVersionStored(ctx context.Context) (int, error) {
	val, err := s.redis.Get(ctx, s.indexer.key("schema", "version")).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}

// upgradeSchema runs every step above the stored version. The version bump is
// guarded by WATCH so two processes opening the store at once apply each
// step's bump exactly once.
func (s *StructuredStore) upgradeSchema(ctx context.Context) error {
	steps, err := s.upgradeSteps()
	if err != nil {
		return err
	}
	versionKey := s.indexer.key("schema", "version")

	for _, step := range steps {
		for {
			err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
				current, err := tx.Get(ctx, versionKey).Int()
				if err != nil && err != redis.Nil {
					return err
				}
				if current >= step.To {
					return nil
				}
				if err := step.Apply(ctx, s); err != nil {
					return fmt.Errorf("schema upgrade to v%d failed: %w", step.To, err)
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, versionKey, step.To, 0)
					return nil
				})
				if err == nil {
					s.logger.Info("schema upgraded", "version", step.To, "description", step.Description)
				}
				return err
			}, versionKey)
			if errors.Is(err, redis.TxFailedErr) {
				continue
			}
			if err != nil {
				return err
			}
			break
		}
	}
	return nil
}
