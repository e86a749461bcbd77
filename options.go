package lexibase

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// Option is a functional option for configuring a Store.
type Option func(*Store) error

// WithStructured enables the structured store: records go to the given
// backend, indexes and sequences to Redis. Without it every session runs on
// the simple store.
func WithStructured(records Backend, client *redis.Client) Option {
	return func(s *Store) error {
		if records == nil || client == nil {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "structured",
				"reason": "record backend and redis client are both required",
			})
		}
		s.records = records
		s.redis = client
		return nil
	}
}

// WithPreferred selects the backend to try first. StorageSimple skips the
// structured store and migration entirely.
func WithPreferred(t StorageType) Option {
	return func(s *Store) error {
		if t != StorageSimple && t != StorageStructured {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field": "preferred",
				"value": t,
			})
		}
		s.preferred = t
		return nil
	}
}

// WithNamespace sets the Redis key namespace of the structured store.
func WithNamespace(ns string) Option {
	return func(s *Store) error {
		s.namespace = ns
		return nil
	}
}

// WithRetention sets how many automatic backups are kept.
func WithRetention(n int) Option {
	return func(s *Store) error {
		if n < 1 {
			return WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "retention",
				"value":  n,
				"reason": "at least one automatic backup must be kept",
			})
		}
		s.retention = n
		return nil
	}
}

// WithSnapshotSink sets where the pre-migration copy of the legacy store is
// saved. Defaults to the "exports/" prefix of the legacy backend.
func WithSnapshotSink(sink SnapshotSink) Option {
	return func(s *Store) error {
		s.sink = sink
		return nil
	}
}

// WithClearLegacyAfterMigration removes the legacy blobs after a verified
// automatic migration.
func WithClearLegacyAfterMigration(clear bool) Option {
	return func(s *Store) error {
		s.clearLegacy = clear
		return nil
	}
}

// WithAutoBackupOnSave takes an automatic backup after every SaveAll.
func WithAutoBackupOnSave(enabled bool) Option {
	return func(s *Store) error {
		s.autoBackupOnSave = enabled
		return nil
	}
}

// WithSchemaUpgrade registers an additional structured schema step.
func WithSchemaUpgrade(step SchemaUpgrade) Option {
	return func(s *Store) error {
		s.upgrades = append(s.upgrades, step)
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(s *Store) error {
		s.logger = loggerOrNoOp(logger)
		return nil
	}
}

// WithMetrics sets the metrics collector. Both backends are instrumented.
func WithMetrics(metrics Metrics) Option {
	return func(s *Store) error {
		s.metrics = metricsOrNoOp(metrics)
		return nil
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) error {
		s.now = now
		return nil
	}
}
