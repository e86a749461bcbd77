package lexibase

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// recordTx is a best-effort multi-record write on one collection.
//
// Commit captures the original blobs, writes the records, then applies every
// index change in a single MULTI/EXEC. If a write or the index pipeline
// fails the written records are restored from the captured originals. A
// failed restore is reported as ErrRollbackFailed.
type recordTx struct {
	collection string
	backend    Backend
	indexer    *RedisIndexer
	entriesOf  func(data []byte) ([]IndexEntry, error)
	logger     Logger
	metrics    Metrics

	ops []recordOp
}

type recordOp struct {
	id      string
	key     string
	data    []byte // nil deletes the record
	entries []IndexEntry
}

func (tx *recordTx) put(id, key string, data []byte, entries []IndexEntry) {
	tx.ops = append(tx.ops, recordOp{id: id, key: key, data: data, entries: entries})
}

func (tx *recordTx) delete(id, key string) {
	tx.ops = append(tx.ops, recordOp{id: id, key: key})
}

func (tx *recordTx) commit(ctx context.Context) error {
	if len(tx.ops) == 0 {
		return nil
	}

	// Step 1: capture originals and the index entries they carry
	originals := make(map[string][]byte, len(tx.ops))
	oldEntries := make([][]IndexEntry, len(tx.ops))
	for i, op := range tx.ops {
		data, seen := originals[op.key]
		if !seen {
			var err error
			data, err = tx.backend.Get(ctx, op.key)
			if err != nil && !IsNotFound(err) {
				return fmt.Errorf("failed to read %s: %w", op.key, err)
			}
			originals[op.key] = data
		}
		if data != nil {
			entries, err := tx.entriesOf(data)
			if err != nil {
				tx.logger.Warn("unreadable record, its index entries are not removed", "key", op.key, "error", err)
			}
			oldEntries[i] = entries
		}
	}

	// Step 2: write records
	written := make([]string, 0, len(tx.ops))
	for _, op := range tx.ops {
		var err error
		if op.data == nil {
			err = tx.backend.Delete(ctx, op.key)
			if IsNotFound(err) {
				err = nil
			}
		} else {
			err = tx.backend.Put(ctx, op.key, op.data)
		}
		if err != nil {
			return tx.abort(ctx, written, originals, fmt.Errorf("write error for %s: %w", op.key, err))
		}
		written = append(written, op.key)
	}

	// Step 3: apply index changes atomically
	_, err := tx.indexer.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, op := range tx.ops {
			tx.indexer.stage(ctx, pipe, tx.collection, op.id, oldEntries[i], op.entries)
		}
		return nil
	})
	if err != nil {
		return tx.abort(ctx, written, originals, WithContext(ErrTransactionFailed, map[string]interface{}{
			"collection": tx.collection,
			"error":      err.Error(),
		}))
	}

	tx.metrics.Increment(MetricTransactionCommit, "collection", tx.collection)
	return nil
}

// abort restores written keys to their originals (best effort)
func (tx *recordTx) abort(ctx context.Context, written []string, originals map[string][]byte, cause error) error {
	tx.metrics.Increment(MetricTransactionRollback, "collection", tx.collection)

	var rollbackErrors []error
	restored := make(map[string]bool, len(written))
	for i := len(written) - 1; i >= 0; i-- {
		key := written[i]
		if restored[key] {
			continue
		}
		restored[key] = true

		if original := originals[key]; original != nil {
			if err := tx.backend.Put(ctx, key, original); err != nil {
				rollbackErrors = append(rollbackErrors, fmt.Errorf("failed to restore %s: %w", key, err))
			}
			continue
		}
		if err := tx.backend.Delete(ctx, key); err != nil && !IsNotFound(err) {
			rollbackErrors = append(rollbackErrors, fmt.Errorf("failed to delete %s: %w", key, err))
		}
	}

	if len(rollbackErrors) > 0 {
		tx.logger.Error("rollback incomplete", "collection", tx.collection, "errors", len(rollbackErrors))
		return errors.Join(cause, WithContext(ErrRollbackFailed, map[string]interface{}{
			"collection": tx.collection,
			"errors":     errors.Join(rollbackErrors...).Error(),
		}))
	}
	return cause
}
