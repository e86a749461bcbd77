package lexibase

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// restoreLockTTL bounds how long a crashed restore blocks others
const restoreLockTTL = 5 * time.Minute

// BackupManager creates, lists, restores and prunes backups of a StructuredStore.
// Backup ids come from a Redis sequence and are never reused.
type BackupManager struct {
	store     *StructuredStore
	retention int
}

func newBackupManager(store *StructuredStore, retention int) *BackupManager {
	return &BackupManager{
		store:     store,
		retention: retention,
	}
}

// Retention is the number of automatic backups kept
func (m *BackupManager) Retention() int {
	return m.retention
}

// Create snapshots every live collection into a new manual backup
func (m *BackupManager) Create(ctx context.Context, description string) (*Backup, error) {
	return m.create(ctx, description, BackupManual)
}

// CreateAuto takes an automatic backup and prunes old automatic backups.
// A failed prune is logged and does not fail the backup.
func (m *BackupManager) CreateAuto(ctx context.Context) (*Backup, error) {
	b, err := m.create(ctx, AutoBackupDescription, BackupAuto)
	if err != nil {
		return nil, err
	}
	if _, err := m.Prune(ctx); err != nil {
		m.store.logger.Warn("failed to prune automatic backups", "error", err)
	}
	return b, nil
}

func (m *BackupManager) create(ctx context.Context, description string, kind BackupKind) (*Backup, error) {
	if description == "" {
		description = ManualBackupDescription
	}

	snap, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot store: %w", err)
	}
	id, err := m.store.seq.Next(ctx)
	if err != nil {
		return nil, err
	}

	b := Backup{
		ID:          id,
		Timestamp:   m.store.cfg.Now(),
		Description: description,
		Kind:        kind,
		Data:        *snap,
		Version:     SchemaVersion,
	}
	if err := m.store.backups.insert(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to store backup %d: %w", id, err)
	}

	m.store.metrics.Increment(MetricBackupCreated, "kind", string(kind))
	m.store.logger.Info("backup created", "id", id, "kind", kind, "words", len(snap.Words), "lessons", len(snap.Lessons))
	return &b, nil
}

// List returns every backup, newest first. Backups sharing a timestamp are
// ordered by id, highest first.
func (m *BackupManager) List(ctx context.Context) ([]Backup, error) {
	backups, err := m.store.backups.scoreRange(ctx, "timestamp", minScore, maxScore, true)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].Timestamp.Equal(backups[j].Timestamp) {
			return backups[i].Timestamp.After(backups[j].Timestamp)
		}
		return backups[i].ID > backups[j].ID
	})
	return backups, nil
}

// Get loads one backup or fails with ErrBackupNotFound
func (m *BackupManager) Get(ctx context.Context, id int64) (*Backup, error) {
	b, found, err := m.store.backups.get(ctx, backupKey(id))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, WithContext(ErrBackupNotFound, map[string]interface{}{"id": id})
	}
	return &b, nil
}

// Delete removes a backup; deleting an unknown id is a no-op
func (m *BackupManager) Delete(ctx context.Context, id int64) error {
	return m.store.backups.remove(ctx, backupKey(id))
}

// Restore replaces the live collections with the contents of a backup.
// Records keep their ids. Backups themselves are not touched. Only one
// restore runs at a time across processes; others fail with ErrLockHeld.
func (m *BackupManager) Restore(ctx context.Context, id int64) error {
	b, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	release, err := m.store.locks.Lock(ctx, "restore", restoreLockTTL)
	if err != nil {
		return err
	}
	defer release()

	if err := m.store.clearLive(ctx); err != nil {
		return fmt.Errorf("failed to clear live collections: %w", err)
	}
	if err := m.store.merge(ctx, &b.Data); err != nil {
		return fmt.Errorf("failed to restore backup %d: %w", id, err)
	}

	m.store.metrics.Increment(MetricBackupRestored)
	m.store.logger.Info("backup restored", "id", id, "words", len(b.Data.Words), "lessons", len(b.Data.Lessons))
	return nil
}

// Prune deletes automatic backups beyond the retention count, oldest first.
// Manual, pre-import and post-migration backups are never pruned.
func (m *BackupManager) Prune(ctx context.Context) (int, error) {
	backups, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	var auto []Backup
	for _, b := range backups {
		if b.Kind == BackupAuto {
			auto = append(auto, b)
		}
	}
	if len(auto) <= m.retention {
		return 0, nil
	}

	pruned := 0
	for _, b := range auto[m.retention:] {
		if err := m.Delete(ctx, b.ID); err != nil {
			return pruned, err
		}
		pruned++
		m.store.metrics.Increment(MetricBackupPruned)
	}
	m.store.logger.Debug("automatic backups pruned", "count", pruned, "retention", m.retention)
	return pruned, nil
}
