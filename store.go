package lexibase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the single entry point for persistence. On first use it decides
// which backend serves the session: the structured store when it is
// configured, reachable and migrated, otherwise the simple store. That
// decision holds until Close; only a successful explicit Migrate switches a
// simple session to the structured store.
//
//	store, err := lexibase.New(lexibase.NewFilesystemBackend("./data/legacy"),
//	    lexibase.WithStructured(lexibase.NewFilesystemBackend("./data/records"), redisClient),
//	    lexibase.WithLogger(logger),
//	)
//	words, err := store.Words(ctx)
type Store struct {
	records Backend
	redis   *redis.Client

	preferred        StorageType
	namespace        string
	retention        int
	sink             SnapshotSink
	clearLegacy      bool
	autoBackupOnSave bool
	upgrades         []SchemaUpgrade
	logger           Logger
	metrics          Metrics
	now              func() time.Time

	simple     *SimpleStore
	structured *StructuredStore
	migrator   *Migrator

	mu             sync.Mutex
	ready          bool
	active         EntityStore
	fallbackReason string
}

// New creates a Store over the legacy backend. Nothing is contacted until
// the first operation or EnsureReady.
func New(legacy Backend, opts ...Option) (*Store, error) {
	if legacy == nil {
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "legacy",
			"reason": "legacy backend is required",
		})
	}

	s := &Store{
		preferred: StorageStructured,
		namespace: DefaultNamespace,
		retention: DefaultBackupRetention,
		logger:    &NoOpLogger{},
		metrics:   &NoOpMetrics{},
		now:       time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	legacyBackend := Backend(NewInstrumentedBackend(legacy, "legacy", s.metrics))
	s.simple = NewSimpleStore(legacyBackend, s.logger)
	if s.sink == nil {
		s.sink = BackendSink{Backend: legacyBackend, Prefix: "exports"}
	}

	if s.records != nil {
		s.structured = NewStructuredStore(NewInstrumentedBackend(s.records, "records", s.metrics), s.redis, StructuredConfig{
			Namespace: s.namespace,
			Retention: s.retention,
			Upgrades:  s.upgrades,
			Logger:    s.logger,
			Metrics:   s.metrics,
			Now:       s.now,
		})
		s.migrator = NewMigrator(s.simple, s.structured, s.sink, s.logger, s.metrics)
	}

	return s, nil
}

// EnsureReady selects the backend for this session. Concurrent callers wait
// for one initialization. Backend failures never surface here; they make the
// session fall back to the simple store. Only context errors are returned.
func (s *Store) EnsureReady(ctx context.Context) error {
	_, err := s.backend(ctx)
	return err
}

func (s *Store) backend(ctx context.Context) (EntityStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return s.active, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	active, reason := s.selectBackend(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.active = active
	s.fallbackReason = reason
	s.ready = true
	s.metrics.Gauge(MetricActiveBackend, 1, "type", string(active.Type()))
	s.logger.Info("persistence ready", "type", active.Type(), "fallback_reason", reason)
	return active, nil
}

func (s *Store) fallback(reason string, err error) (EntityStore, string) {
	if err != nil {
		s.logger.Warn("falling back to simple store", "reason", reason, "error", err)
	}
	s.metrics.Increment(MetricFallback, "reason", reason)
	return s.simple, reason
}

func (s *Store) selectBackend(ctx context.Context) (EntityStore, string) {
	if s.preferred == StorageSimple {
		return s.simple, ""
	}
	if s.structured == nil {
		return s.fallback(FallbackNotConfigured, nil)
	}
	if err := s.structured.Open(ctx); err != nil {
		return s.fallback(FallbackUnavailable, err)
	}

	needed, err := s.migrator.Needed(ctx)
	if err != nil {
		return s.fallback(FallbackMigrationCheck, err)
	}
	if needed {
		res := s.migrator.Migrate(ctx, MigrationOptions{ClearLegacy: s.clearLegacy})
		if !res.Success {
			reason := FallbackMigrationFailed
			switch {
			case errors.Is(res.Err, ErrMigrationVerificationMismatch):
				reason = FallbackVerificationMismatch
			case errors.Is(res.Err, ErrLockHeld):
				reason = FallbackMigrationInProgress
			}
			return s.fallback(reason, res.Err)
		}
	}
	return s.structured, ""
}

// ActiveType reports the backend serving this session
func (s *Store) ActiveType(ctx context.Context) (StorageType, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return "", err
	}
	return b.Type(), nil
}

// Words

func (s *Store) Words(ctx context.Context) ([]Word, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.Words(ctx)
}

// AddWord stores a new word. A missing id, category or added date is filled in.
func (s *Store) AddWord(ctx context.Context, word Word) (Word, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return word, err
	}
	if word.ID == "" {
		word.ID = NewWordID()
	}
	if word.Category == "" {
		word.Category = CategoryGeneral
	}
	if word.AddedDate.IsZero() {
		word.AddedDate = s.now().UTC()
	}
	return word, b.AddWord(ctx, word)
}

// UpdateWord replaces the word with the same id, inserting it if absent
func (s *Store) UpdateWord(ctx context.Context, word Word) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	return b.PutWord(ctx, word)
}

func (s *Store) DeleteWord(ctx context.Context, id ID) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	return b.DeleteWord(ctx, id)
}

// SaveWords makes the stored words exactly words
func (s *Store) SaveWords(ctx context.Context, words []Word) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	return b.ReplaceWords(ctx, words)
}

func (s *Store) WordsByLesson(ctx context.Context, lessonID ID) ([]Word, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.WordsByLesson(ctx, lessonID)
}

func (s *Store) WordsByCategory(ctx context.Context, category Category) ([]Word, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.WordsByCategory(ctx, category)
}

// WordsByEnglish matches the English text ignoring case and surrounding space
func (s *Store) WordsByEnglish(ctx context.Context, english string) ([]Word, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.WordsByEnglish(ctx, english)
}

// WordsAddedBetween returns words added in [from, to], oldest first. A zero bound is open.
func (s *Store) WordsAddedBetween(ctx context.Context, from, to time.Time) ([]Word, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.WordsAddedBetween(ctx, from, to)
}

// Lessons

func (s *Store) Lessons(ctx context.Context) ([]Lesson, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.Lessons(ctx)
}

// AddLesson stores a new lesson. A missing id or creation date is filled in.
func (s *Store) AddLesson(ctx context.Context, lesson Lesson) (Lesson, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return lesson, err
	}
	if lesson.ID == "" {
		lesson.ID = NewLessonID()
	}
	if lesson.CreatedDate.IsZero() {
		lesson.CreatedDate = s.now().UTC()
	}
	return lesson, b.AddLesson(ctx, lesson)
}

func (s *Store) UpdateLesson(ctx context.Context, lesson Lesson) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	return b.PutLesson(ctx, lesson)
}

// DeleteLesson removes the lesson only; its words keep their lessonId
func (s *Store) DeleteLesson(ctx context.Context, id ID) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	return b.DeleteLesson(ctx, id)
}

// DeleteLessonCascade removes a lesson and every word that belongs to it.
// It returns the number of words removed.
func (s *Store) DeleteLessonCascade(ctx context.Context, id ID) (int, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return 0, err
	}
	words, err := b.WordsByLesson(ctx, id)
	if err != nil {
		return 0, err
	}
	for _, w := range words {
		if err := b.DeleteWord(ctx, w.ID); err != nil {
			return 0, fmt.Errorf("failed to delete word %s of lesson %s: %w", w.ID, id, err)
		}
	}
	return len(words), b.DeleteLesson(ctx, id)
}

func (s *Store) SaveLessons(ctx context.Context, lessons []Lesson) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	return b.ReplaceLessons(ctx, lessons)
}

// LessonByName finds a lesson ignoring case; nil when none matches
func (s *Store) LessonByName(ctx context.Context, name string) (*Lesson, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	return b.LessonByName(ctx, name)
}

// Progress and settings

// Progress returns the stored progress or DefaultProgress when none was saved
func (s *Store) Progress(ctx context.Context) (Progress, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return Progress{}, err
	}
	p, err := b.Progress(ctx)
	if err != nil {
		return Progress{}, err
	}
	if p == nil {
		return DefaultProgress(), nil
	}
	return *p, nil
}

func (s *Store) SaveProgress(ctx context.Context, progress Progress) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	if progress.LearnedWords == nil {
		progress.LearnedWords = []ID{}
	}
	return b.SaveProgress(ctx, progress)
}

// Setting decodes the value of key into dest and reports whether it existed
func (s *Store) Setting(ctx context.Context, key string, dest interface{}) (bool, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return false, err
	}
	raw, err := b.Setting(ctx, key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return true, WithContext(ErrInvalidData, map[string]interface{}{
			"setting": key,
			"error":   err.Error(),
		})
	}
	return true, nil
}

// SaveSetting stores any JSON-serializable value under key
func (s *Store) SaveSetting(ctx context.Context, key string, value interface{}) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	raw, err := marshalSetting(value)
	if err != nil {
		return err
	}
	return b.SaveSetting(ctx, key, raw)
}

// SaveAll writes every present part of the batch: words, lessons, progress,
// then the two well-known settings. It stops at the first failure. With
// WithAutoBackupOnSave an automatic backup follows; its failure is logged.
func (s *Store) SaveAll(ctx context.Context, batch Batch) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}

	if batch.Words != nil {
		if err := b.ReplaceWords(ctx, batch.Words); err != nil {
			return fmt.Errorf("failed to save words: %w", err)
		}
	}
	if batch.Lessons != nil {
		if err := b.ReplaceLessons(ctx, batch.Lessons); err != nil {
			return fmt.Errorf("failed to save lessons: %w", err)
		}
	}
	if batch.Progress != nil {
		if err := s.SaveProgress(ctx, *batch.Progress); err != nil {
			return fmt.Errorf("failed to save progress: %w", err)
		}
	}
	if batch.CurrentLessonID != nil {
		if err := s.SaveSetting(ctx, SettingCurrentLessonID, *batch.CurrentLessonID); err != nil {
			return err
		}
	}
	if batch.SelectedPracticeLessons != nil {
		if err := s.SaveSetting(ctx, SettingSelectedPracticeLessons, batch.SelectedPracticeLessons); err != nil {
			return err
		}
	}

	if s.autoBackupOnSave {
		if bs, ok := b.(BackupStore); ok {
			if _, err := bs.CreateAutoBackup(ctx); err != nil {
				s.logger.Warn("automatic backup after save failed", "error", err)
			}
		}
	}
	return nil
}

// Export and import

// Export returns a portable copy of everything the active backend holds
func (s *Store) Export(ctx context.Context) (*Export, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := b.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.Progress == nil {
		p := DefaultProgress()
		snap.Progress = &p
	}
	snap.Settings = withSettingDefaults(snap.Settings)
	return &Export{
		Snapshot:    *snap,
		ExportDate:  s.now().UTC(),
		StorageType: b.Type(),
		Version:     ExportFormatVersion,
	}, nil
}

// Import merges an export into the active backend by id. The structured
// store takes a pre-import backup first.
func (s *Store) Import(ctx context.Context, exp *Export) error {
	b, err := s.backend(ctx)
	if err != nil {
		return err
	}
	if exp == nil {
		return WithContext(ErrInvalidData, map[string]interface{}{"reason": "nothing to import"})
	}
	if err := b.Import(ctx, &exp.Snapshot); err != nil {
		return err
	}
	s.logger.Info("import finished", "words", len(exp.Words), "lessons", len(exp.Lessons), "type", b.Type())
	return nil
}

// Backups

func (s *Store) backupStore(ctx context.Context, op string) (BackupStore, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}
	bs, ok := b.(BackupStore)
	if !ok {
		return nil, WithContext(ErrUnsupportedOperation, map[string]interface{}{
			"operation": op,
			"backend":   b.Type(),
		})
	}
	return bs, nil
}

func (s *Store) CreateBackup(ctx context.Context, description string) (*Backup, error) {
	bs, err := s.backupStore(ctx, "create-backup")
	if err != nil {
		return nil, err
	}
	return bs.CreateBackup(ctx, description)
}

// CreateAutoBackup takes an automatic backup and applies retention
func (s *Store) CreateAutoBackup(ctx context.Context) (*Backup, error) {
	bs, err := s.backupStore(ctx, "create-auto-backup")
	if err != nil {
		return nil, err
	}
	return bs.CreateAutoBackup(ctx)
}

// Backups lists backups newest first
func (s *Store) Backups(ctx context.Context) ([]Backup, error) {
	bs, err := s.backupStore(ctx, "list-backups")
	if err != nil {
		return nil, err
	}
	return bs.Backups(ctx)
}

func (s *Store) RestoreBackup(ctx context.Context, id int64) error {
	bs, err := s.backupStore(ctx, "restore-backup")
	if err != nil {
		return err
	}
	return bs.RestoreBackup(ctx, id)
}

func (s *Store) DeleteBackup(ctx context.Context, id int64) error {
	bs, err := s.backupStore(ctx, "delete-backup")
	if err != nil {
		return err
	}
	return bs.DeleteBackup(ctx, id)
}

// Migration

// Migrate runs the legacy migration on demand. A successful run switches a
// session that fell back to the simple store over to the structured store.
func (s *Store) Migrate(ctx context.Context, opts MigrationOptions) *MigrationResult {
	if s.migrator == nil {
		return &MigrationResult{
			State:   MigrationFailed,
			Message: "structured store is not configured",
			Err:     WithContext(ErrBackendUnavailable, map[string]interface{}{"component": "structured"}),
		}
	}
	if _, err := s.backend(ctx); err != nil {
		return &MigrationResult{State: MigrationFailed, Message: "context done", Err: err}
	}

	res := s.migrator.Migrate(ctx, opts)
	if res.Success {
		s.mu.Lock()
		if s.active != EntityStore(s.structured) {
			s.logger.Info("switching session to structured store after migration")
			s.metrics.Gauge(MetricActiveBackend, 0, "type", string(StorageSimple))
			s.metrics.Gauge(MetricActiveBackend, 1, "type", string(StorageStructured))
		}
		s.active = s.structured
		s.fallbackReason = ""
		s.mu.Unlock()
	}
	return res
}

// VerifyMigration compares the legacy store with the structured store
func (s *Store) VerifyMigration(ctx context.Context) (*Verification, error) {
	if s.migrator == nil {
		return nil, WithContext(ErrBackendUnavailable, map[string]interface{}{"component": "structured"})
	}
	return s.migrator.Verify(ctx)
}

// MigrationStatus returns the result of the last migration run in this
// process, or an idle result when none ran
func (s *Store) MigrationStatus() *MigrationResult {
	if s.migrator != nil {
		if last := s.migrator.Last(); last != nil {
			return last
		}
	}
	return &MigrationResult{State: MigrationIdle}
}

// RebuildIndexes recreates the secondary indexes of the structured store
func (s *Store) RebuildIndexes(ctx context.Context) (map[string]int, error) {
	if s.structured == nil {
		return nil, WithContext(ErrUnsupportedOperation, map[string]interface{}{"operation": "rebuild-indexes"})
	}
	if err := s.structured.Open(ctx); err != nil {
		return nil, err
	}
	return s.structured.RebuildIndexes(ctx)
}

// Info describes the state of the store
type Info struct {
	Type           StorageType      `json:"type"`
	Ready          bool             `json:"ready"`
	FallbackReason string           `json:"fallbackReason,omitempty"`
	Counts         Counts           `json:"counts"`
	Backups        int              `json:"backups"`
	LegacyBytes    int64            `json:"legacyBytes"`
	SchemaVersion  int              `json:"schemaVersion"`
	Migration      *MigrationResult `json:"migration"`
}

// Info reports the active backend, its counts and storage usage
func (s *Store) Info(ctx context.Context) (*Info, error) {
	b, err := s.backend(ctx)
	if err != nil {
		return nil, err
	}

	// Read before taking s.mu; the status must not wait on a running migration
	status := s.MigrationStatus()

	s.mu.Lock()
	info := &Info{
		Type:           b.Type(),
		Ready:          s.ready,
		FallbackReason: s.fallbackReason,
		Migration:      status,
	}
	s.mu.Unlock()

	if info.Counts, err = b.Counts(ctx); err != nil {
		return nil, err
	}
	if info.LegacyBytes, err = s.simple.UsedBytes(ctx); err != nil {
		return nil, err
	}
	if bs, ok := b.(BackupStore); ok {
		backups, err := bs.Backups(ctx)
		if err != nil {
			return nil, err
		}
		info.Backups = len(backups)
	}
	if b.Type() == StorageStructured {
		if info.SchemaVersion, err = s.structured.SchemaVersionStored(ctx); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// Close releases both backends. The Redis client belongs to the caller.
func (s *Store) Close() error {
	var errs []error
	if err := s.simple.Close(); err != nil {
		errs = append(errs, fmt.Errorf("legacy close: %w", err))
	}
	if s.structured != nil {
		if err := s.structured.Close(); err != nil {
			errs = append(errs, fmt.Errorf("records close: %w", err))
		}
	}
	return errors.Join(errs...)
}
