package lexibase

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StructuredConfig configures a StructuredStore
type StructuredConfig struct {
	Namespace string
	Retention int
	Upgrades  []SchemaUpgrade
	Logger    Logger
	Metrics   Metrics
	Now       func() time.Time
}

func (c StructuredConfig) withDefaults() StructuredConfig {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Retention <= 0 {
		c.Retention = DefaultBackupRetention
	}
	c.Logger = loggerOrNoOp(c.Logger)
	c.Metrics = metricsOrNoOp(c.Metrics)
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// progressRecord is the stored form of the singleton progress
type progressRecord struct {
	Type        string    `json:"type"`
	Data        Progress  `json:"data"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// settingRecord is the stored form of one setting
type settingRecord struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// StructuredStore keeps one blob per record in a Backend and its secondary
// indexes, backup sequence and schema version in Redis.
type StructuredStore struct {
	backend Backend
	redis   *redis.Client
	indexer *RedisIndexer
	cfg     StructuredConfig
	logger  Logger
	metrics Metrics

	words    *collection[Word]
	lessons  *collection[Lesson]
	progress *collection[progressRecord]
	settings *collection[settingRecord]
	backups  *collection[Backup]
	seq      *Counter
	locks    *DistributedLock
	manager  *BackupManager

	openMu sync.Mutex
	opened bool
}

// NewStructuredStore wires the collections. Call Open before use.
func NewStructuredStore(backend Backend, client *redis.Client, cfg StructuredConfig) *StructuredStore {
	cfg = cfg.withDefaults()
	indexer := NewRedisIndexer(client, cfg.Namespace)

	s := &StructuredStore{
		backend: backend,
		redis:   client,
		indexer: indexer,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		seq:     NewCounter(client, indexer.key("seq", CollectionBackups)),
		locks:   NewDistributedLock(client, cfg.Namespace),
	}

	s.words = newCollection(CollectionWords, backend, indexer,
		func(w Word) string { return string(w.ID) }, s.logger, s.metrics,
		IndexDef[Word]{Name: "lessonId", Field: "lessonId", Values: func(w Word) []string { return []string{string(w.LessonID)} }},
		IndexDef[Word]{Name: "category", Field: "category", Values: func(w Word) []string { return []string{string(w.Category)} }},
		IndexDef[Word]{Name: "english", Field: "english", Values: func(w Word) []string { return []string{normalizeName(w.English)} }},
		IndexDef[Word]{Name: "addedDate", Field: "addedDate", Sorted: true, Score: timeScore(func(w Word) time.Time { return w.AddedDate })},
	)
	s.lessons = newCollection(CollectionLessons, backend, indexer,
		func(l Lesson) string { return string(l.ID) }, s.logger, s.metrics,
		IndexDef[Lesson]{Name: "name", Field: "name", Values: func(l Lesson) []string { return []string{normalizeName(l.Name)} }},
		IndexDef[Lesson]{Name: "createdDate", Field: "createdDate", Sorted: true, Score: timeScore(func(l Lesson) time.Time { return l.CreatedDate })},
	)
	s.progress = newCollection(CollectionProgress, backend, indexer,
		func(p progressRecord) string { return p.Type }, s.logger, s.metrics)
	s.settings = newCollection(CollectionSettings, backend, indexer,
		func(r settingRecord) string { return r.Key }, s.logger, s.metrics)
	s.backups = newCollection(CollectionBackups, backend, indexer,
		func(b Backup) string { return backupKey(b.ID) }, s.logger, s.metrics,
		IndexDef[Backup]{Name: "timestamp", Field: "timestamp", Sorted: true, Score: timeScore(func(b Backup) time.Time { return b.Timestamp })},
	)
	s.manager = newBackupManager(s, cfg.Retention)

	return s
}

func timeScore[T any](field func(T) time.Time) func(T) (float64, bool) {
	return func(item T) (float64, bool) {
		return float64(field(item).UnixMilli()), true
	}
}

func timeBound(t time.Time, unbounded float64) float64 {
	if t.IsZero() {
		return unbounded
	}
	return float64(t.UnixMilli())
}

// backupKey zero-pads ids so listing order matches id order
func backupKey(id int64) string {
	return fmt.Sprintf("%012d", id)
}

// Open checks Redis and the record backend and brings the schema up to date.
// It is safe to call more than once.
func (s *StructuredStore) Open(ctx context.Context) error {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	if s.opened {
		return nil
	}
	if err := s.indexer.Ping(ctx); err != nil {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"component": "redis",
			"error":     err.Error(),
		})
	}
	if err := s.backend.Ping(ctx); err != nil {
		return WithContext(ErrBackendUnavailable, map[string]interface{}{
			"component": "records",
			"error":     err.Error(),
		})
	}
	if err := s.upgradeSchema(ctx); err != nil {
		return err
	}
	if err := s.reseedBackupSequence(ctx); err != nil {
		return err
	}
	s.opened = true
	return nil
}

// reseedBackupSequence keeps the Redis sequence ahead of every stored backup
// id, so ids survive Redis losing its data
func (s *StructuredStore) reseedBackupSequence(ctx context.Context) error {
	ids, err := s.backups.ids(ctx)
	if err != nil {
		return err
	}
	var highest int64
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			s.logger.Warn("skipping backup record with a non-numeric id", "id", id)
			continue
		}
		if n > highest {
			highest = n
		}
	}
	if highest == 0 {
		return nil
	}
	if _, err := s.seq.AtLeast(ctx, highest); err != nil {
		return err
	}
	return nil
}

func (s *StructuredStore) Type() StorageType {
	return StorageStructured
}

// BackupManager returns the backup manager bound to this store
func (s *StructuredStore) BackupManager() *BackupManager {
	return s.manager
}

func (s *StructuredStore) Words(ctx context.Context) ([]Word, error) {
	return s.words.all(ctx)
}

// AddWord inserts a word and fails with ErrDuplicateID if the id exists
func (s *StructuredStore) AddWord(ctx context.Context, word Word) error {
	return s.words.insert(ctx, word)
}

func (s *StructuredStore) PutWord(ctx context.Context, word Word) error {
	return s.words.put(ctx, word)
}

func (s *StructuredStore) DeleteWord(ctx context.Context, id ID) error {
	return s.words.remove(ctx, string(id))
}

func (s *StructuredStore) ReplaceWords(ctx context.Context, words []Word) error {
	return s.words.replace(ctx, words)
}

func (s *StructuredStore) WordsByLesson(ctx context.Context, lessonID ID) ([]Word, error) {
	if lessonID == "" {
		return []Word{}, nil
	}
	return s.words.lookup(ctx, "lessonId", string(lessonID))
}

func (s *StructuredStore) WordsByCategory(ctx context.Context, category Category) ([]Word, error) {
	return s.words.lookup(ctx, "category", string(category))
}

func (s *StructuredStore) WordsByEnglish(ctx context.Context, english string) ([]Word, error) {
	return s.words.lookup(ctx, "english", normalizeName(english))
}

func (s *StructuredStore) WordsAddedBetween(ctx context.Context, from, to time.Time) ([]Word, error) {
	return s.words.scoreRange(ctx, "addedDate", timeBound(from, minScore), timeBound(to, maxScore), false)
}

func (s *StructuredStore) Lessons(ctx context.Context) ([]Lesson, error) {
	return s.lessons.all(ctx)
}

func (s *StructuredStore) AddLesson(ctx context.Context, lesson Lesson) error {
	return s.lessons.insert(ctx, lesson)
}

func (s *StructuredStore) PutLesson(ctx context.Context, lesson Lesson) error {
	return s.lessons.put(ctx, lesson)
}

func (s *StructuredStore) DeleteLesson(ctx context.Context, id ID) error {
	return s.lessons.remove(ctx, string(id))
}

func (s *StructuredStore) ReplaceLessons(ctx context.Context, lessons []Lesson) error {
	return s.lessons.replace(ctx, lessons)
}

func (s *StructuredStore) LessonByName(ctx context.Context, name string) (*Lesson, error) {
	lessons, err := s.lessons.lookup(ctx, "name", normalizeName(name))
	if err != nil || len(lessons) == 0 {
		return nil, err
	}
	return &lessons[0], nil
}

// LessonsCreatedBetween returns lessons ordered by creation date
func (s *StructuredStore) LessonsCreatedBetween(ctx context.Context, from, to time.Time) ([]Lesson, error) {
	return s.lessons.scoreRange(ctx, "createdDate", timeBound(from, minScore), timeBound(to, maxScore), false)
}

func (s *StructuredStore) Progress(ctx context.Context) (*Progress, error) {
	rec, found, err := s.progress.get(ctx, ProgressTypeQuiz)
	if err != nil || !found {
		return nil, err
	}
	if rec.Data.LearnedWords == nil {
		rec.Data.LearnedWords = []ID{}
	}
	return &rec.Data, nil
}

func (s *StructuredStore) SaveProgress(ctx context.Context, progress Progress) error {
	return s.progress.put(ctx, progressRecord{
		Type:        ProgressTypeQuiz,
		Data:        progress,
		LastUpdated: s.cfg.Now(),
	})
}

func (s *StructuredStore) Setting(ctx context.Context, key string) (json.RawMessage, error) {
	rec, found, err := s.settings.get(ctx, key)
	if err != nil || !found {
		return nil, err
	}
	return rec.Value, nil
}

func (s *StructuredStore) SaveSetting(ctx context.Context, key string, value json.RawMessage) error {
	if !json.Valid(value) {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"field":  "setting",
			"value":  key,
			"reason": "value is not valid JSON",
		})
	}
	return s.settings.put(ctx, settingRecord{
		Key:         key,
		Value:       value,
		LastUpdated: s.cfg.Now(),
	})
}

func (s *StructuredStore) Settings(ctx context.Context) (map[string]json.RawMessage, error) {
	records, err := s.settings.all(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]json.RawMessage, len(records))
	for _, r := range records {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *StructuredStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	var err error
	if c.Words, err = s.words.count(ctx); err != nil {
		return c, err
	}
	if c.Lessons, err = s.lessons.count(ctx); err != nil {
		return c, err
	}
	if c.Settings, err = s.settings.count(ctx); err != nil {
		return c, err
	}
	p, err := s.Progress(ctx)
	if err != nil {
		return c, err
	}
	c.HasProgress = p != nil
	return c, nil
}

// IsEmpty reports whether the store holds no words and no lessons
func (s *StructuredStore) IsEmpty(ctx context.Context) (bool, error) {
	c, err := s.Counts(ctx)
	if err != nil {
		return false, err
	}
	return c.Words == 0 && c.Lessons == 0, nil
}

func (s *StructuredStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	words, err := s.Words(ctx)
	if err != nil {
		return nil, err
	}
	lessons, err := s.Lessons(ctx)
	if err != nil {
		return nil, err
	}
	progress, err := s.Progress(ctx)
	if err != nil {
		return nil, err
	}
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Words:    words,
		Lessons:  lessons,
		Progress: progress,
		Settings: settings,
	}, nil
}

// Import takes a pre-import backup, then upserts the snapshot
func (s *StructuredStore) Import(ctx context.Context, snap *Snapshot) error {
	if _, err := s.manager.create(ctx, "Before import", BackupPreImport); err != nil {
		return fmt.Errorf("failed to back up before import: %w", err)
	}
	return s.merge(ctx, snap)
}

// merge upserts lessons, words, progress and settings in that order
func (s *StructuredStore) merge(ctx context.Context, snap *Snapshot) error {
	if len(snap.Lessons) > 0 {
		if err := s.lessons.put(ctx, snap.Lessons...); err != nil {
			return fmt.Errorf("failed to write lessons: %w", err)
		}
	}
	if len(snap.Words) > 0 {
		if err := s.words.put(ctx, snap.Words...); err != nil {
			return fmt.Errorf("failed to write words: %w", err)
		}
	}
	if snap.Progress != nil {
		if err := s.SaveProgress(ctx, *snap.Progress); err != nil {
			return fmt.Errorf("failed to write progress: %w", err)
		}
	}
	for key, value := range snap.Settings {
		if err := s.SaveSetting(ctx, key, value); err != nil {
			return fmt.Errorf("failed to write setting %s: %w", key, err)
		}
	}
	return nil
}

// clearLive empties every collection except backups
func (s *StructuredStore) clearLive(ctx context.Context) error {
	if err := s.words.clear(ctx); err != nil {
		return err
	}
	if err := s.lessons.clear(ctx); err != nil {
		return err
	}
	if err := s.progress.clear(ctx); err != nil {
		return err
	}
	return s.settings.clear(ctx)
}

// RebuildIndexes drops and recreates every secondary index from the records
func (s *StructuredStore) RebuildIndexes(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, 3)
	var err error
	if out[CollectionWords], err = s.words.reindex(ctx); err != nil {
		return nil, err
	}
	if out[CollectionLessons], err = s.lessons.reindex(ctx); err != nil {
		return nil, err
	}
	if out[CollectionBackups], err = s.backups.reindex(ctx); err != nil {
		return nil, err
	}
	if err := s.reseedBackupSequence(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("indexes rebuilt", "words", out[CollectionWords], "lessons", out[CollectionLessons], "backups", out[CollectionBackups])
	return out, nil
}

// Backup store capability

func (s *StructuredStore) CreateBackup(ctx context.Context, description string) (*Backup, error) {
	return s.manager.Create(ctx, description)
}

func (s *StructuredStore) CreateAutoBackup(ctx context.Context) (*Backup, error) {
	return s.manager.CreateAuto(ctx)
}

func (s *StructuredStore) Backups(ctx context.Context) ([]Backup, error) {
	return s.manager.List(ctx)
}

func (s *StructuredStore) RestoreBackup(ctx context.Context, id int64) error {
	return s.manager.Restore(ctx, id)
}

func (s *StructuredStore) DeleteBackup(ctx context.Context, id int64) error {
	return s.manager.Delete(ctx, id)
}

// migration marker

type migrationMarker string

const (
	markerNone      migrationMarker = ""
	markerCopying   migrationMarker = "copying"
	markerFailed    migrationMarker = "failed"
	markerCompleted migrationMarker = "completed"
)

func (s *StructuredStore) migrationMarker(ctx context.Context) (migrationMarker, error) {
	val, err := s.redis.Get(ctx, s.indexer.key("migration", "state")).Result()
	if err == redis.Nil {
		return markerNone, nil
	}
	if err != nil {
		return markerNone, err
	}
	return migrationMarker(val), nil
}

func (s *StructuredStore) setMigrationMarker(ctx context.Context, m migrationMarker) error {
	return s.redis.Set(ctx, s.indexer.key("migration", "state"), string(m), 0).Err()
}

// Ping checks Redis and the record backend
func (s *StructuredStore) Ping(ctx context.Context) error {
	if err := s.indexer.Ping(ctx); err != nil {
		return err
	}
	return s.backend.Ping(ctx)
}

// Close releases the record backend. The Redis client belongs to the caller.
func (s *StructuredStore) Close() error {
	return s.backend.Close()
}
