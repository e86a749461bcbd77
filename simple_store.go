package lexibase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SimpleStore is the legacy key-value store. Every collection lives in a
// single blob that is rewritten whole on each change, and any other
// top-level key is a setting.
type SimpleStore struct {
	backend Backend
	logger  Logger
	mu      sync.Mutex
}

// NewSimpleStore creates a simple store over backend
func NewSimpleStore(backend Backend, logger Logger) *SimpleStore {
	return &SimpleStore{
		backend: backend,
		logger:  loggerOrNoOp(logger),
	}
}

func (s *SimpleStore) Type() StorageType {
	return StorageSimple
}

func blobKey(key string) string {
	return key + recordSuffix
}

func isCollectionKey(key string) bool {
	return key == LegacyKeyWords || key == LegacyKeyLessons || key == LegacyKeyProgress
}

// readBlob decodes key into dest and reports whether the key existed
func (s *SimpleStore) readBlob(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := s.backend.Get(ctx, blobKey(key))
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return true, WithContext(ErrInvalidData, map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
	return true, nil
}

func (s *SimpleStore) writeBlob(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.backend.Put(ctx, blobKey(key), data); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SimpleStore) loadWords(ctx context.Context) ([]Word, error) {
	var words []Word
	if _, err := s.readBlob(ctx, LegacyKeyWords, &words); err != nil {
		return nil, err
	}
	if words == nil {
		words = []Word{}
	}
	return words, nil
}

func (s *SimpleStore) loadLessons(ctx context.Context) ([]Lesson, error) {
	var lessons []Lesson
	if _, err := s.readBlob(ctx, LegacyKeyLessons, &lessons); err != nil {
		return nil, err
	}
	if lessons == nil {
		lessons = []Lesson{}
	}
	return lessons, nil
}

func (s *SimpleStore) Words(ctx context.Context) ([]Word, error) {
	return s.loadWords(ctx)
}

// AddWord appends without checking for an existing id
func (s *SimpleStore) AddWord(ctx context.Context, word Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	words, err := s.loadWords(ctx)
	if err != nil {
		return err
	}
	return s.writeBlob(ctx, LegacyKeyWords, append(words, word))
}

// PutWord replaces the word with the same id or appends it
func (s *SimpleStore) PutWord(ctx context.Context, word Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	words, err := s.loadWords(ctx)
	if err != nil {
		return err
	}
	return s.writeBlob(ctx, LegacyKeyWords, upsertWords(words, []Word{word}))
}

func (s *SimpleStore) DeleteWord(ctx context.Context, id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	words, err := s.loadWords(ctx)
	if err != nil {
		return err
	}
	kept := filterWords(words, func(w Word) bool { return w.ID != id })
	if len(kept) == len(words) {
		return nil
	}
	return s.writeBlob(ctx, LegacyKeyWords, kept)
}

func (s *SimpleStore) ReplaceWords(ctx context.Context, words []Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if words == nil {
		words = []Word{}
	}
	return s.writeBlob(ctx, LegacyKeyWords, words)
}

func (s *SimpleStore) WordsByLesson(ctx context.Context, lessonID ID) ([]Word, error) {
	words, err := s.loadWords(ctx)
	if err != nil {
		return nil, err
	}
	return filterWords(words, func(w Word) bool { return w.LessonID == lessonID }), nil
}

func (s *SimpleStore) WordsByCategory(ctx context.Context, category Category) ([]Word, error) {
	words, err := s.loadWords(ctx)
	if err != nil {
		return nil, err
	}
	return filterWords(words, func(w Word) bool { return w.Category == category }), nil
}

func (s *SimpleStore) WordsByEnglish(ctx context.Context, english string) ([]Word, error) {
	words, err := s.loadWords(ctx)
	if err != nil {
		return nil, err
	}
	want := normalizeName(english)
	return filterWords(words, func(w Word) bool { return normalizeName(w.English) == want }), nil
}

func (s *SimpleStore) WordsAddedBetween(ctx context.Context, from, to time.Time) ([]Word, error) {
	words, err := s.loadWords(ctx)
	if err != nil {
		return nil, err
	}
	out := filterWords(words, addedBetween(from, to))
	sortWordsByAdded(out)
	return out, nil
}

func (s *SimpleStore) Lessons(ctx context.Context) ([]Lesson, error) {
	return s.loadLessons(ctx)
}

func (s *SimpleStore) AddLesson(ctx context.Context, lesson Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lessons, err := s.loadLessons(ctx)
	if err != nil {
		return err
	}
	return s.writeBlob(ctx, LegacyKeyLessons, append(lessons, lesson))
}

func (s *SimpleStore) PutLesson(ctx context.Context, lesson Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lessons, err := s.loadLessons(ctx)
	if err != nil {
		return err
	}
	return s.writeBlob(ctx, LegacyKeyLessons, upsertLessons(lessons, []Lesson{lesson}))
}

func (s *SimpleStore) DeleteLesson(ctx context.Context, id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lessons, err := s.loadLessons(ctx)
	if err != nil {
		return err
	}
	kept := make([]Lesson, 0, len(lessons))
	for _, l := range lessons {
		if l.ID != id {
			kept = append(kept, l)
		}
	}
	if len(kept) == len(lessons) {
		return nil
	}
	return s.writeBlob(ctx, LegacyKeyLessons, kept)
}

func (s *SimpleStore) ReplaceLessons(ctx context.Context, lessons []Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if lessons == nil {
		lessons = []Lesson{}
	}
	return s.writeBlob(ctx, LegacyKeyLessons, lessons)
}

func (s *SimpleStore) LessonByName(ctx context.Context, name string) (*Lesson, error) {
	lessons, err := s.loadLessons(ctx)
	if err != nil {
		return nil, err
	}
	want := normalizeName(name)
	for i := range lessons {
		if normalizeName(lessons[i].Name) == want {
			return &lessons[i], nil
		}
	}
	return nil, nil
}

func (s *SimpleStore) Progress(ctx context.Context) (*Progress, error) {
	var p Progress
	found, err := s.readBlob(ctx, LegacyKeyProgress, &p)
	if err != nil || !found {
		return nil, err
	}
	if p.LearnedWords == nil {
		p.LearnedWords = []ID{}
	}
	return &p, nil
}

func (s *SimpleStore) SaveProgress(ctx context.Context, progress Progress) error {
	return s.writeBlob(ctx, LegacyKeyProgress, progress)
}

func validSettingKey(key string) error {
	if !validSegment(key) || isCollectionKey(key) {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"field":  "setting",
			"value":  key,
			"reason": "setting keys must be a single path segment and not a collection name",
		})
	}
	return nil
}

// Setting returns the raw value of key. Values written by older clients as
// bare strings are returned as JSON strings.
func (s *SimpleStore) Setting(ctx context.Context, key string) (json.RawMessage, error) {
	if err := validSettingKey(key); err != nil {
		return nil, err
	}
	data, err := s.backend.Get(ctx, blobKey(key))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read setting %s: %w", key, err)
	}
	if !json.Valid(data) {
		quoted, _ := json.Marshal(string(data))
		return quoted, nil
	}
	return data, nil
}

func (s *SimpleStore) SaveSetting(ctx context.Context, key string, value json.RawMessage) error {
	if err := validSettingKey(key); err != nil {
		return err
	}
	if !json.Valid(value) {
		return WithContext(ErrInvalidData, map[string]interface{}{
			"field":  "setting",
			"value":  key,
			"reason": "value is not valid JSON",
		})
	}
	if err := s.backend.Put(ctx, blobKey(key), value); err != nil {
		return fmt.Errorf("failed to write setting %s: %w", key, err)
	}
	return nil
}

// settingKeys lists every top-level key that is not a collection blob
func (s *SimpleStore) settingKeys(ctx context.Context) ([]string, error) {
	keys, err := s.backend.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list legacy keys: %w", err)
	}
	var out []string
	for _, k := range keys {
		if strings.Contains(k, "/") || !strings.HasSuffix(k, recordSuffix) {
			continue
		}
		name := strings.TrimSuffix(k, recordSuffix)
		if isCollectionKey(name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func (s *SimpleStore) Settings(ctx context.Context) (map[string]json.RawMessage, error) {
	keys, err := s.settingKeys(ctx)
	if err != nil {
		return nil, err
	}
	settings := make(map[string]json.RawMessage, len(keys))
	for _, key := range keys {
		value, err := s.Setting(ctx, key)
		if err != nil {
			return nil, err
		}
		if value != nil {
			settings[key] = value
		}
	}
	return settings, nil
}

func (s *SimpleStore) Counts(ctx context.Context) (Counts, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return Counts{}, err
	}
	return Counts{
		Words:       len(snap.Words),
		Lessons:     len(snap.Lessons),
		HasProgress: snap.Progress != nil,
		Settings:    len(snap.Settings),
	}, nil
}

// HasData reports whether any of the well-known legacy keys is present
func (s *SimpleStore) HasData(ctx context.Context) (bool, error) {
	for _, key := range legacyKeys {
		ok, err := s.backend.Exists(ctx, blobKey(key))
		if err != nil {
			return false, fmt.Errorf("failed to check %s: %w", key, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Snapshot reads everything the store holds
func (s *SimpleStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	words, err := s.loadWords(ctx)
	if err != nil {
		return nil, err
	}
	lessons, err := s.loadLessons(ctx)
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

func (s *SimpleStore) Import(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(snap.Lessons) > 0 {
		lessons, err := s.loadLessons(ctx)
		if err != nil {
			return err
		}
		if err := s.writeBlob(ctx, LegacyKeyLessons, upsertLessons(lessons, snap.Lessons)); err != nil {
			return err
		}
	}
	if len(snap.Words) > 0 {
		words, err := s.loadWords(ctx)
		if err != nil {
			return err
		}
		if err := s.writeBlob(ctx, LegacyKeyWords, upsertWords(words, snap.Words)); err != nil {
			return err
		}
	}
	if snap.Progress != nil {
		if err := s.SaveProgress(ctx, *snap.Progress); err != nil {
			return err
		}
	}
	for key, value := range snap.Settings {
		if err := s.SaveSetting(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Clear removes every legacy blob: collections and settings
func (s *SimpleStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings, err := s.settingKeys(ctx)
	if err != nil {
		return err
	}
	keys := append([]string{LegacyKeyWords, LegacyKeyLessons, LegacyKeyProgress}, settings...)
	for _, key := range keys {
		if err := s.backend.Delete(ctx, blobKey(key)); err != nil && !IsNotFound(err) {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	s.logger.Info("legacy store cleared", "keys", len(keys))
	return nil
}

// UsedBytes sums the size of every legacy blob
func (s *SimpleStore) UsedBytes(ctx context.Context) (int64, error) {
	settings, err := s.settingKeys(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, key := range append([]string{LegacyKeyWords, LegacyKeyLessons, LegacyKeyProgress}, settings...) {
		data, err := s.backend.Get(ctx, blobKey(key))
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return 0, err
		}
		total += int64(len(data))
	}
	return total, nil
}

// Ping checks the underlying backend
func (s *SimpleStore) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

func (s *SimpleStore) Close() error {
	return s.backend.Close()
}
