package lexibase

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// EntityStore is the set of operations both persistence backends provide.
// Reads return empty, non-nil slices when nothing is stored.
type EntityStore interface {
	Type() StorageType

	Words(ctx context.Context) ([]Word, error)
	AddWord(ctx context.Context, word Word) error
	PutWord(ctx context.Context, word Word) error
	DeleteWord(ctx context.Context, id ID) error
	ReplaceWords(ctx context.Context, words []Word) error
	WordsByLesson(ctx context.Context, lessonID ID) ([]Word, error)
	WordsByCategory(ctx context.Context, category Category) ([]Word, error)
	WordsByEnglish(ctx context.Context, english string) ([]Word, error)
	WordsAddedBetween(ctx context.Context, from, to time.Time) ([]Word, error)

	Lessons(ctx context.Context) ([]Lesson, error)
	AddLesson(ctx context.Context, lesson Lesson) error
	PutLesson(ctx context.Context, lesson Lesson) error
	DeleteLesson(ctx context.Context, id ID) error
	ReplaceLessons(ctx context.Context, lessons []Lesson) error
	LessonByName(ctx context.Context, name string) (*Lesson, error)

	// Progress returns nil when none was ever saved
	Progress(ctx context.Context) (*Progress, error)
	SaveProgress(ctx context.Context, progress Progress) error

	// Setting returns nil when the key is absent
	Setting(ctx context.Context, key string) (json.RawMessage, error)
	SaveSetting(ctx context.Context, key string, value json.RawMessage) error
	Settings(ctx context.Context) (map[string]json.RawMessage, error)

	Counts(ctx context.Context) (Counts, error)
	Snapshot(ctx context.Context) (*Snapshot, error)
	// Import upserts every record of the snapshot by id
	Import(ctx context.Context, snap *Snapshot) error

	Close() error
}

// BackupStore is implemented by backends that keep point-in-time backups
type BackupStore interface {
	CreateBackup(ctx context.Context, description string) (*Backup, error)
	CreateAutoBackup(ctx context.Context) (*Backup, error)
	Backups(ctx context.Context) ([]Backup, error)
	RestoreBackup(ctx context.Context, id int64) error
	DeleteBackup(ctx context.Context, id int64) error
}

var (
	_ EntityStore = (*SimpleStore)(nil)
	_ EntityStore = (*StructuredStore)(nil)
	_ BackupStore = (*StructuredStore)(nil)
)

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func filterWords(words []Word, keep func(Word) bool) []Word {
	out := []Word{}
	for _, w := range words {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}

// addedBetween keeps words with from <= addedDate <= to; zero bounds are open
func addedBetween(from, to time.Time) func(Word) bool {
	return func(w Word) bool {
		if !from.IsZero() && w.AddedDate.Before(from) {
			return false
		}
		if !to.IsZero() && w.AddedDate.After(to) {
			return false
		}
		return true
	}
}

func sortWordsByAdded(words []Word) {
	sort.SliceStable(words, func(i, j int) bool {
		return words[i].AddedDate.Before(words[j].AddedDate)
	})
}

// upsertWords returns base with every word of incoming replacing or appending by id
func upsertWords(base, incoming []Word) []Word {
	index := make(map[ID]int, len(base))
	for i, w := range base {
		index[w.ID] = i
	}
	for _, w := range incoming {
		if i, ok := index[w.ID]; ok {
			base[i] = w
			continue
		}
		index[w.ID] = len(base)
		base = append(base, w)
	}
	return base
}

func upsertLessons(base, incoming []Lesson) []Lesson {
	index := make(map[ID]int, len(base))
	for i, l := range base {
		index[l.ID] = i
	}
	for _, l := range incoming {
		if i, ok := index[l.ID]; ok {
			base[i] = l
			continue
		}
		index[l.ID] = len(base)
		base = append(base, l)
	}
	return base
}

func marshalSetting(value interface{}) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil, WithContext(ErrInvalidData, map[string]interface{}{
			"reason": "setting value is not serializable",
		})
	}
	return data, nil
}
