package lexibase

import (
	"encoding/json"
	"time"
)

// StorageType names a persistence backend
type StorageType string

const (
	StorageSimple     StorageType = "simple"
	StorageStructured StorageType = "structured"
)

// Category classifies a word
type Category string

const (
	CategoryGeneral   Category = "general"
	CategoryNoun      Category = "noun"
	CategoryVerb      Category = "verb"
	CategoryAdjective Category = "adjective"
	CategoryAdverb    Category = "adverb"
)

// Word is a vocabulary entry
type Word struct {
	ID           ID         `json:"id"`
	English      string     `json:"english"`
	Vietnamese   string     `json:"vietnamese"`
	Example      string     `json:"example,omitempty"`
	Category     Category   `json:"category"`
	LessonID     ID         `json:"lessonId"`
	AddedDate    time.Time  `json:"addedDate"`
	Reviewed     int        `json:"reviewed"`
	LastReviewed *time.Time `json:"lastReviewed"`
}

// Lesson groups words
type Lesson struct {
	ID          ID        `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	CreatedDate time.Time `json:"createdDate"`
}

// Progress holds the singleton quiz statistics
type Progress struct {
	TotalQuestions int  `json:"totalQuestions"`
	CorrectAnswers int  `json:"correctAnswers"`
	TotalWords     int  `json:"totalWords"`
	LearnedWords   []ID `json:"learnedWords"`
}

// DefaultProgress is what readers see before any progress was saved
func DefaultProgress() Progress {
	return Progress{LearnedWords: []ID{}}
}

// Snapshot is a full copy of the user data of one store
type Snapshot struct {
	Words    []Word                     `json:"words"`
	Lessons  []Lesson                   `json:"lessons"`
	Progress *Progress                  `json:"progress"`
	Settings map[string]json.RawMessage `json:"settings"`
}

// Export is the portable document produced by Store.Export and consumed by Store.Import
type Export struct {
	Snapshot
	ExportDate  time.Time   `json:"exportDate"`
	StorageType StorageType `json:"storageType"`
	Version     int         `json:"version"`
}

// BackupKind records why a backup was taken
type BackupKind string

const (
	BackupManual        BackupKind = "manual"
	BackupAuto          BackupKind = "auto"
	BackupPreImport     BackupKind = "pre-import"
	BackupPostMigration BackupKind = "post-migration"
)

// Backup is a point-in-time snapshot kept by the structured store
type Backup struct {
	ID          int64      `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Description string     `json:"description"`
	Kind        BackupKind `json:"kind"`
	Data        Snapshot   `json:"data"`
	Version     int        `json:"version"`
}

// BackupSummary is a Backup without its payload, used for listings
type BackupSummary struct {
	ID          int64      `json:"id"`
	Timestamp   time.Time  `json:"timestamp"`
	Description string     `json:"description"`
	Kind        BackupKind `json:"kind"`
	Version     int        `json:"version"`
	Words       int        `json:"words"`
	Lessons     int        `json:"lessons"`
}

// Summary strips the payload of a backup
func (b Backup) Summary() BackupSummary {
	return BackupSummary{
		ID:          b.ID,
		Timestamp:   b.Timestamp,
		Description: b.Description,
		Kind:        b.Kind,
		Version:     b.Version,
		Words:       len(b.Data.Words),
		Lessons:     len(b.Data.Lessons),
	}
}

// Batch is a multi-collection save. Nil fields are left untouched; a non-nil
// empty slice replaces the collection with nothing.
type Batch struct {
	Words                   []Word
	Lessons                 []Lesson
	Progress                *Progress
	CurrentLessonID         *ID
	SelectedPracticeLessons interface{}
}

// Counts summarizes the size of a store
type Counts struct {
	Words       int  `json:"words"`
	Lessons     int  `json:"lessons"`
	HasProgress bool `json:"hasProgress"`
	Settings    int  `json:"settings"`
}
