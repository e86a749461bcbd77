package lexibase

// Configuration constants for lexibase operations
const (
	// Structured store schema
	SchemaVersion       = 1
	ExportFormatVersion = 1
	DefaultNamespace    = "lexibase"

	// Backup retention: number of automatic backups kept after each automatic backup
	DefaultBackupRetention  = 5
	AutoBackupDescription   = "Auto backup"
	ManualBackupDescription = "Manual backup"

	// File backend configuration
	DefaultFilePermissions = 0644
	DefaultDirPermissions  = 0755
	DefaultLockStripes     = 32

	// Object suffix used by both stores
	recordSuffix = ".json"
)

// Legacy store keys. Each holds one whole serialized collection.
const (
	LegacyKeyWords                   = "vocabularyWords"
	LegacyKeyLessons                 = "vocabularyLessons"
	LegacyKeyProgress                = "quizProgress"
	LegacyKeyCurrentLessonID         = "currentLessonId"
	LegacyKeySelectedPracticeLessons = "selectedPracticeLessons"
	LegacyKeyPracticeSettings        = "practiceSettings"
)

// Well-known setting keys.
const (
	SettingCurrentLessonID         = LegacyKeyCurrentLessonID
	SettingSelectedPracticeLessons = LegacyKeySelectedPracticeLessons
)

// ProgressTypeQuiz is the type tag of the singleton progress record.
const ProgressTypeQuiz = "quiz"

// legacyKeys are the keys whose presence means the legacy store holds user data.
var legacyKeys = []string{
	LegacyKeyWords,
	LegacyKeyLessons,
	LegacyKeyProgress,
	LegacyKeyCurrentLessonID,
	LegacyKeySelectedPracticeLessons,
}

// Collection names of the structured store.
const (
	CollectionWords    = "words"
	CollectionLessons  = "lessons"
	CollectionProgress = "progress"
	CollectionSettings = "settings"
	CollectionBackups  = "backups"
)

// Reasons reported by Store.Info when a session falls back to the simple store.
const (
	FallbackNotConfigured        = "not-configured"
	FallbackUnavailable          = "unavailable"
	FallbackMigrationCheck       = "migration-check"
	FallbackMigrationFailed      = "migration-failed"
	FallbackVerificationMismatch = "verification-mismatch"
	FallbackMigrationInProgress  = "migration-in-progress"
)
