// Package lexibase persists a vocabulary learner's words, lessons, quiz
// progress and settings, and moves that data from a simple key/value layout
// to a structured, indexed one without losing anything on the way.
//
// # Overview
//
// Two stores implement the same EntityStore contract:
//
//   - SimpleStore keeps one JSON blob per key ("vocabularyWords.json",
//     "vocabularyLessons.json", "quizProgress.json" and one blob per
//     setting). This is the legacy layout and the fallback.
//   - StructuredStore keeps one JSON record per entity
//     ({collection}/{id}.json) on a Backend and its secondary indexes,
//     sequences, schema version and migration marker in Redis. It also
//     provides backups with retention.
//
// Store is the facade applications use. On first use it opens the
// structured store, migrates legacy data into it when needed and falls back
// to the simple store when anything on that path fails.
//
// # Quick Start
//
//	legacy := lexibase.NewFilesystemBackend("./data/legacy")
//	records := lexibase.NewFilesystemBackend("./data/records")
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	store, err := lexibase.New(legacy,
//	    lexibase.WithStructured(records, client),
//	    lexibase.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	word, err := store.AddWord(ctx, lexibase.Word{English: "apple", Vietnamese: "quả táo"})
//	words, err := store.WordsByLesson(ctx, "lesson-1")
//
// # Backends
//
// Records and legacy blobs can live on the local filesystem, S3, MinIO or
// Google Cloud Storage. Any backend can be wrapped with EncryptionBackend
// (AES-256-GCM) and with InstrumentedBackend for metrics.
//
// # Migration
//
// Migrator saves a snapshot of the legacy store to a SnapshotSink before it
// writes anything, records progress in a Redis marker, copies every entity
// by id and verifies the result. An interrupted run is resumed on the next
// start. A store that fails verification keeps serving from the legacy
// layout.
//
// # Backups
//
// The structured store numbers backups from a Redis counter. Automatic
// backups are pruned to the configured retention; manual, pre-import and
// post-migration backups are kept until deleted.
//
// # Observability
//
// Logging goes through the Logger interface (ZapLogger for production) and
// metrics through the Metrics interface (PrometheusMetrics for production).
package lexibase
