package lexibase

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type storeFixture struct {
	store   *Store
	legacy  *FilesystemBackend
	records *FilesystemBackend
	mr      *miniredis.Miniredis
	redis   *redis.Client
	clock   *testClock
	metrics *InMemoryMetrics
}

// setupStore builds a Store with the structured store enabled. Nothing is
// contacted until the first operation, so tests can seed data afterwards.
func setupStore(t *testing.T, opts ...Option) *storeFixture {
	t.Helper()
	mr, client := setupTestRedis(t)
	f := &storeFixture{
		legacy:  NewFilesystemBackend(t.TempDir()),
		records: NewFilesystemBackend(t.TempDir()),
		mr:      mr,
		redis:   client,
		clock:   newTestClock(),
		metrics: NewInMemoryMetrics(),
	}
	all := append([]Option{
		WithStructured(f.records, client),
		WithClock(f.clock.Now),
		WithMetrics(f.metrics),
	}, opts...)

	s, err := New(f.legacy, all...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	f.store = s
	return f
}

func mustActive(t *testing.T, s *Store, want StorageType) {
	t.Helper()
	got, err := s.ActiveType(context.Background())
	if err != nil {
		t.Fatalf("ActiveType failed: %v", err)
	}
	if got != want {
		t.Fatalf("expected %s backend, got %s", want, got)
	}
}

// forEachBackend runs fn once against a simple session and once against a
// structured session
func forEachBackend(t *testing.T, fn func(t *testing.T, f *storeFixture)) {
	t.Run("simple", func(t *testing.T) {
		f := setupStore(t, WithPreferred(StorageSimple))
		mustActive(t, f.store, StorageSimple)
		fn(t, f)
	})
	t.Run("structured", func(t *testing.T) {
		f := setupStore(t)
		mustActive(t, f.store, StorageStructured)
		fn(t, f)
	})
}

func TestStore_NewValidation(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig without legacy backend, got %v", err)
	}

	legacy := NewFilesystemBackend(t.TempDir())
	tests := []struct {
		name string
		opt  Option
	}{
		{"unknown preferred", WithPreferred("sqlite")},
		{"zero retention", WithRetention(0)},
		{"structured without redis", WithStructured(legacy, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(legacy, tt.opt); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestStore_NotConfiguredFallsBack(t *testing.T) {
	ctx := context.Background()
	metrics := NewInMemoryMetrics()
	s, err := New(NewFilesystemBackend(t.TempDir()), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer s.Close()

	mustActive(t, s, StorageSimple)
	info, err := s.Info(ctx)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.FallbackReason != "not-configured" {
		t.Errorf("expected not-configured, got %q", info.FallbackReason)
	}
	if metrics.Count(MetricFallback) != 1 {
		t.Errorf("expected one fallback, got %d", metrics.Count(MetricFallback))
	}

	res := s.Migrate(ctx, MigrationOptions{})
	if res.Success || !errors.Is(res.Err, ErrBackendUnavailable) {
		t.Errorf("expected migrate to fail without structured store, got %+v", res)
	}
	if _, err := s.VerifyMigration(ctx); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable, got %v", err)
	}
	if _, err := s.RebuildIndexes(ctx); !IsUnsupported(err) {
		t.Errorf("expected unsupported, got %v", err)
	}
}

func TestStore_PreferredSimpleSkipsMigration(t *testing.T) {
	f := setupStore(t, WithPreferred(StorageSimple))
	seedLegacyBlobs(t, f.legacy)

	mustActive(t, f.store, StorageSimple)

	if f.mr.Exists("lexibase:migration:state") {
		t.Error("preferring the simple store must not start a migration")
	}
	info, _ := f.store.Info(context.Background())
	if info.FallbackReason != "" {
		t.Errorf("choosing simple is not a fallback, got %q", info.FallbackReason)
	}
	if f.store.MigrationStatus().State != MigrationIdle {
		t.Errorf("expected idle migration status, got %s", f.store.MigrationStatus().State)
	}
}

func TestStore_UnavailableFallsBack(t *testing.T) {
	f := setupStore(t)
	seedLegacyBlobs(t, f.legacy)
	f.mr.Close()
	ctx := context.Background()

	mustActive(t, f.store, StorageSimple)

	words, err := f.store.Words(ctx)
	if err != nil {
		t.Fatalf("Words failed: %v", err)
	}
	if len(words) != 3 {
		t.Errorf("expected legacy words, got %d", len(words))
	}
	info, _ := f.store.Info(ctx)
	if info.FallbackReason != "unavailable" {
		t.Errorf("expected unavailable, got %q", info.FallbackReason)
	}
}

func TestStore_FreshInstallUsesStructured(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	mustActive(t, f.store, StorageStructured)
	if f.store.MigrationStatus().State != MigrationIdle {
		t.Errorf("expected no migration on an empty install, got %s", f.store.MigrationStatus().State)
	}

	info, err := f.store.Info(ctx)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if info.SchemaVersion != SchemaVersion || !info.Ready {
		t.Errorf("unexpected info %+v", info)
	}
}

func TestStore_AutoMigration(t *testing.T) {
	f := setupStore(t)
	seedLegacyBlobs(t, f.legacy)
	ctx := context.Background()

	mustActive(t, f.store, StorageStructured)

	words, _ := f.store.Words(ctx)
	if len(words) != 3 {
		t.Errorf("expected migrated words, got %d", len(words))
	}
	status := f.store.MigrationStatus()
	if status.State != MigrationCompleted || !status.Success {
		t.Errorf("expected completed migration, got %+v", status)
	}
	if f.metrics.Count(MetricFallback) != 0 {
		t.Error("a migrated session must not count a fallback")
	}

	info, _ := f.store.Info(ctx)
	if info.Counts.Words != 3 || info.Backups != 1 || info.LegacyBytes == 0 {
		t.Errorf("unexpected info %+v", info)
	}

	// An explicit run after the automatic one is a no-op that can still clear
	res := f.store.Migrate(ctx, MigrationOptions{ClearLegacy: true})
	if !res.Success || res.State != MigrationLegacySourceCleared {
		t.Errorf("expected legacy-source-cleared, got %+v", res)
	}
	if has, _ := f.store.simple.HasData(ctx); has {
		t.Error("expected legacy blobs to be removed")
	}
	words, _ = f.store.Words(ctx)
	if len(words) != 3 {
		t.Errorf("expected migrated words to remain, got %d", len(words))
	}
}

func TestStore_InfoDuringMigration(t *testing.T) {
	f := setupStore(t)
	seedLegacyBlobs(t, f.legacy)
	ctx := context.Background()

	mustActive(t, f.store, StorageStructured)

	// Hold the run lock the way a long explicit migration does
	f.store.migrator.runMu.Lock()
	defer f.store.migrator.runMu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := f.store.Info(ctx)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Info failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Info blocked on a running migration")
	}

	if _, err := f.store.Words(ctx); err != nil {
		t.Errorf("Words failed during migration: %v", err)
	}
}

func TestStore_AutoMigrationClearsLegacy(t *testing.T) {
	f := setupStore(t, WithClearLegacyAfterMigration(true))
	seedLegacyBlobs(t, f.legacy)

	mustActive(t, f.store, StorageStructured)

	if has, _ := f.store.simple.HasData(context.Background()); has {
		t.Error("expected legacy blobs to be removed")
	}
	if f.store.MigrationStatus().State != MigrationLegacySourceCleared {
		t.Errorf("expected legacy-source-cleared, got %s", f.store.MigrationStatus().State)
	}
}

func TestStore_VerificationMismatchFallsBack(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()

	// The record store accepts word 1 but never lists it again
	records := newFaultyBackend(NewFilesystemBackend(t.TempDir()))
	records.hidden["words/1.json"] = true
	legacy := NewFilesystemBackend(t.TempDir())
	seedLegacyBlobs(t, legacy)

	s, err := New(legacy, WithStructured(records, client))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mustActive(t, s, StorageSimple)

	info, _ := s.Info(ctx)
	if info.FallbackReason != "verification-mismatch" {
		t.Errorf("expected verification-mismatch, got %q", info.FallbackReason)
	}
	words, _ := s.Words(ctx)
	if len(words) != 3 {
		t.Errorf("expected the session to serve legacy data, got %d words", len(words))
	}
}

func TestStore_MigrationInProgressThenExplicitMigrate(t *testing.T) {
	f := setupStore(t)
	seedLegacyBlobs(t, f.legacy)
	ctx := context.Background()

	release, err := f.store.structured.locks.Lock(ctx, "migration", time.Minute)
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	mustActive(t, f.store, StorageSimple)
	info, _ := f.store.Info(ctx)
	if info.FallbackReason != "migration-in-progress" {
		t.Errorf("expected migration-in-progress, got %q", info.FallbackReason)
	}

	release()

	res := f.store.Migrate(ctx, MigrationOptions{})
	if !res.Success {
		t.Fatalf("explicit migration failed: %s (%v)", res.Message, res.Err)
	}
	mustActive(t, f.store, StorageStructured)

	info, _ = f.store.Info(ctx)
	if info.FallbackReason != "" {
		t.Errorf("expected fallback reason cleared, got %q", info.FallbackReason)
	}
	v, err := f.store.VerifyMigration(ctx)
	if err != nil || !v.Success {
		t.Errorf("expected verification to pass, got %+v, %v", v, err)
	}
}

func TestStore_BackupsUnsupportedOnSimple(t *testing.T) {
	f := setupStore(t, WithPreferred(StorageSimple))
	ctx := context.Background()
	s := f.store

	ops := map[string]func() error{
		"create":  func() error { _, err := s.CreateBackup(ctx, "x"); return err },
		"auto":    func() error { _, err := s.CreateAutoBackup(ctx); return err },
		"list":    func() error { _, err := s.Backups(ctx); return err },
		"restore": func() error { return s.RestoreBackup(ctx, 1) },
		"delete":  func() error { return s.DeleteBackup(ctx, 1) },
	}
	for name, op := range ops {
		if err := op(); !IsUnsupported(err) {
			t.Errorf("%s: expected ErrUnsupportedOperation, got %v", name, err)
		}
	}
}

func TestStore_BackupsOnStructured(t *testing.T) {
	f := setupStore(t, WithRetention(1))
	ctx := context.Background()
	s := f.store

	s.AddWord(ctx, Word{ID: "w1", English: "one"})
	b, err := s.CreateBackup(ctx, "manual")
	if err != nil {
		t.Fatalf("CreateBackup failed: %v", err)
	}
	s.CreateAutoBackup(ctx)
	f.clock.Advance(time.Minute)
	s.CreateAutoBackup(ctx)

	backups, _ := s.Backups(ctx)
	if len(backups) != 2 {
		t.Fatalf("expected manual plus one automatic backup, got %d", len(backups))
	}

	s.DeleteWord(ctx, "w1")
	if err := s.RestoreBackup(ctx, b.ID); err != nil {
		t.Fatalf("RestoreBackup failed: %v", err)
	}
	words, _ := s.Words(ctx)
	if len(words) != 1 {
		t.Errorf("expected restored word, got %d", len(words))
	}
	if err := s.DeleteBackup(ctx, b.ID); err != nil {
		t.Errorf("DeleteBackup failed: %v", err)
	}
}

func TestStore_AddFillsDefaults(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *storeFixture) {
		ctx := context.Background()

		w, err := f.store.AddWord(ctx, Word{English: "hello", Vietnamese: "xin chào"})
		if err != nil {
			t.Fatalf("AddWord failed: %v", err)
		}
		if w.ID == "" || w.Category != CategoryGeneral || !w.AddedDate.Equal(testEpoch) {
			t.Errorf("expected defaults to be filled, got %+v", w)
		}

		l, err := f.store.AddLesson(ctx, Lesson{Name: "Greetings"})
		if err != nil {
			t.Fatalf("AddLesson failed: %v", err)
		}
		if !strings.HasPrefix(string(l.ID), "lesson-") || !l.CreatedDate.Equal(testEpoch) {
			t.Errorf("expected defaults to be filled, got %+v", l)
		}

		found, _ := f.store.LessonByName(ctx, "greetings")
		if found == nil || found.ID != l.ID {
			t.Errorf("expected lesson by name, got %+v", found)
		}
		byEnglish, _ := f.store.WordsByEnglish(ctx, "HELLO")
		if len(byEnglish) != 1 {
			t.Errorf("expected word by english, got %d", len(byEnglish))
		}
	})
}

func TestStore_DeleteLessonCascade(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *storeFixture) {
		ctx := context.Background()
		s := f.store

		s.AddLesson(ctx, testLesson("lesson-1", "Family", testEpoch))
		s.AddLesson(ctx, testLesson("lesson-2", "Food", testEpoch))
		s.AddWord(ctx, testWord("w1", "mother", "lesson-1", testEpoch))
		s.AddWord(ctx, testWord("w2", "father", "lesson-1", testEpoch))
		s.AddWord(ctx, testWord("w3", "apple", "lesson-2", testEpoch))

		removed, err := s.DeleteLessonCascade(ctx, "lesson-1")
		if err != nil {
			t.Fatalf("DeleteLessonCascade failed: %v", err)
		}
		if removed != 2 {
			t.Errorf("expected 2 words removed, got %d", removed)
		}

		words, _ := s.Words(ctx)
		if !sameIDs(wordIDs(words), []ID{"w3"}) {
			t.Errorf("expected only w3 left, got %v", wordIDs(words))
		}
		lessons, _ := s.Lessons(ctx)
		if !sameIDs(lessonIDs(lessons), []ID{"lesson-2"}) {
			t.Errorf("expected only lesson-2 left, got %v", lessonIDs(lessons))
		}
	})
}

func TestStore_DeleteLessonKeepsWords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *storeFixture) {
		ctx := context.Background()
		s := f.store

		s.AddLesson(ctx, testLesson("lesson-1", "Family", testEpoch))
		s.AddWord(ctx, testWord("w1", "mother", "lesson-1", testEpoch))

		if err := s.DeleteLesson(ctx, "lesson-1"); err != nil {
			t.Fatalf("DeleteLesson failed: %v", err)
		}
		words, _ := s.WordsByLesson(ctx, "lesson-1")
		if len(words) != 1 {
			t.Errorf("expected the word to keep its lesson id, got %d", len(words))
		}
	})
}

func TestStore_ProgressDefaults(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *storeFixture) {
		ctx := context.Background()

		p, err := f.store.Progress(ctx)
		if err != nil {
			t.Fatalf("Progress failed: %v", err)
		}
		if p.TotalQuestions != 0 || p.LearnedWords == nil || len(p.LearnedWords) != 0 {
			t.Errorf("expected default progress, got %+v", p)
		}

		if err := f.store.SaveProgress(ctx, Progress{TotalQuestions: 3}); err != nil {
			t.Fatalf("SaveProgress failed: %v", err)
		}
		p, _ = f.store.Progress(ctx)
		if p.TotalQuestions != 3 || p.LearnedWords == nil {
			t.Errorf("unexpected progress %+v", p)
		}
	})
}

func TestStore_Settings(t *testing.T) {
	type practice struct {
		Mode  string `json:"mode"`
		Count int    `json:"count"`
	}

	forEachBackend(t, func(t *testing.T, f *storeFixture) {
		ctx := context.Background()

		var got practice
		found, err := f.store.Setting(ctx, LegacyKeyPracticeSettings, &got)
		if err != nil || found {
			t.Fatalf("expected absent setting, got %v, %v", found, err)
		}

		want := practice{Mode: "flashcards", Count: 20}
		if err := f.store.SaveSetting(ctx, LegacyKeyPracticeSettings, want); err != nil {
			t.Fatalf("SaveSetting failed: %v", err)
		}
		found, err = f.store.Setting(ctx, LegacyKeyPracticeSettings, &got)
		if err != nil || !found {
			t.Fatalf("expected setting, got %v, %v", found, err)
		}
		if got != want {
			t.Errorf("expected %+v, got %+v", want, got)
		}

		var wrong int
		_, err = f.store.Setting(ctx, LegacyKeyPracticeSettings, &wrong)
		if !errors.Is(err, ErrInvalidData) {
			t.Errorf("expected ErrInvalidData decoding into the wrong type, got %v", err)
		}
	})
}

func TestStore_SaveAll(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *storeFixture) {
		ctx := context.Background()
		s := f.store

		current := ID("lesson-1")
		err := s.SaveAll(ctx, Batch{
			Words: []Word{
				testWord("w1", "mother", "lesson-1", testEpoch),
				testWord("w2", "father", "lesson-1", testEpoch),
			},
			Lessons:                 []Lesson{testLesson("lesson-1", "Family", testEpoch)},
			Progress:                &Progress{TotalWords: 2},
			CurrentLessonID:         &current,
			SelectedPracticeLessons: map[string]bool{"lesson-1": true},
		})
		if err != nil {
			t.Fatalf("SaveAll failed: %v", err)
		}

		var lessonID ID
		if found, _ := s.Setting(ctx, SettingCurrentLessonID, &lessonID); !found || lessonID != current {
			t.Errorf("expected current lesson %s, got %s", current, lessonID)
		}
		var selected map[string]bool
		if found, _ := s.Setting(ctx, SettingSelectedPracticeLessons, &selected); !found || !selected["lesson-1"] {
			t.Errorf("expected selected lessons, got %v", selected)
		}

		// Nil parts are left alone, empty ones replace
		if err := s.SaveAll(ctx, Batch{Lessons: []Lesson{}}); err != nil {
			t.Fatalf("SaveAll failed: %v", err)
		}
		words, _ := s.Words(ctx)
		lessons, _ := s.Lessons(ctx)
		p, _ := s.Progress(ctx)
		if len(words) != 2 || len(lessons) != 0 || p.TotalWords != 2 {
			t.Errorf("unexpected state: %d words, %d lessons, progress %+v", len(words), len(lessons), p)
		}
	})
}

func TestStore_SaveAllAutoBackup(t *testing.T) {
	f := setupStore(t, WithAutoBackupOnSave(true))
	ctx := context.Background()

	if err := f.store.SaveAll(ctx, Batch{Words: []Word{testWord("w1", "one", "", testEpoch)}}); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}
	backups, _ := f.store.Backups(ctx)
	if len(backups) != 1 || backups[0].Kind != BackupAuto {
		t.Errorf("expected one automatic backup, got %+v", backups)
	}
}

func TestStore_ExportImport(t *testing.T) {
	src := setupStore(t)
	seedLegacyBlobs(t, src.legacy)
	ctx := context.Background()

	exp, err := src.store.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if exp.StorageType != StorageStructured || exp.Version != ExportFormatVersion {
		t.Errorf("unexpected export header %+v", exp)
	}
	if !exp.ExportDate.Equal(testEpoch) {
		t.Errorf("expected export date %v, got %v", testEpoch, exp.ExportDate)
	}
	if _, ok := exp.Settings[SettingSelectedPracticeLessons]; !ok {
		t.Error("expected selectedPracticeLessons default in export")
	}
	if string(exp.Settings[SettingCurrentLessonID]) != `"lesson-1"` {
		t.Errorf("expected stored current lesson to win over default, got %s", exp.Settings[SettingCurrentLessonID])
	}

	var buf bytes.Buffer
	if err := WriteExport(&buf, exp); err != nil {
		t.Fatalf("WriteExport failed: %v", err)
	}
	decoded, err := ReadExport(&buf)
	if err != nil {
		t.Fatalf("ReadExport failed: %v", err)
	}

	dst := setupStore(t, WithPreferred(StorageSimple))
	if err := dst.store.Import(ctx, decoded); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	words, _ := dst.store.Words(ctx)
	lessons, _ := dst.store.Lessons(ctx)
	if len(words) != 3 || len(lessons) != 2 {
		t.Errorf("expected 3 words and 2 lessons, got %d and %d", len(words), len(lessons))
	}
	var theme string
	if found, _ := dst.store.Setting(ctx, "theme", &theme); !found || theme != "dark" {
		t.Errorf("expected theme setting imported, got %q", theme)
	}
}

func TestStore_ExportEmptyHasDefaults(t *testing.T) {
	f := setupStore(t, WithPreferred(StorageSimple))

	exp, err := f.store.Export(context.Background())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if exp.Progress == nil || exp.Progress.LearnedWords == nil {
		t.Errorf("expected default progress, got %+v", exp.Progress)
	}
	if string(exp.Settings[SettingCurrentLessonID]) != "null" {
		t.Errorf("expected null current lesson, got %s", exp.Settings[SettingCurrentLessonID])
	}
	if string(exp.Settings[SettingSelectedPracticeLessons]) != "{}" {
		t.Errorf("expected empty selection, got %s", exp.Settings[SettingSelectedPracticeLessons])
	}
}

func TestStore_ImportNil(t *testing.T) {
	f := setupStore(t)

	if err := f.store.Import(context.Background(), nil); !errors.Is(err, ErrInvalidData) {
		t.Errorf("expected ErrInvalidData, got %v", err)
	}
}

func TestStore_SeedSampleData(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *storeFixture) {
		ctx := context.Background()

		seeded, err := f.store.SeedSampleData(ctx)
		if err != nil || !seeded {
			t.Fatalf("expected sample data to load, got %v, %v", seeded, err)
		}
		lessons, _ := f.store.Lessons(ctx)
		words, _ := f.store.Words(ctx)
		if len(lessons) != 3 || len(words) != 3 {
			t.Errorf("expected 3 lessons and 3 words, got %d and %d", len(lessons), len(words))
		}

		seeded, _ = f.store.SeedSampleData(ctx)
		if seeded {
			t.Error("expected no second seed once lessons exist")
		}
	})
}

func TestStore_EnsureReadyCanceled(t *testing.T) {
	f := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.store.EnsureReady(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// A later call with a live context still initializes
	mustActive(t, f.store, StorageStructured)
}

func TestStore_ConcurrentEnsureReady(t *testing.T) {
	f := setupStore(t)
	seedLegacyBlobs(t, f.legacy)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.store.EnsureReady(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("EnsureReady failed: %v", err)
		}
	}
	if runs := f.metrics.Count(MetricMigrationRuns); runs != 1 {
		t.Errorf("expected exactly one migration, got %d", runs)
	}
	mustActive(t, f.store, StorageStructured)
}

func TestStore_RebuildIndexes(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()

	f.store.AddWord(ctx, testWord("w1", "one", "lesson-1", testEpoch))

	counts, err := f.store.RebuildIndexes(ctx)
	if err != nil {
		t.Fatalf("RebuildIndexes failed: %v", err)
	}
	if counts[CollectionWords] != 1 {
		t.Errorf("expected 1 word reindexed, got %v", counts)
	}
}
