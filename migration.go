package lexibase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MigrationState is a step of the legacy migration
type MigrationState string

const (
	MigrationIdle                MigrationState = "idle"
	MigrationDetectNeeded        MigrationState = "detect-needed"
	MigrationBackupCreated       MigrationState = "backup-created"
	MigrationCopying             MigrationState = "copying"
	MigrationVerifying           MigrationState = "verifying"
	MigrationCompleted           MigrationState = "completed"
	MigrationFailed              MigrationState = "failed"
	MigrationLegacySourceCleared MigrationState = "legacy-source-cleared"
)

// migrationLockTTL bounds how long a crashed migration blocks other processes
const migrationLockTTL = 10 * time.Minute

// MigrationOptions controls a migration run
type MigrationOptions struct {
	// Overwrite allows copying into a structured store that already holds data
	Overwrite bool
	// ClearLegacy removes the legacy blobs after a verified migration
	ClearLegacy bool
}

// MigrationResult reports the outcome of a run. Failures are reported here,
// never as a separate error.
type MigrationResult struct {
	State        MigrationState `json:"state"`
	Success      bool           `json:"success"`
	Message      string         `json:"message"`
	Stats        Counts         `json:"stats"`
	Verification *Verification  `json:"verification,omitempty"`
	SnapshotKey  string         `json:"snapshotKey,omitempty"`
	Duration     time.Duration  `json:"duration"`
	Err          error          `json:"-"`
}

// Verification compares the legacy store with the structured store
type Verification struct {
	Success  bool             `json:"success"`
	Legacy   Counts           `json:"legacy"`
	Migrated Counts           `json:"migrated"`
	Issues   []IntegrityIssue `json:"issues"`
}

// IntegrityIssue is a referential problem found after migration. Issues do
// not fail a verification.
type IntegrityIssue struct {
	Kind     string `json:"kind"`
	WordID   ID     `json:"wordId"`
	LessonID ID     `json:"lessonId,omitempty"`
}

const (
	IssueDanglingLesson = "dangling-lesson"
	IssueMissingLesson  = "missing-lesson"
)

// Migrator copies the legacy store into the structured store.
//
// A run saves a snapshot of the legacy data to the sink, marks the
// migration as copying in Redis, upserts lessons, words, progress and
// settings, verifies counts and marks it completed. A run that finds the
// copying or failed marker clears the live collections first, so restarting
// an interrupted run converges on the legacy store as it is now.
type Migrator struct {
	legacy  *SimpleStore
	target  *StructuredStore
	sink    SnapshotSink
	logger  Logger
	metrics Metrics
	now     func() time.Time

	runMu sync.Mutex

	mu   sync.Mutex
	last *MigrationResult
}

// NewMigrator creates a migrator; sink must not be nil
func NewMigrator(legacy *SimpleStore, target *StructuredStore, sink SnapshotSink, logger Logger, metrics Metrics) *Migrator {
	return &Migrator{
		legacy:  legacy,
		target:  target,
		sink:    sink,
		logger:  loggerOrNoOp(logger),
		metrics: metricsOrNoOp(metrics),
		now:     target.cfg.Now,
	}
}

// Needed reports whether the legacy store holds data the structured store
// has not taken over yet
func (m *Migrator) Needed(ctx context.Context) (bool, error) {
	has, err := m.legacy.HasData(ctx)
	if err != nil || !has {
		return false, err
	}

	marker, err := m.target.migrationMarker(ctx)
	if err != nil {
		return false, err
	}
	switch marker {
	case markerCompleted:
		return false, nil
	case markerCopying, markerFailed:
		return true, nil
	}

	return m.target.IsEmpty(ctx)
}

// Last returns the result of the most recent run, nil if none ran. It does
// not wait for a run in progress.
func (m *Migrator) Last() *MigrationResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Migrate runs the migration. It never panics and never returns an error
// outside the result.
func (m *Migrator) Migrate(ctx context.Context, opts MigrationOptions) *MigrationResult {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	start := time.Now()
	res := m.run(ctx, opts)
	res.Duration = time.Since(start)
	m.mu.Lock()
	m.last = res
	m.mu.Unlock()

	outcome := "success"
	if !res.Success {
		outcome = "failure"
		m.logger.Error("legacy migration failed", "state", res.State, "message", res.Message, "error", res.Err)
	} else {
		m.logger.Info("legacy migration finished", "state", res.State, "words", res.Stats.Words, "lessons", res.Stats.Lessons, "duration", res.Duration)
	}
	m.metrics.Increment(MetricMigrationRuns, "outcome", outcome)
	m.metrics.Timing(MetricMigrationDuration, res.Duration)
	return res
}

func (m *Migrator) fail(res *MigrationResult, err error, msg string) *MigrationResult {
	res.State = MigrationFailed
	res.Success = false
	res.Err = err
	res.Message = msg
	return res
}

func (m *Migrator) run(ctx context.Context, opts MigrationOptions) *MigrationResult {
	res := &MigrationResult{State: MigrationDetectNeeded}

	if err := m.target.Open(ctx); err != nil {
		return m.fail(res, err, "structured store unavailable")
	}

	release, err := m.target.locks.Lock(ctx, "migration", migrationLockTTL)
	if err != nil {
		return m.fail(res, err, "another process is migrating")
	}
	defer release()

	has, err := m.legacy.HasData(ctx)
	if err != nil {
		return m.fail(res, err, "failed to inspect legacy store")
	}
	if !has {
		res.State = MigrationCompleted
		res.Success = true
		res.Message = "No data to migrate"
		return res
	}

	marker, err := m.target.migrationMarker(ctx)
	if err != nil {
		return m.fail(res, err, "failed to read migration marker")
	}
	if marker == markerCompleted && !opts.Overwrite {
		return m.finishCompleted(ctx, res, opts)
	}
	resuming := marker == markerCopying || marker == markerFailed
	if !resuming && !opts.Overwrite {
		empty, err := m.target.IsEmpty(ctx)
		if err != nil {
			return m.fail(res, err, "failed to inspect structured store")
		}
		if !empty {
			return m.fail(res, ErrMigrationRefused, "structured store already holds data; rerun with overwrite to merge")
		}
	}

	snap, err := m.legacy.Snapshot(ctx)
	if err != nil {
		return m.fail(res, err, "failed to read legacy store")
	}
	res.Stats = snapshotCounts(snap)

	// Nothing below runs unless the safety copy exists
	key, err := saveLegacySnapshot(ctx, m.sink, snap, m.now())
	if err != nil {
		return m.fail(res, err, "failed to save legacy snapshot")
	}
	res.SnapshotKey = key
	res.State = MigrationBackupCreated
	m.logger.Info("legacy snapshot saved", "key", key, "resuming", resuming)

	res.State = MigrationCopying
	if err := m.target.setMigrationMarker(ctx, markerCopying); err != nil {
		return m.fail(res, err, "failed to record migration start")
	}
	// Only the migrator has written to an interrupted target, and the legacy
	// store may have changed since, so a resumed copy replaces instead of merging
	if resuming {
		if err := m.target.clearLive(ctx); err != nil {
			m.markFailed(ctx)
			return m.fail(res, err, "failed to reset partially migrated data")
		}
	}
	if err := m.target.merge(ctx, snap); err != nil {
		m.markFailed(ctx)
		return m.fail(res, err, "failed to copy legacy data")
	}

	res.State = MigrationVerifying
	v, err := m.verifyAgainst(ctx, snap, opts.Overwrite && !resuming)
	if err != nil {
		m.markFailed(ctx)
		return m.fail(res, err, "failed to verify migrated data")
	}
	res.Verification = v
	if !v.Success {
		m.markFailed(ctx)
		return m.fail(res, ErrMigrationVerificationMismatch, fmt.Sprintf(
			"verification mismatch: legacy %d words/%d lessons, migrated %d words/%d lessons",
			v.Legacy.Words, v.Legacy.Lessons, v.Migrated.Words, v.Migrated.Lessons))
	}
	for _, issue := range v.Issues {
		m.logger.Warn("migrated word references no lesson", "word", issue.WordID, "lesson", issue.LessonID, "kind", issue.Kind)
	}

	if err := m.target.setMigrationMarker(ctx, markerCompleted); err != nil {
		return m.fail(res, err, "failed to record migration completion")
	}
	res.State = MigrationCompleted
	res.Success = true
	res.Message = fmt.Sprintf("Migrated %d words and %d lessons", res.Stats.Words, res.Stats.Lessons)

	if _, err := m.target.manager.create(ctx, "Post-migration backup", BackupPostMigration); err != nil {
		m.logger.Warn("post-migration backup failed", "error", err)
	}

	if opts.ClearLegacy {
		m.clearLegacy(ctx, res)
	}
	return res
}

// finishCompleted handles a rerun after a completed migration. Nothing is
// copied; the legacy store is cleared on request once the structured store
// is known to hold everything in it.
func (m *Migrator) finishCompleted(ctx context.Context, res *MigrationResult, opts MigrationOptions) *MigrationResult {
	if opts.ClearLegacy {
		snap, err := m.legacy.Snapshot(ctx)
		if err != nil {
			return m.fail(res, err, "failed to read legacy store")
		}
		res.Stats = snapshotCounts(snap)
		v, err := m.verifyAgainst(ctx, snap, true)
		if err != nil {
			return m.fail(res, err, "failed to verify migrated data")
		}
		res.Verification = v
		if !v.Success {
			return m.fail(res, ErrMigrationRefused, "legacy store holds data the structured store lacks; rerun with overwrite to merge")
		}
	}

	res.State = MigrationCompleted
	res.Success = true
	res.Message = "Migration already completed"
	if opts.ClearLegacy {
		m.clearLegacy(ctx, res)
	}
	return res
}

func (m *Migrator) clearLegacy(ctx context.Context, res *MigrationResult) {
	if err := m.legacy.Clear(ctx); err != nil {
		m.logger.Warn("failed to clear legacy store after migration", "error", err)
		res.Message += "; legacy store was not cleared"
		return
	}
	res.State = MigrationLegacySourceCleared
}

func (m *Migrator) markFailed(ctx context.Context) {
	if err := m.target.setMigrationMarker(ctx, markerFailed); err != nil {
		m.logger.Error("failed to record migration failure", "error", err)
	}
}

// Verify compares the current legacy store with the structured store
func (m *Migrator) Verify(ctx context.Context) (*Verification, error) {
	if err := m.target.Open(ctx); err != nil {
		return nil, err
	}
	snap, err := m.legacy.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return m.verifyAgainst(ctx, snap, false)
}

// verifyAgainst checks that the structured store holds exactly the legacy
// records. With allowExtra, records the structured store held before an
// overwrite migration are tolerated as long as every legacy id is present.
func (m *Migrator) verifyAgainst(ctx context.Context, legacy *Snapshot, allowExtra bool) (*Verification, error) {
	migrated, err := m.target.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	v := &Verification{
		Legacy:   snapshotCounts(legacy),
		Migrated: snapshotCounts(migrated),
		Issues:   integrityIssues(migrated),
	}

	if allowExtra {
		v.Success = containsAll(migrated, legacy) && (!v.Legacy.HasProgress || v.Migrated.HasProgress)
		return v, nil
	}
	v.Success = v.Legacy.Words == v.Migrated.Words &&
		v.Legacy.Lessons == v.Migrated.Lessons &&
		v.Legacy.HasProgress == v.Migrated.HasProgress
	return v, nil
}

// snapshotCounts counts distinct ids; the legacy store does not enforce uniqueness
func snapshotCounts(s *Snapshot) Counts {
	words := make(map[ID]bool, len(s.Words))
	for _, w := range s.Words {
		words[w.ID] = true
	}
	lessons := make(map[ID]bool, len(s.Lessons))
	for _, l := range s.Lessons {
		lessons[l.ID] = true
	}
	return Counts{
		Words:       len(words),
		Lessons:     len(lessons),
		HasProgress: s.Progress != nil,
		Settings:    len(s.Settings),
	}
}

func containsAll(have, want *Snapshot) bool {
	words := make(map[ID]bool, len(have.Words))
	for _, w := range have.Words {
		words[w.ID] = true
	}
	for _, w := range want.Words {
		if !words[w.ID] {
			return false
		}
	}
	lessons := make(map[ID]bool, len(have.Lessons))
	for _, l := range have.Lessons {
		lessons[l.ID] = true
	}
	for _, l := range want.Lessons {
		if !lessons[l.ID] {
			return false
		}
	}
	return true
}

// integrityIssues lists words whose lessonId matches no lesson
func integrityIssues(s *Snapshot) []IntegrityIssue {
	lessons := make(map[ID]bool, len(s.Lessons))
	for _, l := range s.Lessons {
		lessons[l.ID] = true
	}
	issues := []IntegrityIssue{}
	for _, w := range s.Words {
		switch {
		case w.LessonID == "":
			issues = append(issues, IntegrityIssue{Kind: IssueMissingLesson, WordID: w.ID})
		case !lessons[w.LessonID]:
			issues = append(issues, IntegrityIssue{Kind: IssueDanglingLesson, WordID: w.ID, LessonID: w.LessonID})
		}
	}
	return issues
}

// IsRefused reports whether a migration result was refused because the
// structured store already held data
func (r *MigrationResult) IsRefused() bool {
	return errors.Is(r.Err, ErrMigrationRefused)
}
