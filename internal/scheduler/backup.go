// Package scheduler runs automatic vocabulary backups on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adrianmcphee/lexibase"
	"github.com/robfig/cron/v3"
)

// ErrBackupInProgress is returned by RunNow while another backup runs
var ErrBackupInProgress = errors.New("backup already in progress")

// BackupCreator is the part of the store the scheduler needs
type BackupCreator interface {
	CreateAutoBackup(ctx context.Context) (*lexibase.Backup, error)
}

// Status describes the last scheduled run
type Status struct {
	LastRunAt *time.Time
	LastID    int64
	LastError string
}

// BackupScheduler takes automatic backups on a five-field cron schedule
type BackupScheduler struct {
	store    BackupCreator
	schedule string
	timeout  time.Duration
	logger   lexibase.Logger

	cron      *cron.Cron
	entryID   cron.EntryID
	mu        sync.RWMutex
	isRunning bool
	isBackup  bool
	status    Status
}

// NewBackupScheduler creates a scheduler; nothing runs until Start
func NewBackupScheduler(store BackupCreator, schedule string, logger lexibase.Logger) *BackupScheduler {
	if logger == nil {
		logger = &lexibase.NoOpLogger{}
	}
	return &BackupScheduler{
		store:    store,
		schedule: schedule,
		timeout:  5 * time.Minute,
		logger:   logger,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks a five-field cron expression
func ValidateSchedule(schedule string) error {
	if _, err := cronParser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule '%s': %w", schedule, err)
	}
	return nil
}

// Start schedules the backup job. An empty schedule leaves the scheduler
// disabled. Cancelling ctx stops it.
func (s *BackupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}
	if s.schedule == "" {
		s.logger.Info("backup scheduler disabled")
		return nil
	}
	if err := ValidateSchedule(s.schedule); err != nil {
		return err
	}

	entryID, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.RunNow(context.Background()); err != nil && !errors.Is(err, ErrBackupInProgress) {
			s.logger.Error("scheduled backup failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule backup job: %w", err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true
	s.logger.Info("backup scheduler started", "schedule", s.schedule, "next_run", s.cron.Entry(entryID).Next)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop waits for a running backup and stops the scheduler
func (s *BackupScheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.cron.Remove(s.entryID)
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("backup scheduler stopped")
}

// IsRunning reports whether the scheduler is active
func (s *BackupScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRunTime returns when the next backup is due, nil when stopped
func (s *BackupScheduler) NextRunTime() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return nil
	}
	next := s.cron.Entry(s.entryID).Next
	return &next
}

// Status returns the outcome of the last run
func (s *BackupScheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// RunNow takes an automatic backup immediately. Runs never overlap.
func (s *BackupScheduler) RunNow(ctx context.Context) error {
	s.mu.Lock()
	if s.isBackup {
		s.mu.Unlock()
		s.logger.Warn("backup skipped, previous run still in progress")
		return ErrBackupInProgress
	}
	s.isBackup = true
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	backup, err := s.store.CreateAutoBackup(ctx)
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.isBackup = false
	s.status = Status{LastRunAt: &now}
	if err != nil {
		s.status.LastError = err.Error()
		return err
	}
	s.status.LastID = backup.ID
	s.logger.Info("automatic backup created", "id", backup.ID, "words", len(backup.Data.Words))
	return nil
}
