package lexibase

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Data errors
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateID    = errors.New("record with this id already exists")
	ErrInvalidData    = errors.New("invalid data format")
	ErrBackupNotFound = errors.New("backup not found")

	// Backend errors
	ErrBackendUnavailable   = errors.New("backend unavailable")
	ErrUnsupportedOperation = errors.New("operation not supported by the active backend")
	ErrUnauthorized         = errors.New("unauthorized access")

	// Migration errors
	ErrMigrationRefused              = errors.New("structured store already holds data, migration refused")
	ErrMigrationVerificationMismatch = errors.New("migrated data does not match the legacy store")

	// Transaction errors
	ErrTransactionFailed = errors.New("transaction failed")
	ErrRollbackFailed    = errors.New("transaction rollback failed")
	ErrLockHeld          = errors.New("lock is held by another process")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBackupNotFound)
}

// IsDuplicate checks if an error is an insert collision
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateID)
}

// IsUnsupported checks if an error signals that the active backend cannot perform the operation
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedOperation)
}

// IsRetryable checks if an error is safe to retry
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrLockHeld)
}
