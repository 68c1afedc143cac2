// Package errs defines the error taxonomy shared by the store, the sync
// engine and the backup manager.
//
// Callers classify failures with errors.Is against the sentinels, or with
// Retryable and Fatal.
package errs

import (
	"context"
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrStorageCorruption marks unreadable or invalid document content.
	// The store recovers from it locally and never returns it from Load.
	ErrStorageCorruption = errors.New("storage corruption")

	// ErrUnsupportedSchema marks a document written by a newer schema.
	ErrUnsupportedSchema = errors.New("unsupported schema version")

	ErrProviderTimeout = errors.New("sync provider timeout")
	ErrProviderIO      = errors.New("sync provider io error")

	// ErrLockContention is returned when another process holds the sync lock.
	ErrLockContention = errors.New("sync lock held by another process")

	ErrImportFailed       = errors.New("import failed")
	ErrIncompatibleBundle = errors.New("incompatible backup bundle")

	// ErrConcurrentEdit aborts a sync commit when a document changed on
	// disk after the merge read it.
	ErrConcurrentEdit = errors.New("document changed during sync")

	ErrNotFound = errors.New("not found")
	ErrDiskFull = errors.New("disk full")
)

// UnsupportedSchemaError reports a document whose stored schema version is
// higher than the current supported version.
type UnsupportedSchemaError struct {
	Kind      string
	ID        string
	Version   int
	Supported int
}

func (e *UnsupportedSchemaError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %q has schema version %d, newest supported is %d", e.Kind, e.ID, e.Version, e.Supported)
	}
	return fmt.Sprintf("%s has schema version %d, newest supported is %d", e.Kind, e.Version, e.Supported)
}

func (e *UnsupportedSchemaError) Is(target error) bool {
	return target == ErrUnsupportedSchema
}

// ProviderError wraps a failed pull or push.
type ProviderError struct {
	Provider string
	Op       string
	Timeout  bool
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s timed out: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	if e.Timeout {
		return target == ErrProviderTimeout
	}
	return target == ErrProviderIO
}

// NewProviderError classifies err as a timeout when the call's context
// deadline expired.
func NewProviderError(provider, op string, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Op:       op,
		Timeout:  errors.Is(err, context.DeadlineExceeded),
		Err:      err,
	}
}

// IncompatibleBundleError rejects a backup bundle before anything is written.
type IncompatibleBundleError struct {
	Kind      string
	ID        string
	Version   int
	Supported int
	Reason    string
}

func (e *IncompatibleBundleError) Error() string {
	if e.Reason != "" {
		return "incompatible backup bundle: " + e.Reason
	}
	if e.ID != "" {
		return fmt.Sprintf("incompatible backup bundle: %s %q has schema version %d, newest supported is %d", e.Kind, e.ID, e.Version, e.Supported)
	}
	return fmt.Sprintf("incompatible backup bundle: %s has schema version %d, newest supported is %d", e.Kind, e.Version, e.Supported)
}

func (e *IncompatibleBundleError) Is(target error) bool {
	return target == ErrIncompatibleBundle
}

// ImportFailedError reports an import that hit a write failure. When
// RolledBack is true the store holds exactly its pre-import bytes.
type ImportFailedError struct {
	Cause        error
	RolledBack   bool
	RollbackErr  error
	SafetyBackup string
}

func (e *ImportFailedError) Error() string {
	if e.RolledBack {
		return fmt.Sprintf("import failed and was rolled back: %v", e.Cause)
	}
	return fmt.Sprintf("import failed, rollback incomplete (%v), safety backup at %s: %v", e.RollbackErr, e.SafetyBackup, e.Cause)
}

func (e *ImportFailedError) Unwrap() error {
	return e.Cause
}

func (e *ImportFailedError) Is(target error) bool {
	return target == ErrImportFailed
}

// Retryable reports whether the operation may succeed on a later attempt
// without user intervention.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrProviderIO) ||
		errors.Is(err, ErrLockContention) ||
		errors.Is(err, ErrConcurrentEdit)
}

// Fatal reports whether err needs explicit user attention.
func Fatal(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnsupportedSchema) ||
		errors.Is(err, ErrIncompatibleBundle) ||
		IsDiskFull(err)
}

// IsDiskFull reports ENOSPC anywhere in the chain.
func IsDiskFull(err error) bool {
	return errors.Is(err, ErrDiskFull) || errors.Is(err, syscall.ENOSPC)
}
