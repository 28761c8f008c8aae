package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDumpFailed           = errors.New("database dump failed")
	ErrArchiveIO            = errors.New("archive i/o failure")
	ErrMemberNotFound       = errors.New("member not found in archive")
	ErrInvalidMember        = errors.New("invalid member name")
	ErrArchiveNotFound      = errors.New("archive not found")
	ErrJobRunning           = errors.New("a backup job is already running")
	ErrJobNotFound          = errors.New("job not found")
	ErrScheduleNotFound     = errors.New("schedule not found")
	ErrScheduleStoreCorrupt = errors.New("schedule store is corrupt")
)

// ConfigurationError is fatal and raised only at startup.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// DumpError carries the failure of both dump strategies.
type DumpError struct {
	Primary  error
	Fallback error
}

func (e *DumpError) Error() string {
	return fmt.Sprintf("database dump failed: primary: %v; fallback: %v", e.Primary, e.Fallback)
}

func (e *DumpError) Is(target error) bool { return target == ErrDumpFailed }

func (e *DumpError) Unwrap() []error { return []error{e.Primary, e.Fallback} }

// JobRunningError identifies the job that holds the archive directory.
type JobRunningError struct {
	JobID string
}

func (e *JobRunningError) Error() string {
	return fmt.Sprintf("%v: %s", ErrJobRunning, e.JobID)
}

func (e *JobRunningError) Is(target error) bool { return target == ErrJobRunning }
