package usecase

import (
	"context"
	"time"

	"github.com/semmidev/strongbox/internal/domain"
)

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// ArchiveStore is the directory holding finished archives.
type ArchiveStore interface {
	List(ctx context.Context) ([]domain.BackupArchive, error)
	Stat(ctx context.Context, name string) (domain.BackupArchive, error)
	Delete(ctx context.Context, name string) error
	Resolve(name string) (string, error)
	GetPath(filename string) string
}

type ScheduleStore interface {
	List() ([]domain.ScheduleDefinition, error)
	MarkRun(id domain.ScheduleID, at time.Time) error
}

// Notifier receives outcomes of unattended runs.
type Notifier interface {
	ScheduledSucceeded(ctx context.Context, schedule domain.ScheduleDefinition, archive domain.BackupArchive, elapsed time.Duration) error
	ScheduledFailed(ctx context.Context, schedule domain.ScheduleDefinition, cause error) error
}

// Recorder collects operational metrics.
type Recorder interface {
	BackupFinished(trigger domain.Trigger, method domain.DumpMethod, err error, elapsed time.Duration, size int64)
	ArchivesPruned(n int)
	RestoreFinished(kind string, err error)
}

type nopRecorder struct{}

func (nopRecorder) BackupFinished(domain.Trigger, domain.DumpMethod, error, time.Duration, int64) {}
func (nopRecorder) ArchivesPruned(int)                                                          {}
func (nopRecorder) RestoreFinished(string, error)                                               {}

func orNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}
