package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/semmidev/strongbox/internal/domain"
)

// BackupExecutor runs one full backup synchronously.
type BackupExecutor interface {
	Execute(ctx context.Context, trigger domain.Trigger) (BackupResult, error)
}

type ScheduleRun struct {
	ScheduleID domain.ScheduleID `json:"schedule_id"`
	Name       string            `json:"name"`
	JobID      string            `json:"job_id,omitempty"`
	Archive    string            `json:"archive,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type RunSummary struct {
	Evaluated int           `json:"evaluated"`
	Due       int           `json:"due"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Deferred  int           `json:"deferred"`
	Skipped   bool          `json:"skipped"`
	Runs      []ScheduleRun `json:"runs,omitempty"`
}

// ScheduledRunner runs every enabled schedule that is due, one after the
// other. Failures are logged and notified, never returned.
type ScheduledRunner struct {
	schedules ScheduleStore
	backup    BackupExecutor
	evaluator *Evaluator
	notifier  Notifier
	logger    Logger
	now       func() time.Time

	mu sync.Mutex
}

func NewScheduledRunner(
	schedules ScheduleStore,
	backup BackupExecutor,
	evaluator *Evaluator,
	notifier Notifier,
	logger Logger,
) *ScheduledRunner {
	return &ScheduledRunner{
		schedules: schedules,
		backup:    backup,
		evaluator: evaluator,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
	}
}

func (uc *ScheduledRunner) Execute(ctx context.Context) error {
	_, err := uc.RunDue(ctx)
	return err
}

// RunDue evaluates all schedules once. An invocation that overlaps a running
// one returns immediately with Skipped set.
func (uc *ScheduledRunner) RunDue(ctx context.Context) (RunSummary, error) {
	var summary RunSummary
	if !uc.mu.TryLock() {
		uc.logger.Warnf("Previous scheduled run still in progress, skipping")
		summary.Skipped = true
		return summary, nil
	}
	defer uc.mu.Unlock()

	schedules, err := uc.schedules.List()
	if err != nil {
		return summary, fmt.Errorf("load schedules: %w", err)
	}

	now := uc.now()
	for _, s := range schedules {
		if !s.Enabled {
			continue
		}
		summary.Evaluated++
		if !uc.evaluator.IsDue(s, now) {
			continue
		}
		summary.Due++

		if ctx.Err() != nil {
			summary.Deferred++
			continue
		}

		run := ScheduleRun{ScheduleID: s.ID, Name: s.Name}
		uc.logger.Infof("Schedule %q (%s) is due", s.Name, s.ID)

		result, err := uc.backup.Execute(ctx, domain.TriggerScheduled)
		run.JobID = result.JobID

		if errors.Is(err, domain.ErrJobRunning) {
			uc.logger.Warnf("Schedule %q deferred, %v", s.Name, err)
			summary.Deferred++
			run.Error = err.Error()
			summary.Runs = append(summary.Runs, run)
			continue
		}
		if err != nil {
			summary.Failed++
			run.Error = err.Error()
			summary.Runs = append(summary.Runs, run)

			uc.logger.Errorf("Scheduled backup %q failed: %v", s.Name, err)
			if notifyErr := uc.notifier.ScheduledFailed(ctx, s, err); notifyErr != nil {
				uc.logger.Errorf("Failed to send failure notification: %v", notifyErr)
			}
			continue
		}

		summary.Succeeded++
		run.Archive = result.Archive.Filename
		summary.Runs = append(summary.Runs, run)

		if err := uc.schedules.MarkRun(s.ID, now); err != nil {
			uc.logger.Errorf("Failed to record run of schedule %q: %v", s.Name, err)
		}
		if notifyErr := uc.notifier.ScheduledSucceeded(ctx, s, result.Archive, result.Elapsed); notifyErr != nil {
			uc.logger.Errorf("Failed to send success notification: %v", notifyErr)
		}
	}

	if summary.Due > 0 {
		uc.logger.Infof("Scheduled run finished: %d due, %d succeeded, %d failed, %d deferred",
			summary.Due, summary.Succeeded, summary.Failed, summary.Deferred)
	}
	return summary, nil
}
