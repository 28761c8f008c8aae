package usecase

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/semmidev/strongbox/internal/adapter/archive"
	"github.com/semmidev/strongbox/internal/adapter/progress"
	"github.com/semmidev/strongbox/internal/domain"
)

// Percentages at which each stage begins.
const (
	pctDump     = 0
	pctFiles    = 30
	pctDatabase = 85
	pctCleanup  = 92
)

type BackupOptions struct {
	SourceRoot string
	ScratchDir string
	Heartbeat  time.Duration
}

// Backup runs full backups: a database dump plus a mirror of the source
// tree, written to one archive.
type Backup struct {
	dumper   domain.DatabaseDumper
	archiver *archive.Archiver
	archives ArchiveStore
	progress *progress.Store
	cleanup  *Cleanup
	logger   Logger
	metrics  Recorder
	opts     BackupOptions
	now      func() time.Time
}

func NewBackup(
	dumper domain.DatabaseDumper,
	archiver *archive.Archiver,
	archives ArchiveStore,
	progressStore *progress.Store,
	cleanup *Cleanup,
	logger Logger,
	metrics Recorder,
	opts BackupOptions,
) *Backup {
	return &Backup{
		dumper:   dumper,
		archiver: archiver,
		archives: archives,
		progress: progressStore,
		cleanup:  cleanup,
		logger:   logger,
		metrics:  orNop(metrics),
		opts:     opts,
		now:      time.Now,
	}
}

type BackupResult struct {
	JobID   string
	Archive domain.BackupArchive
	Dump    domain.DumpResult
	Tree    archive.TreeStats
	Pruned  []string
	Elapsed time.Duration
}

// Job is a claimed backup that has not run yet.
type Job struct {
	backup   *Backup
	trigger  domain.Trigger
	reporter *progress.Reporter
}

// Begin claims the archive directory for a new job and records it as queued.
// It fails with ErrJobRunning while another job is active.
func (uc *Backup) Begin(trigger domain.Trigger) (*Job, error) {
	state, err := uc.progress.Claim(uuid.NewString(), trigger)
	if err != nil {
		return nil, err
	}
	return &Job{backup: uc, trigger: trigger, reporter: uc.progress.Reporter(state)}, nil
}

// Execute claims and runs a job synchronously.
func (uc *Backup) Execute(ctx context.Context, trigger domain.Trigger) (BackupResult, error) {
	job, err := uc.Begin(trigger)
	if err != nil {
		return BackupResult{}, err
	}
	return job.Run(ctx)
}

func (j *Job) ID() string { return j.reporter.JobID() }

func (j *Job) Run(ctx context.Context) (BackupResult, error) {
	uc := j.backup
	start := uc.now()
	jobID := j.ID()

	uc.logger.Infof("[%s] Starting %s backup of %s", jobID, j.trigger, uc.opts.SourceRoot)

	j.reporter.StartHeartbeat(uc.opts.Heartbeat)
	result, err := j.run(ctx)
	j.reporter.StopHeartbeat()

	result.JobID = jobID
	result.Elapsed = uc.now().Sub(start)
	uc.metrics.BackupFinished(j.trigger, result.Dump.Method, err, result.Elapsed, result.Archive.Size)

	if err != nil {
		if failErr := j.reporter.Fail(err); failErr != nil {
			uc.logger.Errorf("[%s] Could not record failure: %v", jobID, failErr)
		}
		uc.logger.Errorf("[%s] Backup failed after %s: %v", jobID, result.Elapsed.Round(time.Second), err)
		return result, err
	}

	if progressErr := j.reporter.Err(); progressErr != nil {
		uc.logger.Warnf("[%s] Some progress updates were not written: %v", jobID, progressErr)
	}
	uc.logger.Infof("[%s] Backup completed in %s: %s (%.2f MB)",
		jobID, result.Elapsed.Round(time.Second), result.Archive.Filename, megabytes(result.Archive.Size))
	return result, nil
}

func (j *Job) run(ctx context.Context) (result BackupResult, err error) {
	uc := j.backup
	jobID := j.ID()
	r := j.reporter

	if err := os.MkdirAll(uc.opts.ScratchDir, 0700); err != nil {
		return result, fmt.Errorf("create scratch directory: %w", err)
	}
	scratch, err := os.MkdirTemp(uc.opts.ScratchDir, "job-")
	if err != nil {
		return result, fmt.Errorf("create scratch directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			uc.logger.Warnf("[%s] Failed to remove scratch directory %s: %v", jobID, scratch, rmErr)
		}
	}()

	dumpSpan := r.Span(domain.StageDumpingDatabase, pctDump, pctFiles)
	dumpSpan.Enter("dumping database")

	dumpPath := filepath.Join(scratch, domain.DatabaseMember)
	result.Dump, err = uc.dumper.Dump(ctx, dumpPath, dumpSpan)
	if err != nil {
		return result, fmt.Errorf("dump database: %w", err)
	}
	if result.Dump.Method == domain.DumpFallback {
		uc.logger.Warnf("[%s] Primary dump failed, used fallback: %s", jobID, result.Dump.PrimaryError)
	}
	for _, w := range result.Dump.Warnings {
		uc.logger.Warnf("[%s] Dump: %s", jobID, w)
	}

	writer, err := uc.createArchive()
	if err != nil {
		return result, err
	}
	defer func() {
		if err != nil {
			if abortErr := writer.Abort(); abortErr != nil {
				uc.logger.Errorf("[%s] Failed to remove partial archive: %v", jobID, abortErr)
			}
		}
	}()
	uc.logger.Infof("[%s] Writing archive: %s", jobID, writer.Path())

	treeSpan := r.Span(domain.StageArchivingFiles, pctFiles, pctDatabase)
	treeSpan.Enter("counting files")

	total, err := uc.archiver.CountFiles(ctx, uc.opts.SourceRoot)
	if err != nil {
		return result, fmt.Errorf("count files: %w", err)
	}
	result.Tree, err = uc.archiver.AddTree(ctx, uc.opts.SourceRoot, writer, total, treeSpan)
	if err != nil {
		return result, fmt.Errorf("archive files: %w", err)
	}
	for _, w := range result.Tree.Warnings {
		uc.logger.Warnf("[%s] Archive: %s", jobID, w)
	}

	r.Update(domain.StageArchivingDatabase, pctDatabase, "adding database dump", domain.DatabaseMember)
	if err = uc.archiver.AddFile(dumpPath, writer, domain.DatabaseMember); err != nil {
		return result, fmt.Errorf("archive database dump: %w", err)
	}
	if err = writer.Close(); err != nil {
		return result, err
	}

	name := filepath.Base(writer.Path())
	result.Archive, err = uc.archives.Stat(ctx, name)
	if err != nil {
		return result, fmt.Errorf("stat archive: %w", err)
	}

	r.Update(domain.StageCleaningUp, pctCleanup, "pruning old archives", "")
	pruned, pruneErr := uc.cleanup.Prune(ctx)
	if pruneErr != nil {
		uc.logger.Errorf("[%s] Retention pruning failed: %v", jobID, pruneErr)
	}
	result.Pruned = pruned

	if completeErr := r.Complete(name, fmt.Sprintf("backup complete: %d files", result.Tree.Files)); completeErr != nil {
		uc.logger.Errorf("[%s] Could not record completion: %v", jobID, completeErr)
	}
	return result, nil
}

// createArchive opens a new archive named after the current time. Archives
// created within the same second move to the next free second.
func (uc *Backup) createArchive() (*archive.Writer, error) {
	at := uc.now()
	for i := 0; i < 60; i++ {
		w, err := archive.Create(uc.archives.GetPath(domain.ArchiveFilename(at)))
		if err == nil {
			return w, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		at = at.Add(time.Second)
	}
	return nil, fmt.Errorf("%w: no free archive name near %s", domain.ErrArchiveIO, uc.now().Format(domain.ArchiveTimestamp))
}
