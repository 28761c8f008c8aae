package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/semmidev/strongbox/internal/adapter/archive"
	"github.com/semmidev/strongbox/internal/adapter/database"
	"github.com/semmidev/strongbox/internal/domain"
)

// SessionOpener hands out a single database connection for a restore.
type SessionOpener func(ctx context.Context) (domain.StatementSession, error)

type Restore struct {
	archives   ArchiveStore
	sessions   SessionOpener
	logger     Logger
	metrics    Recorder
	sourceRoot string
	scratchDir string
}

func NewRestore(
	archives ArchiveStore,
	sessions SessionOpener,
	logger Logger,
	metrics Recorder,
	sourceRoot, scratchDir string,
) *Restore {
	return &Restore{
		archives:   archives,
		sessions:   sessions,
		logger:     logger,
		metrics:    orNop(metrics),
		sourceRoot: sourceRoot,
		scratchDir: scratchDir,
	}
}

// ListMembers lists what an archive can restore.
func (uc *Restore) ListMembers(ctx context.Context, archiveName string) ([]domain.MemberInfo, error) {
	found, err := uc.archives.Stat(ctx, archiveName)
	if err != nil {
		return nil, err
	}
	return archive.ListMembers(found.Path)
}

// RestoreFile writes one member back to disk. The default destination is the
// member's original place under the source root. If the member is absent,
// ErrMemberNotFound is returned and nothing is written.
func (uc *Restore) RestoreFile(ctx context.Context, archiveName, member, destination string) (result domain.RestoreResult, err error) {
	result.Archive = archiveName
	defer func() { uc.metrics.RestoreFinished("file", err) }()

	name, err := archive.MemberName(member)
	if err != nil {
		result.Message = err.Error()
		return result, err
	}
	result.Member = name

	found, err := uc.archives.Stat(ctx, archiveName)
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	if destination == "" {
		if name == domain.DatabaseMember {
			err = fmt.Errorf("%w: the database dump needs an explicit destination, or a database restore", domain.ErrInvalidMember)
			result.Message = err.Error()
			return result, err
		}
		destination = filepath.Join(uc.sourceRoot, filepath.FromSlash(name))
	}
	if destination, err = filepath.Abs(destination); err != nil {
		result.Message = err.Error()
		return result, fmt.Errorf("resolve destination: %w", err)
	}
	result.Destination = destination

	uc.logger.Infof("Restoring %s from %s to %s", name, archiveName, destination)
	n, err := archive.Extract(found.Path, name, destination)
	if err != nil {
		if errors.Is(err, domain.ErrMemberNotFound) {
			result.Message = fmt.Sprintf("%s was not found in %s", name, archiveName)
		} else {
			result.Message = err.Error()
			uc.logger.Errorf("Restore of %s failed: %v", name, err)
		}
		return result, err
	}

	result.Success = true
	result.Message = fmt.Sprintf("restored %s (%d bytes)", name, n)
	uc.logger.Infof("Restored %s (%d bytes) to %s", name, n, destination)
	return result, nil
}

// RestoreDatabase replays an archive's database dump into the live database.
func (uc *Restore) RestoreDatabase(ctx context.Context, archiveName string) (result domain.RestoreResult, err error) {
	result.Archive = archiveName
	result.Member = domain.DatabaseMember
	defer func() { uc.metrics.RestoreFinished("database", err) }()

	found, err := uc.archives.Stat(ctx, archiveName)
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	if err := os.MkdirAll(uc.scratchDir, 0700); err != nil {
		result.Message = err.Error()
		return result, fmt.Errorf("create scratch directory: %w", err)
	}
	scratch, err := os.MkdirTemp(uc.scratchDir, "restore-")
	if err != nil {
		result.Message = err.Error()
		return result, fmt.Errorf("create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	dumpPath := filepath.Join(scratch, domain.DatabaseMember)
	if _, err = archive.Extract(found.Path, domain.DatabaseMember, dumpPath); err != nil {
		result.Message = fmt.Sprintf("could not extract database dump: %v", err)
		return result, err
	}

	script, err := os.Open(dumpPath)
	if err != nil {
		result.Message = err.Error()
		return result, fmt.Errorf("open extracted dump: %w", err)
	}
	defer script.Close()

	session, err := uc.sessions(ctx)
	if err != nil {
		result.Message = err.Error()
		return result, fmt.Errorf("connect to database: %w", err)
	}
	defer session.Close()

	uc.logger.Infof("Restoring database from %s", archiveName)
	outcome, err := database.ExecuteScript(ctx, session, script)
	result.Statements = outcome.Statements
	result.Warnings = outcome.Warnings
	for _, w := range outcome.Warnings {
		uc.logger.Warnf("Database restore: %s", w)
	}
	if err != nil {
		result.Message = fmt.Sprintf("database restore stopped after %d statements: %v", outcome.Statements, err)
		uc.logger.Errorf("Database restore from %s failed: %v", archiveName, err)
		return result, fmt.Errorf("restore database: %w", err)
	}

	result.Success = true
	result.Message = fmt.Sprintf("executed %d statements, skipped %d", outcome.Statements, outcome.Skipped)
	uc.logger.Infof("Database restored from %s: %s", archiveName, result.Message)
	return result, nil
}
