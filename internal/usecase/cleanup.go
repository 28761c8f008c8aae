package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/semmidev/strongbox/internal/domain"
)

// Cleanup enforces count-based retention on the archive directory.
type Cleanup struct {
	archives       ArchiveStore
	logger         Logger
	metrics        Recorder
	retentionCount int
}

func NewCleanup(
	archives ArchiveStore,
	logger Logger,
	metrics Recorder,
	retentionCount int,
) *Cleanup {
	return &Cleanup{
		archives:       archives,
		logger:         logger,
		metrics:        orNop(metrics),
		retentionCount: retentionCount,
	}
}

func (uc *Cleanup) Execute(ctx context.Context) error {
	_, err := uc.Prune(ctx)
	return err
}

// Prune deletes every archive beyond the newest retentionCount and returns
// the names it removed. Running it again without new archives removes nothing.
func (uc *Cleanup) Prune(ctx context.Context) ([]string, error) {
	archives, err := uc.archives.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	sortNewestFirst(archives)

	if len(archives) <= uc.retentionCount {
		return nil, nil
	}

	uc.logger.Infof("Pruning archives, keeping newest %d of %d", uc.retentionCount, len(archives))

	var deleted []string
	for _, archive := range archives[uc.retentionCount:] {
		uc.logger.Infof("Deleting old archive: %s", archive.Filename)

		err := uc.archives.Delete(ctx, archive.Filename)
		switch {
		case err == nil:
			deleted = append(deleted, archive.Filename)
		case errors.Is(err, domain.ErrArchiveNotFound):
			// Already gone.
		default:
			uc.logger.Errorf("Failed to delete %s: %v", archive.Filename, err)
		}
	}

	uc.metrics.ArchivesPruned(len(deleted))
	uc.logger.Infof("Deleted %d old archive(s)", len(deleted))
	return deleted, nil
}
