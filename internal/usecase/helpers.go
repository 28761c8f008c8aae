package usecase

import (
	"sort"

	"github.com/semmidev/strongbox/internal/domain"
)

func megabytes(size int64) float64 {
	return float64(size) / (1024 * 1024)
}

// sortNewestFirst orders archives by creation time, newest first. Ties are
// broken by filename so the order is stable across calls.
func sortNewestFirst(archives []domain.BackupArchive) {
	sort.SliceStable(archives, func(i, j int) bool {
		if !archives[i].CreatedAt.Equal(archives[j].CreatedAt) {
			return archives[i].CreatedAt.After(archives[j].CreatedAt)
		}
		return archives[i].Filename > archives[j].Filename
	})
}
