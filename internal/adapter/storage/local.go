package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/semmidev/strongbox/internal/domain"
)

// LocalStorage is the archive directory. It only ever lists or deletes files
// whose names follow the archive naming scheme.
type LocalStorage struct {
	basePath string
}

func NewLocal(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// List returns archives newest first. Creation time comes from the filename
// and falls back to the modification time. Entries that disappear while
// listing are skipped.
func (l *LocalStorage) List(ctx context.Context) ([]domain.BackupArchive, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var archives []domain.BackupArchive
	for _, entry := range entries {
		if entry.IsDir() || !domain.IsArchiveFilename(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, describe(l.GetPath(entry.Name()), info))
	}

	sort.SliceStable(archives, func(i, j int) bool {
		if !archives[i].CreatedAt.Equal(archives[j].CreatedAt) {
			return archives[i].CreatedAt.After(archives[j].CreatedAt)
		}
		return archives[i].Filename > archives[j].Filename
	})
	return archives, nil
}

// Stat describes a single archive by name.
func (l *LocalStorage) Stat(ctx context.Context, name string) (domain.BackupArchive, error) {
	path, err := l.Resolve(name)
	if err != nil {
		return domain.BackupArchive{}, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.BackupArchive{}, fmt.Errorf("%w: %s", domain.ErrArchiveNotFound, name)
	}
	if err != nil {
		return domain.BackupArchive{}, fmt.Errorf("failed to stat archive: %w", err)
	}
	return describe(path, info), nil
}

func (l *LocalStorage) Delete(ctx context.Context, name string) error {
	path, err := l.Resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", domain.ErrArchiveNotFound, name)
		}
		return fmt.Errorf("failed to delete archive: %w", err)
	}
	return nil
}

// Resolve maps an archive name to its path, refusing anything that is not
// a plain archive filename.
func (l *LocalStorage) Resolve(name string) (string, error) {
	if !domain.IsArchiveFilename(name) {
		return "", fmt.Errorf("%w: %q is not an archive name", domain.ErrArchiveNotFound, name)
	}
	return l.GetPath(name), nil
}

func (l *LocalStorage) GetPath(filename string) string {
	return filepath.Join(l.basePath, filename)
}

func (l *LocalStorage) BasePath() string { return l.basePath }

func describe(path string, info os.FileInfo) domain.BackupArchive {
	created, ok := domain.ParseArchiveFilename(info.Name())
	if !ok {
		created = info.ModTime()
	}
	return domain.BackupArchive{
		Filename:  info.Name(),
		Path:      path,
		Size:      info.Size(),
		CreatedAt: created,
	}
}
