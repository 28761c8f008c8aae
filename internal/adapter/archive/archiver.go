package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/semmidev/strongbox/internal/adapter/exclusion"
	"github.com/semmidev/strongbox/internal/domain"
)

const DefaultBatchSize = 50

// TreeStats summarizes one AddTree pass. Files counts symlink members too.
type TreeStats struct {
	Files    int
	Dirs     int
	Symlinks int
	Bytes    int64
	Skipped  int
	Warnings []string
}

func (s *TreeStats) skip(format string, args ...any) {
	s.Skipped++
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, args...))
}

// Archiver mirrors a directory tree into an archive, honouring exclusions.
type Archiver struct {
	matcher   *exclusion.Matcher
	batchSize int
}

func New(matcher *exclusion.Matcher, batchSize int) *Archiver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Archiver{matcher: matcher, batchSize: batchSize}
}

// CountFiles walks root with the same exclusion rules as AddTree and counts
// the files that would be archived. No file content is read.
func (a *Archiver) CountFiles(ctx context.Context, root string) (int, error) {
	count := 0
	err := a.walk(ctx, root, func(path, name string, d fs.DirEntry) error {
		if !d.IsDir() {
			count++
		}
		return nil
	}, nil)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AddTree writes every non-excluded entry under root into w. total is the
// result of CountFiles and only scales progress; it is never re-counted.
func (a *Archiver) AddTree(ctx context.Context, root string, w *Writer, total int, sink domain.ProgressSink) (TreeStats, error) {
	if sink == nil {
		sink = domain.NopSink{}
	}

	var stats TreeStats
	report := func(item string, final bool) {
		fraction := 1.0
		if total > 0 && !final {
			fraction = float64(stats.Files) / float64(total)
		}
		sink.Advance(fraction, fmt.Sprintf("archived %d of %d files", stats.Files, total), item)
	}

	err := a.walk(ctx, root, func(path, name string, d fs.DirEntry) error {
		info, err := d.Info()
		if errors.Is(err, fs.ErrNotExist) {
			stats.skip("%s vanished before it could be archived", name)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: stat %s: %v", domain.ErrArchiveIO, path, err)
		}

		switch {
		case d.IsDir():
			if err := w.writeDir(name, info); err != nil {
				return err
			}
			stats.Dirs++
			return nil

		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if errors.Is(err, fs.ErrNotExist) {
				stats.skip("%s vanished before it could be archived", name)
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: readlink %s: %v", domain.ErrArchiveIO, path, err)
			}
			if err := w.writeSymlink(name, target, info); err != nil {
				return err
			}
			stats.Symlinks++

		case info.Mode().IsRegular():
			if filepath.Dir(name) == "." && name == domain.DatabaseMember {
				stats.skip("%s collides with the database member and was skipped", name)
				return nil
			}
			file, err := os.Open(path)
			if errors.Is(err, fs.ErrNotExist) {
				stats.skip("%s vanished before it could be archived", name)
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: open %s: %v", domain.ErrArchiveIO, path, err)
			}
			// The walk-time size may already be stale.
			if current, statErr := file.Stat(); statErr == nil {
				info = current
			}
			err = w.writeFile(name, file, info)
			file.Close()
			if errors.Is(err, errShortRead) {
				stats.skip("%s shrank while being archived and was zero padded", name)
			} else if err != nil {
				return err
			}
			stats.Bytes += info.Size()

		default:
			stats.skip("%s is not a regular file, directory or symlink", name)
			return nil
		}

		stats.Files++
		if stats.Files%a.batchSize == 0 {
			report(name, false)
		}
		return nil
	}, &stats)
	if err != nil {
		return stats, err
	}

	report("", true)
	return stats, nil
}

// AddFile writes a single file into w under memberName.
func (a *Archiver) AddFile(path string, w *Writer, memberName string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrArchiveIO, path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", domain.ErrArchiveIO, path, err)
	}
	return w.writeFile(memberName, file, info)
}

type visitFunc func(path, name string, d fs.DirEntry) error

// walk visits root depth-first in lexical order. Excluded directories are
// pruned, symlinks are reported but never followed, and the root itself is
// not visited. Entries that disappear mid-walk are skipped when stats is set.
func (a *Archiver) walk(ctx context.Context, root string, visit visitFunc, stats *TreeStats) error {
	root = filepath.Clean(root)
	if a.matcher.IsExcluded(root) {
		return nil
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return fmt.Errorf("%w: read source root: %v", domain.ErrArchiveIO, err)
			}
			if errors.Is(err, fs.ErrNotExist) {
				if stats != nil {
					stats.skip("%s vanished before it could be archived", path)
				}
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			return fmt.Errorf("%w: walk %s: %v", domain.ErrArchiveIO, path, err)
		}
		if path == root {
			return nil
		}

		if a.matcher.IsExcluded(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("%w: relative path for %s: %v", domain.ErrArchiveIO, path, err)
		}
		return visit(path, filepath.ToSlash(rel), d)
	})
}
