package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/semmidev/strongbox/internal/domain"
)

type reader struct {
	tr      *tar.Reader
	closers []io.Closer
}

func open(archivePath string) (*reader, error) {
	file, err := os.Open(archivePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrArchiveNotFound, filepath.Base(archivePath))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %v", domain.ErrArchiveIO, err)
	}

	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: read gzip header: %v", domain.ErrArchiveIO, err)
	}

	return &reader{
		tr:      tar.NewReader(gz),
		closers: []io.Closer{file, gz},
	}, nil
}

func (r *reader) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i].Close()
	}
}

// MemberName normalizes a member name as given by a caller: slash separated,
// no leading "./" or "/", no trailing slash. It rejects names that escape
// the archive root.
func MemberName(name string) (string, error) {
	name = strings.TrimSpace(filepath.ToSlash(name))
	name = strings.TrimPrefix(name, "./")
	name = strings.Trim(name, "/")
	if name == "" {
		return "", fmt.Errorf("%w: empty", domain.ErrInvalidMember)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q escapes the archive root", domain.ErrInvalidMember, name)
		}
	}
	return path.Clean(name), nil
}

// ListMembers returns every member of the archive in stored order.
func ListMembers(archivePath string) ([]domain.MemberInfo, error) {
	r, err := open(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var members []domain.MemberInfo
	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read archive: %v", domain.ErrArchiveIO, err)
		}

		name := strings.TrimSuffix(hdr.Name, "/")
		members = append(members, domain.MemberInfo{
			Name:       name,
			Size:       hdr.Size,
			ModTime:    hdr.ModTime,
			IsDir:      hdr.Typeflag == tar.TypeDir,
			IsDatabase: name == domain.DatabaseMember,
		})
	}
	return members, nil
}

// Find scans the archive for member and hands its header and content to fn.
// It returns ErrMemberNotFound, without calling fn, when the member is absent.
func Find(archivePath, member string, fn func(hdr *tar.Header, content io.Reader) error) error {
	name, err := MemberName(member)
	if err != nil {
		return err
	}

	r, err := open(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		hdr, err := r.tr.Next()
		if err == io.EOF {
			return fmt.Errorf("%w: %s", domain.ErrMemberNotFound, name)
		}
		if err != nil {
			return fmt.Errorf("%w: read archive: %v", domain.ErrArchiveIO, err)
		}
		if strings.TrimSuffix(hdr.Name, "/") == name {
			return fn(hdr, r.tr)
		}
	}
}

// Extract writes a regular-file member to destination. The content goes to a
// temp file next to destination, is synced, and then renamed over it, so a
// failed extraction never leaves a half-written destination. Nothing is
// created when the member is absent.
func Extract(archivePath, member, destination string) (int64, error) {
	var written int64
	err := Find(archivePath, member, func(hdr *tar.Header, content io.Reader) error {
		if hdr.Typeflag != tar.TypeReg {
			return fmt.Errorf("member %s is not a regular file", hdr.Name)
		}

		dir := filepath.Dir(destination)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create destination directory: %w", err)
		}

		tmp, err := os.CreateTemp(dir, ".restore-*")
		if err != nil {
			return fmt.Errorf("create temp file: %w", err)
		}
		tmpName := tmp.Name()
		fail := func(err error) error {
			tmp.Close()
			os.Remove(tmpName)
			return err
		}

		n, err := io.Copy(tmp, content)
		if err != nil {
			return fail(fmt.Errorf("%w: extract %s: %v", domain.ErrArchiveIO, hdr.Name, err))
		}
		if err := tmp.Chmod(hdr.FileInfo().Mode().Perm()); err != nil {
			return fail(fmt.Errorf("chmod restored file: %w", err))
		}
		if err := tmp.Sync(); err != nil {
			return fail(fmt.Errorf("sync restored file: %w", err))
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("close restored file: %w", err)
		}
		if err := os.Rename(tmpName, destination); err != nil {
			os.Remove(tmpName)
			return fmt.Errorf("replace %s: %w", destination, err)
		}

		written = n
		return nil
	})
	return written, err
}
