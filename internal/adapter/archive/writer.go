package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/gzip"

	"github.com/semmidev/strongbox/internal/domain"
)

// Writer streams members into a new .tar.gz file (file -> gzip -> tar).
type Writer struct {
	path    string
	tw      *tar.Writer
	closers []io.Closer
	closed  bool
}

// Create opens a new archive at path. It refuses to overwrite an existing
// file; the error then matches fs.ErrExist.
func Create(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0640)
	if err != nil {
		return nil, fmt.Errorf("%w: create archive: %w", domain.ErrArchiveIO, err)
	}

	gz, err := gzip.NewWriterLevel(file, gzip.DefaultCompression)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: create gzip writer: %v", domain.ErrArchiveIO, err)
	}

	tw := tar.NewWriter(gz)
	return &Writer{
		path:    path,
		tw:      tw,
		closers: []io.Closer{file, gz, tw},
	}, nil
}

func (w *Writer) Path() string { return w.path }

// Close flushes the tar and gzip streams and closes the file, in reverse
// order of creation. It returns the first error encountered.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	var firstErr error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%w: close archive: %v", domain.ErrArchiveIO, firstErr)
	}
	return nil
}

// Abort closes the writer and removes the partial archive.
func (w *Writer) Abort() error {
	_ = w.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial archive: %w", err)
	}
	return nil
}

func (w *Writer) writeDir(name string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("%w: header for %s: %v", domain.ErrArchiveIO, name, err)
	}
	hdr.Name = name + "/"
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrArchiveIO, hdr.Name, err)
	}
	return nil
}

func (w *Writer) writeSymlink(name, target string, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, target)
	if err != nil {
		return fmt.Errorf("%w: header for %s: %v", domain.ErrArchiveIO, name, err)
	}
	hdr.Name = name
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrArchiveIO, name, err)
	}
	return nil
}

// errShortRead means a member's source ended before the size in its header.
// The member is zero padded to that size so the stream stays valid.
var errShortRead = errors.New("source shrank while being archived")

// writeFile streams src as a regular member of exactly info.Size() bytes.
// Bytes appended to src after info was taken are not archived.
func (w *Writer) writeFile(name string, src io.Reader, info fs.FileInfo) error {
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("%w: header for %s: %v", domain.ErrArchiveIO, name, err)
	}
	hdr.Name = name

	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("%w: write %s: %v", domain.ErrArchiveIO, name, err)
	}
	n, err := io.CopyN(w.tw, src, info.Size())
	if errors.Is(err, io.EOF) {
		if _, padErr := io.CopyN(w.tw, zeroReader{}, info.Size()-n); padErr != nil {
			return fmt.Errorf("%w: pad %s: %v", domain.ErrArchiveIO, name, padErr)
		}
		return fmt.Errorf("%w: %s: read %d of %d bytes", errShortRead, name, n, info.Size())
	}
	if err != nil {
		return fmt.Errorf("%w: copy %s: %v", domain.ErrArchiveIO, name, err)
	}
	return nil
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
