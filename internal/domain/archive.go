package domain

import (
	"strings"
	"time"
)

const (
	ArchivePrefix    = "backup_"
	ArchiveExt       = ".tar.gz"
	ArchiveTimestamp = "20060102_150405"

	// DatabaseMember is the reserved top-level member that holds the SQL dump.
	DatabaseMember = "__database__.sql"
)

// BackupArchive describes one finished archive in the archive directory.
type BackupArchive struct {
	Filename  string    `json:"filename"`
	Path      string    `json:"-"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// ArchiveFilename returns the archive name for a backup created at t.
func ArchiveFilename(t time.Time) string {
	return ArchivePrefix + t.Format(ArchiveTimestamp) + ArchiveExt
}

// IsArchiveFilename reports whether name looks like an archive produced by
// the engine. It never matches paths.
func IsArchiveFilename(name string) bool {
	return strings.HasPrefix(name, ArchivePrefix) &&
		strings.HasSuffix(name, ArchiveExt) &&
		!strings.ContainsAny(name, `/\`) &&
		name != ArchivePrefix+ArchiveExt
}

// ParseArchiveFilename returns the creation time encoded in an archive name,
// in local time.
func ParseArchiveFilename(name string) (time.Time, bool) {
	if !IsArchiveFilename(name) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, ArchivePrefix), ArchiveExt)
	t, err := time.ParseInLocation(ArchiveTimestamp, stamp, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type MemberInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	IsDir      bool      `json:"is_dir"`
	IsDatabase bool      `json:"is_database"`
}

type RestoreResult struct {
	Success     bool     `json:"success"`
	Archive     string   `json:"archive"`
	Member      string   `json:"member,omitempty"`
	Destination string   `json:"destination,omitempty"`
	Statements  int      `json:"statements,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Message     string   `json:"message"`
}
