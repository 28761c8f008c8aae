package usecase

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/strongbox/internal/adapter/archive"
	"github.com/semmidev/strongbox/internal/adapter/exclusion"
	"github.com/semmidev/strongbox/internal/adapter/progress"
	"github.com/semmidev/strongbox/internal/adapter/storage"
	"github.com/semmidev/strongbox/internal/domain"
	"github.com/semmidev/strongbox/internal/infrastructure/logger"
)

const testDump = "CREATE TABLE t (id int);\nINSERT INTO t VALUES (1);\n"

type fakeDumper struct {
	err    error
	method domain.DumpMethod
}

func (f fakeDumper) Dump(ctx context.Context, destination string, sink domain.ProgressSink) (domain.DumpResult, error) {
	if f.err != nil {
		return domain.DumpResult{}, f.err
	}
	if err := os.WriteFile(destination, []byte(testDump), 0600); err != nil {
		return domain.DumpResult{}, err
	}
	sink.Advance(1, "database dumped", "")
	method := f.method
	if method == "" {
		method = domain.DumpPrimary
	}
	return domain.DumpResult{Method: method}, nil
}

type fakeRecorder struct {
	mu       sync.Mutex
	backups  []error
	pruned   int
	restores map[string]int
}

func (r *fakeRecorder) BackupFinished(_ domain.Trigger, _ domain.DumpMethod, err error, _ time.Duration, _ int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backups = append(r.backups, err)
}

func (r *fakeRecorder) ArchivesPruned(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruned += n
}

func (r *fakeRecorder) RestoreFinished(kind string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.restores == nil {
		r.restores = map[string]int{}
	}
	r.restores[kind]++
}

type backupFixture struct {
	sourceRoot string
	archiveDir string
	scratchDir string
	archives   *storage.LocalStorage
	progress   *progress.Store
	metrics    *fakeRecorder
	backup     *Backup
}

func newBackupFixture(base string, dumper domain.DatabaseDumper, retention int) *backupFixture {
	f := &backupFixture{
		sourceRoot: filepath.Join(base, "data"),
		archiveDir: filepath.Join(base, "archives"),
		metrics:    &fakeRecorder{},
	}
	f.scratchDir = filepath.Join(f.archiveDir, ".scratch")

	files := map[string]string{
		"app.txt":           "application",
		"logs/today.log":    "noise",
		"uploads/a/b.png":   "png",
		"uploads/readme.md": "# uploads",
	}
	for name, content := range files {
		path := filepath.Join(f.sourceRoot, filepath.FromSlash(name))
		So(os.MkdirAll(filepath.Dir(path), 0755), ShouldBeNil)
		So(os.WriteFile(path, []byte(content), 0644), ShouldBeNil)
	}

	var err error
	f.archives, err = storage.NewLocal(f.archiveDir)
	So(err, ShouldBeNil)
	f.progress, err = progress.NewStore(filepath.Join(f.archiveDir, ".progress"), time.Minute, 0)
	So(err, ShouldBeNil)

	matcher, err := exclusion.New([]string{
		filepath.Join(f.sourceRoot, "logs"),
		f.archiveDir,
	})
	So(err, ShouldBeNil)

	log := logger.NewNop()
	cleanup := NewCleanup(f.archives, log, f.metrics, retention)
	f.backup = NewBackup(dumper, archive.New(matcher, 2), f.archives, f.progress, cleanup, log, f.metrics, BackupOptions{
		SourceRoot: f.sourceRoot,
		ScratchDir: f.scratchDir,
		Heartbeat:  time.Second,
	})
	return f
}

func memberNames(path string) []string {
	members, err := archive.ListMembers(path)
	So(err, ShouldBeNil)
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Name)
	}
	return names
}
