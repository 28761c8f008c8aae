package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/strongbox/internal/adapter/archive"
	"github.com/semmidev/strongbox/internal/adapter/exclusion"
	"github.com/semmidev/strongbox/internal/adapter/notify"
	"github.com/semmidev/strongbox/internal/adapter/progress"
	"github.com/semmidev/strongbox/internal/adapter/schedulestore"
	"github.com/semmidev/strongbox/internal/adapter/storage"
	"github.com/semmidev/strongbox/internal/domain"
	"github.com/semmidev/strongbox/internal/infrastructure/logger"
	"github.com/semmidev/strongbox/internal/infrastructure/metrics"
	"github.com/semmidev/strongbox/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubDumper struct{}

func (stubDumper) Dump(ctx context.Context, destination string, sink domain.ProgressSink) (domain.DumpResult, error) {
	if err := os.WriteFile(destination, []byte("CREATE TABLE t (id int);\n"), 0600); err != nil {
		return domain.DumpResult{}, err
	}
	return domain.DumpResult{Method: domain.DumpPrimary}, nil
}

type testEnv struct {
	sourceRoot string
	svc        *Services
	server     *Server
	handler    http.Handler
}

func newTestEnv(base string) *testEnv {
	env := &testEnv{sourceRoot: filepath.Join(base, "data")}
	archiveDir := filepath.Join(base, "archives")
	scratchDir := filepath.Join(archiveDir, ".scratch")

	So(os.MkdirAll(filepath.Join(env.sourceRoot, "docs"), 0755), ShouldBeNil)
	So(os.WriteFile(filepath.Join(env.sourceRoot, "docs", "guide.txt"), []byte("guide"), 0644), ShouldBeNil)

	archives, err := storage.NewLocal(archiveDir)
	So(err, ShouldBeNil)
	progressStore, err := progress.NewStore(filepath.Join(archiveDir, ".progress"), time.Minute, 0)
	So(err, ShouldBeNil)
	matcher, err := exclusion.New([]string{archiveDir})
	So(err, ShouldBeNil)

	log := logger.NewNop()
	m := metrics.New()
	evaluator := usecase.NewEvaluator(time.Local)
	schedules := schedulestore.New(filepath.Join(archiveDir, "schedules.json"), log)
	cleanup := usecase.NewCleanup(archives, log, m, 5)
	backup := usecase.NewBackup(stubDumper{}, archive.New(matcher, 10), archives, progressStore, cleanup, log, m, usecase.BackupOptions{
		SourceRoot: env.sourceRoot,
		ScratchDir: scratchDir,
		Heartbeat:  time.Second,
	})
	noDatabase := func(ctx context.Context) (domain.StatementSession, error) {
		return nil, errors.New("database unavailable")
	}

	env.svc = &Services{
		Backup:    backup,
		Cleanup:   cleanup,
		Restore:   usecase.NewRestore(archives, noDatabase, log, m, env.sourceRoot, scratchDir),
		Scheduled: usecase.NewScheduledRunner(schedules, backup, evaluator, notify.Nop{}, log),
		Evaluator: evaluator,
		Progress:  progressStore,
		Archives:  archives,
		Schedules: schedules,
		Metrics:   m,
	}
	env.server = NewServer("", env.svc, log)
	env.handler = env.server.Handler()
	return env
}

func (env *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		So(err, ShouldBeNil)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
	return body
}

// waitForJob polls the job endpoint until the job reaches a terminal stage.
func (env *testEnv) waitForJob(id string) map[string]interface{} {
	deadline := time.Now().Add(10 * time.Second)
	for {
		w := env.do(http.MethodGet, "/api/jobs/"+id, nil)
		So(w.Code, ShouldEqual, http.StatusOK)
		body := decode(w)
		stage := domain.Stage(body["stage"].(string))
		if stage.Terminal() || time.Now().After(deadline) {
			return body
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func (env *testEnv) backupNow() string {
	result, err := env.svc.Backup.Execute(context.Background(), domain.TriggerManual)
	So(err, ShouldBeNil)
	return result.Archive.Filename
}

func TestHTTPServer(t *testing.T) {
	Convey("Given the HTTP API", t, func() {
		env := newTestEnv(t.TempDir())

		Convey("When checking health", func() {
			w := env.do(http.MethodGet, "/api/health", nil)

			Convey("It should report ok", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["status"], ShouldEqual, "ok")
			})
		})

		Convey("When starting a backup", func() {
			w := env.do(http.MethodPost, "/api/backups", nil)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			id := decode(w)["job_id"].(string)

			job := env.waitForJob(id)
			env.server.jobs.Wait()

			Convey("The job should complete and be pollable", func() {
				So(job["stage"], ShouldEqual, string(domain.StageComplete))
				So(job["percent"], ShouldEqual, float64(100))
				So(job["stale"], ShouldEqual, false)
				So(domain.IsArchiveFilename(job["archive"].(string)), ShouldBeTrue)
			})

			Convey("The archive should be listed", func() {
				w := env.do(http.MethodGet, "/api/archives", nil)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["count"], ShouldEqual, float64(1))
			})
		})

		Convey("When a job is already running", func() {
			first, err := env.svc.Backup.Begin(domain.TriggerScheduled)
			So(err, ShouldBeNil)

			w := env.do(http.MethodPost, "/api/backups", nil)

			Convey("It should answer 409 with the running job", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decode(w)["job_id"], ShouldEqual, first.ID())
			})

			Convey("Health should show the active job", func() {
				w := env.do(http.MethodGet, "/api/health", nil)
				So(decode(w)["active_job"], ShouldEqual, first.ID())
			})
		})

		Convey("When polling an unknown job", func() {
			w := env.do(http.MethodGet, "/api/jobs/not-a-job", nil)

			Convey("It should answer 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("Given an existing archive", func() {
			name := env.backupNow()

			Convey("Its members should be listed", func() {
				w := env.do(http.MethodGet, "/api/archives/"+name+"/members", nil)
				So(w.Code, ShouldEqual, http.StatusOK)
				members := decode(w)["members"].([]interface{})
				var names []string
				for _, m := range members {
					names = append(names, m.(map[string]interface{})["name"].(string))
				}
				So(names, ShouldContain, "docs/guide.txt")
				So(names, ShouldContain, domain.DatabaseMember)
			})

			Convey("A file should be restored to its original place", func() {
				target := filepath.Join(env.sourceRoot, "docs", "guide.txt")
				So(os.Remove(target), ShouldBeNil)

				w := env.do(http.MethodPost, "/api/archives/"+name+"/restore/file", gin.H{"member": "docs/guide.txt"})
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["success"], ShouldEqual, true)

				content, err := os.ReadFile(target)
				So(err, ShouldBeNil)
				So(string(content), ShouldEqual, "guide")
			})

			Convey("A missing member should answer 404 and write nothing", func() {
				dest := filepath.Join(env.sourceRoot, "nope.txt")
				w := env.do(http.MethodPost, "/api/archives/"+name+"/restore/file", gin.H{"member": "nope.txt", "destination": dest})
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decode(w)["success"], ShouldEqual, false)

				_, err := os.Stat(dest)
				So(os.IsNotExist(err), ShouldBeTrue)
			})

			Convey("An escaping member should answer 400", func() {
				w := env.do(http.MethodPost, "/api/archives/"+name+"/restore/file", gin.H{"member": "../etc/passwd"})
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("A request without a member should answer 400", func() {
				w := env.do(http.MethodPost, "/api/archives/"+name+"/restore/file", gin.H{})
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("A database restore without a reachable database should fail", func() {
				w := env.do(http.MethodPost, "/api/archives/"+name+"/restore/database", nil)
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(decode(w)["message"], ShouldContainSubstring, "database unavailable")
			})

			Convey("Deleting it should remove it once", func() {
				w := env.do(http.MethodDelete, "/api/archives/"+name, nil)
				So(w.Code, ShouldEqual, http.StatusNoContent)

				w = env.do(http.MethodDelete, "/api/archives/"+name, nil)
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When asking for an archive that does not exist", func() {
			w := env.do(http.MethodGet, "/api/archives/backup_19990101_000000.tar.gz/members", nil)

			Convey("It should answer 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})
		})

		Convey("When pruning beyond the retention count", func() {
			for _, stamp := range []string{"20200101_000000", "20200102_000000", "20200103_000000", "20200104_000000", "20200105_000000", "20200106_000000"} {
				path := env.svc.Archives.GetPath("backup_" + stamp + ".tar.gz")
				So(os.WriteFile(path, []byte("old"), 0644), ShouldBeNil)
			}
			w := env.do(http.MethodPost, "/api/archives/prune", nil)

			Convey("Only the oldest should be deleted", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["deleted"], ShouldResemble, []interface{}{"backup_20200101_000000.tar.gz"})
			})
		})

		Convey("When listing schedules", func() {
			hourAgo := time.Now().Add(-time.Hour)
			So(env.svc.Schedules.Put(domain.ScheduleDefinition{
				ID:        "nightly",
				Name:      "nightly",
				Frequency: domain.FrequencyDaily,
				TimeOfDay: domain.TimeOfDay{Hour: 2},
				Enabled:   true,
				CreatedAt: hourAgo.AddDate(0, 0, -2),
			}), ShouldBeNil)

			w := env.do(http.MethodGet, "/api/schedules", nil)

			Convey("Each schedule should carry its next run and due flag", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				schedules := decode(w)["schedules"].([]interface{})
				So(len(schedules), ShouldEqual, 1)

				first := schedules[0].(map[string]interface{})
				So(first["name"], ShouldEqual, "nightly")
				So(first["time_of_day"], ShouldEqual, "02:00")
				So(first["due"], ShouldEqual, true)
				So(first["next_run_at"], ShouldNotBeEmpty)
			})
		})

		Convey("When scraping metrics", func() {
			env.backupNow()
			w := env.do(http.MethodGet, "/metrics", nil)

			Convey("The backup should be counted", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `strongbox_backups_total{method="primary",result="success",trigger="manual"} 1`)
			})
		})
	})
}
