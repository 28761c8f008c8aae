package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/strongbox/internal/domain"
)

func TestMetrics(t *testing.T) {
	Convey("Given a metrics registry", t, func() {
		m := New()

		Convey("When backups finish", func() {
			m.BackupFinished(domain.TriggerManual, domain.DumpPrimary, nil, 3*time.Second, 2048)
			m.BackupFinished(domain.TriggerScheduled, domain.DumpFallback, nil, time.Second, 1024)
			m.BackupFinished(domain.TriggerScheduled, "", errors.New("dump failed"), time.Second, 0)

			Convey("They should be counted by label", func() {
				So(testutil.ToFloat64(m.backupsTotal.WithLabelValues("manual", "primary", "success")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.backupsTotal.WithLabelValues("scheduled", "fallback", "success")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.backupsTotal.WithLabelValues("scheduled", "none", "failure")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.lastArchiveBytes), ShouldEqual, 1024)
				So(testutil.ToFloat64(m.lastSuccess), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When archives are pruned and restores run", func() {
			m.ArchivesPruned(2)
			m.ArchivesPruned(0)
			m.RestoreFinished("file", nil)
			m.RestoreFinished("database", errors.New("syntax error"))

			Convey("The counters should add up", func() {
				So(testutil.ToFloat64(m.prunedTotal), ShouldEqual, 2)
				So(testutil.ToFloat64(m.restoresTotal.WithLabelValues("file", "success")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.restoresTotal.WithLabelValues("database", "failure")), ShouldEqual, 1)
			})
		})

		Convey("When scraping the handler", func() {
			m.ArchivesPruned(1)
			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
			body, _ := io.ReadAll(rec.Body)

			Convey("It should expose the strongbox series", func() {
				So(rec.Code, ShouldEqual, 200)
				So(string(body), ShouldContainSubstring, "strongbox_archives_pruned_total 1")
				So(string(body), ShouldContainSubstring, "go_goroutines")
			})
		})
	})
}
