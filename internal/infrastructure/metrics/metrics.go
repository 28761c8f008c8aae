package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/semmidev/strongbox/internal/domain"
)

const namespace = "strongbox"

// Metrics records backup, retention and restore outcomes on a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	backupsTotal     *prometheus.CounterVec
	backupDuration   *prometheus.HistogramVec
	lastSuccess      prometheus.Gauge
	lastArchiveBytes prometheus.Gauge
	prunedTotal      prometheus.Counter
	restoresTotal    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		backupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Backup jobs by trigger, dump method and result.",
		}, []string{"trigger", "method", "result"}),
		backupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backup_duration_seconds",
			Help:      "Wall-clock duration of backup jobs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful backup.",
		}),
		lastArchiveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_archive_bytes",
			Help:      "Size of the most recent archive.",
		}),
		prunedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_pruned_total",
			Help:      "Archives deleted by retention.",
		}),
		restoresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Restore operations by kind and result.",
		}, []string{"kind", "result"}),
	}

	m.registry.MustRegister(
		m.backupsTotal,
		m.backupDuration,
		m.lastSuccess,
		m.lastArchiveBytes,
		m.prunedTotal,
		m.restoresTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func (m *Metrics) BackupFinished(trigger domain.Trigger, method domain.DumpMethod, err error, elapsed time.Duration, size int64) {
	if method == "" {
		method = "none"
	}
	m.backupsTotal.WithLabelValues(string(trigger), string(method), result(err)).Inc()
	m.backupDuration.WithLabelValues(result(err)).Observe(elapsed.Seconds())
	if err == nil {
		m.lastSuccess.SetToCurrentTime()
		m.lastArchiveBytes.Set(float64(size))
	}
}

func (m *Metrics) ArchivesPruned(n int) {
	m.prunedTotal.Add(float64(n))
}

func (m *Metrics) RestoreFinished(kind string, err error) {
	m.restoresTotal.WithLabelValues(kind, result(err)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
