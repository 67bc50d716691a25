package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/digipop/population"
)

// Metrics exports live population gauges and lifecycle counters.
type Metrics struct {
	Update          prometheus.Gauge
	Organisms       *prometheus.GaugeVec
	Groups          prometheus.Gauge
	Births          prometheus.Counter
	Deaths          prometheus.Counter
	Evictions       prometheus.Counter
	PlacementFails  prometheus.Counter
	Cycles          prometheus.Counter
	Admissions      *prometheus.CounterVec
	UpdateDuration  prometheus.Histogram
	SnapshotsStored *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Update: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "digipop", Name: "update",
			Help: "Number of completed updates.",
		}),
		Organisms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "digipop", Name: "organisms",
			Help: "Live organisms by role.",
		}, []string{"role"}),
		Groups: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "digipop", Name: "groups",
			Help: "Registered groups with at least one member.",
		}),
		Births: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "digipop", Name: "births_total",
			Help: "Offspring placed.",
		}),
		Deaths: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "digipop", Name: "deaths_total",
			Help: "Organisms removed from the grid.",
		}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "digipop", Name: "evictions_total",
			Help: "Occupants evicted to make room for offspring.",
		}),
		PlacementFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "digipop", Name: "placement_failures_total",
			Help: "Births dropped because no legal target existed.",
		}),
		Cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "digipop", Name: "cycles_total",
			Help: "CPU cycles executed.",
		}),
		Admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "digipop", Name: "group_admissions_total",
			Help: "Group admission draws by kind and result.",
		}, []string{"kind", "result"}),
		UpdateDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "digipop", Name: "update_duration_seconds",
			Help:    "Wall time per update.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		SnapshotsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "digipop", Name: "snapshots_stored_total",
			Help: "Snapshots persisted by backend.",
		}, []string{"backend"}),
	}
	reg.MustRegister(
		m.Update, m.Organisms, m.Groups,
		m.Births, m.Deaths, m.Evictions, m.PlacementFails, m.Cycles,
		m.Admissions, m.UpdateDuration, m.SnapshotsStored,
	)
	return m
}

// ObserveUpdate records one finished update.
func (m *Metrics) ObserveUpdate(r population.UpdateReport, groups int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Update.Set(float64(r.Update + 1))
	m.Organisms.WithLabelValues("prey").Set(float64(r.Counts.Prey))
	m.Organisms.WithLabelValues("predator").Set(float64(r.Counts.Predators))
	m.Organisms.WithLabelValues("top_predator").Set(float64(r.Counts.TopPredators))
	m.Groups.Set(float64(groups))

	m.Births.Add(float64(r.Births))
	m.Deaths.Add(float64(r.Deaths))
	m.Evictions.Add(float64(r.Evictions))
	m.PlacementFails.Add(float64(r.PlacementFailures))
	m.Cycles.Add(float64(r.Cycles))

	m.Admissions.WithLabelValues("immigration", "accepted").Add(float64(r.ImmigrationAccepted))
	m.Admissions.WithLabelValues("immigration", "rejected").Add(float64(r.ImmigrationRejected))
	m.Admissions.WithLabelValues("retention", "accepted").Add(float64(r.RetentionAccepted))
	m.Admissions.WithLabelValues("retention", "rejected").Add(float64(r.RetentionRejected))

	m.UpdateDuration.Observe(elapsed.Seconds())
}

// ObserveSnapshot counts a snapshot stored by backend.
func (m *Metrics) ObserveSnapshot(backend string) {
	if m == nil {
		return
	}
	m.SnapshotsStored.WithLabelValues(backend).Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
