package metrics

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tibridge"

var (
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	verdictsTotal       *prometheus.CounterVec
	feedAcceptedTotal   *prometheus.CounterVec
	feedNewTotal        *prometheus.CounterVec
	feedFailuresTotal   *prometheus.CounterVec
	denylistEntries     prometheus.Gauge
	denylistLastRefresh prometheus.Gauge
	denylistFailures    *prometheus.CounterVec
	purgedTotal         *prometheus.CounterVec
	taskDuration        *prometheus.HistogramVec

	initOnce sync.Once
)

func init() {
	initMetrics()
}

// initMetrics registers every collector once. Tests get an isolated registry
// so parallel packages never collide on the default one.
func initMetrics() {
	initOnce.Do(func() {
		if testing.Testing() {
			reg := prometheus.NewRegistry()
			registry, gatherer = reg, reg
		} else {
			registry, gatherer = prometheus.DefaultRegisterer, prometheus.DefaultGatherer
		}

		verdictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reputation",
			Name:      "verdicts_total",
			Help:      "Classifications served, by severity.",
		}, []string{"severity"})

		feedAcceptedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "accepted_total",
			Help:      "Addresses accepted from each feed source.",
		}, []string{"source"})

		feedNewTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "new_total",
			Help:      "Addresses that were not yet observed when a feed delivered them.",
		}, []string{"source"})

		feedFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feeds",
			Name:      "failures_total",
			Help:      "Feed fetches that contributed nothing because of an error.",
		}, []string{"source"})

		denylistEntries = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "denylist",
			Name:      "entries",
			Help:      "Entries in the deny-list set after the last rebuild.",
		})

		denylistLastRefresh = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "denylist",
			Name:      "last_refresh_timestamp",
			Help:      "Unix timestamp of the last successful deny-list rebuild.",
		})

		denylistFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "denylist",
			Name:      "refresh_failures_total",
			Help:      "Abandoned deny-list refreshes, by reason.",
		}, []string{"reason"})

		purgedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reconciler",
			Name:      "purged_total",
			Help:      "Observations deleted because their address became deny-listed.",
		}, []string{"source"})

		taskDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Run time of periodic tasks.",
			Buckets:   []float64{.01, .1, .5, 1, 5, 15, 60, 300, 900},
		}, []string{"task", "result"})

		registry.MustRegister(
			verdictsTotal,
			feedAcceptedTotal,
			feedNewTotal,
			feedFailuresTotal,
			denylistEntries,
			denylistLastRefresh,
			denylistFailures,
			purgedTotal,
			taskDuration,
		)
	})
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func IncVerdict(severity string) {
	verdictsTotal.WithLabelValues(severity).Inc()
}

func AddFeedResult(source string, accepted, fresh int, failed bool) {
	if failed {
		feedFailuresTotal.WithLabelValues(source).Inc()
		return
	}
	feedAcceptedTotal.WithLabelValues(source).Add(float64(accepted))
	feedNewTotal.WithLabelValues(source).Add(float64(fresh))
}

func SetDenylistEntries(n int, at time.Time) {
	denylistEntries.Set(float64(n))
	denylistLastRefresh.Set(float64(at.Unix()))
}

func IncDenylistFailure(reason string) {
	denylistFailures.WithLabelValues(reason).Inc()
}

func AddPurged(source string, n int) {
	if n > 0 {
		purgedTotal.WithLabelValues(source).Add(float64(n))
	}
}

func ObserveTask(task string, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	taskDuration.WithLabelValues(task, result).Observe(took.Seconds())
}
