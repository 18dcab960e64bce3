package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	DatasetLoads    *prometheus.CounterVec
	MonthsFetched   *prometheus.CounterVec
	LoadDuration    prometheus.Histogram
	RegisteredBytes prometheus.Gauge
	TableRows       *prometheus.GaugeVec
	Queries         *prometheus.CounterVec
	QueryDuration   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DatasetLoads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxidash_dataset_loads_total",
				Help: "Dataset loads by failure mode and outcome",
			},
			[]string{"mode", "status"},
		),
		MonthsFetched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxidash_months_fetched_total",
				Help: "Monthly source fetches by outcome",
			},
			[]string{"status"},
		),
		LoadDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taxidash_dataset_load_duration_seconds",
				Help:    "Time to fetch, register and materialize a dataset",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		RegisteredBytes: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "taxidash_registered_bytes",
				Help: "Bytes held by registered file buffers",
			},
		),
		TableRows: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "taxidash_table_rows",
				Help: "Rows in each materialized table",
			},
			[]string{"table"},
		),
		Queries: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taxidash_queries_total",
				Help: "Queries executed by outcome",
			},
			[]string{"status"},
		),
		QueryDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taxidash_query_duration_seconds",
				Help:    "Query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveLoad records the outcome of one dataset load.
func (m *Metrics) ObserveLoad(strict bool, d time.Duration, err error) {
	if m == nil {
		return
	}
	mode := "lenient"
	if strict {
		mode = "strict"
	}
	m.DatasetLoads.WithLabelValues(mode, status(err)).Inc()
	m.LoadDuration.Observe(d.Seconds())
}

// ObserveFetches records monthly fetch outcomes.
func (m *Metrics) ObserveFetches(ok, failed int) {
	if m == nil {
		return
	}
	m.MonthsFetched.WithLabelValues("ok").Add(float64(ok))
	m.MonthsFetched.WithLabelValues("error").Add(float64(failed))
}

// ObserveTable records a materialized table and the buffer memory now held.
func (m *Metrics) ObserveTable(table string, rows int64, registeredBytes int64) {
	if m == nil {
		return
	}
	m.TableRows.WithLabelValues(table).Set(float64(rows))
	m.RegisteredBytes.Set(float64(registeredBytes))
}

// ObserveQuery records one query execution.
func (m *Metrics) ObserveQuery(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(status(err)).Inc()
	m.QueryDuration.Observe(d.Seconds())
}
