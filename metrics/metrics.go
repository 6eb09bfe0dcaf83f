// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline. The daemon registers them once and serves /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	IngestCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldtrack_ingest_cycles_total",
			Help: "Ingestion cycles by source feed and outcome",
		},
		[]string{"feed", "outcome"},
	)

	StatusEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldtrack_status_events_total",
			Help: "New status-history events appended",
		},
	)

	SensorReadingsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldtrack_sensor_readings_total",
			Help: "New sensor readings stored",
		},
	)

	DuplicatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldtrack_duplicates_total",
			Help: "Events skipped as idempotent replays",
		},
		[]string{"kind"},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldtrack_temperature_alerts_total",
			Help: "Temperature alerts raised by excursion type",
		},
		[]string{"type"},
	)
)

// Register registers all pipeline metrics on the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		IngestCyclesTotal,
		StatusEventsTotal,
		SensorReadingsTotal,
		DuplicatesTotal,
		AlertsTotal,
	)
}
