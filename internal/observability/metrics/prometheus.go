// Package metrics provides Prometheus metrics for the conversion services.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	Conversions           *prometheus.CounterVec
	ConversionDuration    prometheus.Histogram
	ResourcesProduced     *prometheus.CounterVec
	CacheHits             prometheus.Counter
	CacheMisses           prometheus.Counter
	DuplicatesSkipped     prometheus.Counter
	FilesProcessed        *prometheus.CounterVec
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	OutboxPending         prometheus.Gauge
	CircuitBreakerState   *prometheus.GaugeVec
	LogEntriesPurged      prometheus.Counter
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		Conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hl7_conversions_total",
			Help: "Total HL7 to FHIR conversions by outcome and source",
		}, []string{"status", "source"}),
		ConversionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hl7_conversion_duration_seconds",
			Help:    "HL7 to FHIR conversion duration",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		ResourcesProduced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fhir_resources_produced_total",
			Help: "FHIR resources produced by type",
		}, []string{"resource_type"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversion_cache_hits_total",
			Help: "Conversions served from the memo cache",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversion_cache_misses_total",
			Help: "Conversions computed by the engine",
		}),
		DuplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hl7_duplicates_skipped_total",
			Help: "Inbound messages skipped by the idempotency inbox",
		}),
		FilesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hl7_files_processed_total",
			Help: "Files picked up by the directory watcher",
		}, []string{"status"}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		LogEntriesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conversion_log_purged_total",
			Help: "Conversion log rows removed by the retention job",
		}),
	}

	reg.MustRegister(
		m.Conversions,
		m.ConversionDuration,
		m.ResourcesProduced,
		m.CacheHits,
		m.CacheMisses,
		m.DuplicatesSkipped,
		m.FilesProcessed,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.OutboxPending,
		m.CircuitBreakerState,
		m.LogEntriesPurged,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
