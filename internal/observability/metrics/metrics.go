package metrics

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "leakwatch_"

	resultSuccess = "success"
	resultError   = "error"
	resultInvalid = "invalid"
	resultSkipped = "skipped"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	uplinkMessages *prometheus.CounterVec

	alertTicks       *prometheus.CounterVec
	alertEventsTotal *prometheus.CounterVec
	alertPhase       prometheus.Gauge
	alertSeverity    prometheus.Gauge

	historyExportTotal   *prometheus.CounterVec
	historyExportLatency *prometheus.HistogramVec
)

// Init registers collectors. A non-nil counter adds a gauge over stored readings.
func Init(counter RowCounter, logger *log.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total reading appends by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total reading append errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Reading append latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		uplinkMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "uplink_messages_total",
				Help: "Uplink messages by source and result",
			},
			[]string{"source", "result"},
		)

		alertTicks = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_ticks_total",
				Help: "Alert controller ticks by result",
			},
			[]string{"result"},
		)
		alertEventsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alert_events_total",
				Help: "Total alert lifecycle events by type",
			},
			[]string{"event"},
		)
		alertPhase = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "alert_active",
			Help: "1 while a burst alert is active",
		})
		alertSeverity = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "alert_severity",
			Help: "Severity of the frozen burst type, -1 when idle",
		})

		historyExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "history_export_total",
				Help: "Total history export operations by format and result",
			},
			[]string{"format", "result"},
		)
		historyExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "history_export_latency_seconds",
				Help:    "History export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			uplinkMessages,
			alertTicks,
			alertEventsTotal,
			alertPhase,
			alertSeverity,
			historyExportTotal,
			historyExportLatency,
		)
		alertSeverity.Set(-1)

		if counter != nil {
			registerStoreMetrics(counter, logger)
		}
	})
}

// ObserveIngest records append duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncUplinkMessage counts a message received from an uplink transport.
func IncUplinkMessage(source, result string) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if uplinkMessages != nil {
		uplinkMessages.WithLabelValues(source, result).Inc()
	}
}

// IncAlertTick counts a controller tick.
func IncAlertTick(result string) {
	if result == "" {
		result = resultSuccess
	}
	if alertTicks != nil {
		alertTicks.WithLabelValues(result).Inc()
	}
}

// IncAlertEvent increments alert lifecycle counters.
func IncAlertEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if alertEventsTotal != nil {
		alertEventsTotal.WithLabelValues(event).Inc()
	}
}

// SetAlertState publishes the current phase and frozen severity.
func SetAlertState(active bool, severity int) {
	if alertPhase != nil {
		if active {
			alertPhase.Set(1)
		} else {
			alertPhase.Set(0)
		}
	}
	if alertSeverity != nil {
		if !active {
			severity = -1
		}
		alertSeverity.Set(float64(severity))
	}
}

// ObserveHistoryExport records export latency and result.
func ObserveHistoryExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if historyExportTotal != nil {
		historyExportTotal.WithLabelValues(format, result).Inc()
	}
	if historyExportLatency != nil {
		historyExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultInvalid = resultInvalid
	ResultSkipped = resultSkipped
)
