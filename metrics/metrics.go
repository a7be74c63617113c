// Package metrics exposes Prometheus collectors for dues queries, payment
// ingestion and deduction runs. Observe* calls are no-ops until Init runs.
package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "quarter_dues_"

	ResultSuccess  = "success"
	ResultError    = "error"
	ResultNotFound = "not_found"
	ResultInvalid  = "invalid"
)

var (
	registerOnce sync.Once

	duesQueries      *prometheus.CounterVec
	duesLatency      *prometheus.HistogramVec
	duesByStatus     *prometheus.CounterVec
	ingestBatches    *prometheus.CounterVec
	ingestRows       *prometheus.CounterVec
	deductionRuns    *prometheus.CounterVec
	deductionLines   prometheus.Counter
	deductionLatency *prometheus.HistogramVec
	exportsTotal     *prometheus.CounterVec
)

// Init registers the collectors with the default registry. db, when set,
// backs gauges read at scrape time.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		duesQueries = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dues_queries_total",
				Help: "Total dues status queries by result",
			},
			[]string{"result"},
		)
		duesLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "dues_query_latency_seconds",
				Help:    "Dues status query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		duesByStatus = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "dues_reports_total",
				Help: "Dues reports served by dues status",
			},
			[]string{"dues_status"},
		)
		ingestBatches = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_batches_total",
				Help: "Payment confirmation batches by result",
			},
			[]string{"result"},
		)
		ingestRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_rows_total",
				Help: "Payment confirmation rows by disposition",
			},
			[]string{"disposition"},
		)
		deductionRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "deduction_runs_total",
				Help: "Deduction batch generations by trigger and result",
			},
			[]string{"trigger", "result"},
		)
		deductionLines = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "deduction_lines_total",
				Help: "Deduction line items generated",
			},
		)
		deductionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "deduction_run_latency_seconds",
				Help:    "Deduction batch generation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		exportsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "exports_total",
				Help: "Export downloads by format and result",
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			duesQueries,
			duesLatency,
			duesByStatus,
			ingestBatches,
			ingestRows,
			deductionRuns,
			deductionLines,
			deductionLatency,
			exportsTotal,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// ObserveDuesQuery records one dues lookup. duesStatus is empty on failure.
func ObserveDuesQuery(result, duesStatus string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if duesQueries != nil {
		duesQueries.WithLabelValues(result).Inc()
	}
	if duesLatency != nil {
		duesLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if duesStatus != "" && duesByStatus != nil {
		duesByStatus.WithLabelValues(duesStatus).Inc()
	}
}

// ObserveIngest records a batch outcome and its row counts.
func ObserveIngest(result string, written, duplicates, skipped int) {
	if result == "" {
		result = ResultSuccess
	}
	if ingestBatches != nil {
		ingestBatches.WithLabelValues(result).Inc()
	}
	if ingestRows == nil {
		return
	}
	if written > 0 {
		ingestRows.WithLabelValues("written").Add(float64(written))
	}
	if duplicates > 0 {
		ingestRows.WithLabelValues("duplicate").Add(float64(duplicates))
	}
	if skipped > 0 {
		ingestRows.WithLabelValues("skipped").Add(float64(skipped))
	}
}

// ObserveDeductionRun records a generation triggered by "api" or "scheduler".
func ObserveDeductionRun(trigger, result string, lines int, duration time.Duration) {
	if trigger == "" {
		trigger = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if deductionRuns != nil {
		deductionRuns.WithLabelValues(trigger, result).Inc()
	}
	if deductionLines != nil && lines > 0 {
		deductionLines.Add(float64(lines))
	}
	if deductionLatency != nil {
		deductionLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveExport records a CSV/XLSX/PDF download.
func ObserveExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = ResultSuccess
	}
	if exportsTotal != nil {
		exportsTotal.WithLabelValues(format, result).Inc()
	}
}
