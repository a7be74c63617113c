package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "bills_pending_upload",
			Help: "Bills generated but not yet acknowledged by payroll",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM billing_records WHERE status = 'PENDING_UPLOAD'")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "occupants",
			Help: "Occupants in the directory",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM occupants")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("[Metrics] query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
