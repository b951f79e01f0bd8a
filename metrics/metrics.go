// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var FilesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sensor_report_files_total",
	Help: "Staged report files by ingestion outcome",
}, []string{"outcome"})

var RowsInserted = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sensor_report_rows_inserted_total",
	Help: "Sensor readings inserted",
})

var RowFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sensor_report_row_failures_total",
	Help: "Rows that failed coercion or insertion",
})

var AttachmentsSaved = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sensor_report_attachments_saved_total",
	Help: "Report attachments written to the staging directory",
})

var AttachmentFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sensor_report_attachment_failures_total",
	Help: "Report attachments that could not be downloaded or saved",
})

var connStats = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sensor_report_db_conn",
	Help: "Stats about database connections",
}, []string{"metric"})

// RecordConnectionStats samples pool stats every period until ctx is done.
func RecordConnectionStats(ctx context.Context, db *sql.DB, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		stats := db.Stats()
		connStats.WithLabelValues("open").Set(float64(stats.OpenConnections))
		connStats.WithLabelValues("in_use").Set(float64(stats.InUse))
		connStats.WithLabelValues("idle").Set(float64(stats.Idle))
		connStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
