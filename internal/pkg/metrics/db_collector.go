package metrics

import (
	"database/sql"
)

// RecordDBMetrics updates database connection metrics.
func RecordDBMetrics(db *sql.DB) {
	stats := db.Stats()

	DBConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
	DBConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	DBConnections.WithLabelValues("max").Set(float64(stats.MaxOpenConnections))
}
