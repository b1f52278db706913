package metrics

import (
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// RegisterDatastore exports connection pool statistics of db under the
// go_sql_* metric family, labelled with the dialect.
func RegisterDatastore(registry *prometheus.Registry, db *sql.DB, dialect string) error {
	if err := registry.Register(collectors.NewDBStatsCollector(db, dialect)); err != nil {
		return fmt.Errorf("failed to register datastore metrics: %w", err)
	}
	return nil
}
