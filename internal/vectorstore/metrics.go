package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// OperationsTotal counts repository operations.
	// Labels: provider (chromem, qdrant), operation, result (success, error)
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docsearch",
			Subsystem: "vectorstore",
			Name:      "operations_total",
			Help:      "Total number of vector repository operations",
		},
		[]string{"provider", "operation", "result"},
	)

	// OperationDuration tracks how long repository operations take.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docsearch",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector repository operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// StoredRecords is the record count last observed by Count.
	StoredRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "docsearch",
			Subsystem: "vectorstore",
			Name:      "records",
			Help:      "Number of stored records as of the last count",
		},
		[]string{"provider"},
	)
)

// observe records the outcome of one operation started at start.
func observe(provider, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationsTotal.WithLabelValues(provider, operation, result).Inc()
	OperationDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}
