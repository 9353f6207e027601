package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ItemsTotal tracks finished items by kind and outcome
	ItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidaldl_items_total",
			Help: "Total number of processed items",
		},
		[]string{"kind", "status"},
	)

	// ItemDuration tracks end-to-end item duration in seconds by kind
	ItemDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidaldl_item_duration_seconds",
			Help:    "Item pipeline duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"kind"},
	)

	// ActiveItems tracks items currently in the pipeline
	ActiveItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidaldl_active_items",
			Help: "Number of items currently being processed",
		},
	)

	// BatchJobsActive tracks batch jobs running on the worker pool
	BatchJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidaldl_batch_jobs_active",
			Help: "Number of batch jobs currently running on worker pool goroutines",
		},
	)

	// BatchWorkers reports the size of the current batch worker pool
	BatchWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidaldl_batch_workers",
			Help: "Worker goroutines of the current batch",
		},
	)

	// DownloadBytesTotal tracks total bytes downloaded
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidaldl_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// RetriesTotal tracks part and segment retries
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidaldl_retries_total",
			Help: "Total number of part or segment retries",
		},
		[]string{"unit"},
	)

	// DecryptionDuration tracks decryption duration
	DecryptionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tidaldl_decryption_duration_seconds",
			Help:    "Decryption duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RemuxTotal tracks remux outcomes (converted, skipped, failed)
	RemuxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidaldl_remux_total",
			Help: "Total number of remux attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ErrorsTotal tracks errors by kind
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidaldl_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordItemStart records an item entering the pipeline
func RecordItemStart() {
	ActiveItems.Inc()
}

// RecordItemDone records an item leaving the pipeline
func RecordItemDone(kind, status string, duration time.Duration) {
	ItemsTotal.WithLabelValues(kind, status).Inc()
	ItemDuration.WithLabelValues(kind).Observe(duration.Seconds())
	ActiveItems.Dec()
}

// RecordBatchActive publishes the number of running batch jobs
func RecordBatchActive(active int) {
	BatchJobsActive.Set(float64(active))
}

// RecordBatchWorkers publishes the worker count of a starting batch
func RecordBatchWorkers(workers int) {
	BatchWorkers.Set(float64(workers))
}

// RecordBytes adds transferred bytes
func RecordBytes(n int64) {
	if n > 0 {
		DownloadBytesTotal.Add(float64(n))
	}
}

// RecordRetry records a retried part ("part") or segment ("segment")
func RecordRetry(unit string) {
	RetriesTotal.WithLabelValues(unit).Inc()
}

// RecordDecryption records a decryption operation
func RecordDecryption(duration time.Duration) {
	DecryptionDuration.Observe(duration.Seconds())
}

// RecordRemux records a remux outcome
func RecordRemux(outcome string) {
	RemuxTotal.WithLabelValues(outcome).Inc()
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
