package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Partition metrics
	PartitionsCreated  prometheus.Counter
	PartitionsReleased prometheus.Counter
	BuffersAppended    *prometheus.CounterVec
	BytesAppended      *prometheus.CounterVec
	BuffersInBacklog   *prometheus.GaugeVec
	BuffersDropped     *prometheus.CounterVec

	// Spill metrics
	SpillsTriggered    prometheus.Counter
	SpilledBuffers     prometheus.Counter
	SpilledBytes       prometheus.Counter
	SpillWriteDuration prometheus.Histogram
	SpillErrors        *prometheus.CounterVec

	// Pool metrics
	PoolSegmentsInUse prometheus.Gauge
	PoolRequests      *prometheus.CounterVec
	PoolReclaims      prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		PartitionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shuffle_partitions_created_total",
				Help: "Total number of result partitions created",
			},
		),
		PartitionsReleased: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shuffle_partitions_released_total",
				Help: "Total number of result partitions released",
			},
		),
		BuffersAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuffle_buffers_appended_total",
				Help: "Total number of buffers appended to partitions",
			},
			[]string{"partition", "destination"},
		),
		BytesAppended: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuffle_bytes_appended_total",
				Help: "Total number of bytes appended to partitions",
			},
			[]string{"partition"},
		),
		BuffersInBacklog: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shuffle_buffers_in_backlog",
				Help: "Current number of unconsumed data buffers per partition",
			},
			[]string{"partition"},
		),
		BuffersDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuffle_buffers_dropped_total",
				Help: "Total number of buffers dropped after finish or release",
			},
			[]string{"partition"},
		),
		SpillsTriggered: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shuffle_spills_triggered_total",
				Help: "Total number of memory-to-disk spill transitions",
			},
		),
		SpilledBuffers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shuffle_spilled_buffers_total",
				Help: "Total number of buffers migrated from memory to disk",
			},
		),
		SpilledBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shuffle_spilled_bytes_total",
				Help: "Total number of bytes migrated from memory to disk",
			},
		),
		SpillWriteDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "shuffle_spill_write_duration_seconds",
				Help:    "Duration of spill block writes",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
		),
		SpillErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuffle_spill_errors_total",
				Help: "Total number of spill I/O failures",
			},
			[]string{"operation"},
		),
		PoolSegmentsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "shuffle_pool_segments_in_use",
				Help: "Number of pool segments currently handed out",
			},
		),
		PoolRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shuffle_pool_requests_total",
				Help: "Total number of segment requests against the pool",
			},
			[]string{"status"},
		),
		PoolReclaims: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shuffle_pool_reclaims_total",
				Help: "Total number of reclaim sweeps forcing partitions to spill",
			},
		),
	}
}
