package aggregate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats mirrors the telemetry the operator exposes for EXPLAIN-style
// reporting.  DiskUsed is cumulative: recursive re-spills add to it.
type Stats struct {
	// SpilledTuples counts tuples written to spill tapes, including
	// re-spills.
	SpilledTuples int64
	// DiskUsed is total uncompressed bytes written to spill tapes.
	DiskUsed int64
	// Batches counts spill batches created.
	Batches int64
	// Partitions counts partition tapes opened across all episodes.
	Partitions int64
	// MemPeak is the largest hash-table footprint observed.
	MemPeak int64
	// LookupOnlyFlips counts tables that hit a cap and stopped
	// accepting new groups.
	LookupOnlyFlips int64
}

// Metrics publishes the same counters to Prometheus.  A nil registry
// leaves them unregistered; a nil *Metrics, as the tests pass,
// publishes nothing.
type Metrics struct {
	spilledTuples prometheus.Counter
	spilledBytes  prometheus.Counter
	batches       prometheus.Counter
	partitions    prometheus.Counter
	flips         prometheus.Counter
	memPeak       prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		spilledTuples: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vex", Subsystem: "hashagg", Name: "spilled_tuples_total",
			Help: "Tuples written to spill tapes, re-spills included.",
		}),
		spilledBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vex", Subsystem: "hashagg", Name: "spilled_bytes_total",
			Help: "Uncompressed bytes written to spill tapes (cumulative).",
		}),
		batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vex", Subsystem: "hashagg", Name: "batches_total",
			Help: "Spill batches created.",
		}),
		partitions: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vex", Subsystem: "hashagg", Name: "partitions_total",
			Help: "Partition tapes opened across overflow episodes.",
		}),
		flips: f.NewCounter(prometheus.CounterOpts{
			Namespace: "vex", Subsystem: "hashagg", Name: "lookup_only_flips_total",
			Help: "Hash tables that hit a memory or group cap.",
		}),
		memPeak: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "vex", Subsystem: "hashagg", Name: "mem_peak_bytes",
			Help: "Largest hash-table footprint observed.",
		}),
	}
}

func (a *Aggregator) noteSpillEpisode(partitions int) {
	a.stats.Partitions += int64(partitions)
	if a.metrics != nil {
		a.metrics.partitions.Add(float64(partitions))
	}
}

func (a *Aggregator) noteSpilled(tuples, bytes int64, batches int) {
	a.stats.SpilledTuples += tuples
	a.stats.DiskUsed += bytes
	a.stats.Batches += int64(batches)
	if a.metrics != nil {
		a.metrics.spilledTuples.Add(float64(tuples))
		a.metrics.spilledBytes.Add(float64(bytes))
		a.metrics.batches.Add(float64(batches))
	}
}

func (a *Aggregator) noteFlip() {
	a.stats.LookupOnlyFlips++
	if a.metrics != nil {
		a.metrics.flips.Inc()
	}
}

func (a *Aggregator) noteMem(mem int64) {
	if mem > a.stats.MemPeak {
		a.stats.MemPeak = mem
		if a.metrics != nil {
			a.metrics.memPeak.Set(float64(mem))
		}
	}
}
