// Package metrics provides computation run metrics collection and reporting.
//
// Metrics collects statistics about run duration, success/failure counts,
// produced pixels, and worker load imbalance. Every value is also mirrored
// into Prometheus collectors, which are registered on the Registerer given
// in Config (or left unregistered when it is nil).
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewWithConfig(metrics.Config{Registerer: reg})
//
//	done := m.RunStarted()
//	start := time.Now()
//	// ... compute ...
//	done()
//	m.RecordSuccess(time.Since(start), width*height)
//	m.RecordImbalance(workerDurations)
//
//	snap := m.Snapshot()
//
// # Imbalance
//
// Imbalance is the ratio of the slowest worker's duration to the mean worker
// duration, computed with gonum/stat. A perfectly balanced run reports 1.0.
//
// # Thread Safety
//
// Counters are atomic and sample buffers are guarded by a mutex; all
// operations are safe for concurrent access.
package metrics
