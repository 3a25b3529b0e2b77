// Package metrics provides a small, backend-agnostic abstraction for recording
// operational metrics from the loader.
//
// It exposes a narrow interface (Backend) for counters and timings, and a
// global, pluggable backend that defaults to a no-op implementation, so
// metrics are always safe to call even when no real backend is configured.
// Concrete systems live in subpackages (prompush, datadog).
package metrics

import "time"

// Metric names emitted by the Record helpers.
const (
	ChunksTotal            = "dsload_chunks_total"
	RowsTotal              = "dsload_rows_total"
	DatasetsTotal          = "dsload_datasets_total"
	ChunkDurationSeconds   = "dsload_chunk_duration_seconds"
	DatasetDurationSeconds = "dsload_dataset_duration_seconds"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
// It is intentionally generic so we can plug in Prometheus, Datadog, etc.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordChunk counts one chunk outcome and its duration. An empty category
// means the chunk was written; otherwise it names the failure category
// (parse, column_mismatch, data, connectivity, read).
func RecordChunk(dataset, category string, d time.Duration) {
	status := "success"
	if category != "" {
		status = "failure"
	}

	backend.IncCounter(ChunksTotal, 1, Labels{
		"dataset":  dataset,
		"status":   status,
		"category": category,
	})
	backend.ObserveHistogram(ChunkDurationSeconds, d.Seconds(), Labels{
		"dataset": dataset,
		"status":  status,
	})
}

// RecordRows adds written rows for dataset. Non-positive deltas are ignored.
func RecordRows(dataset string, delta int64) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RowsTotal, float64(delta), Labels{"dataset": dataset})
}

// RecordDataset counts a dataset reaching a terminal status (completed or
// aborted) and observes how long it took.
func RecordDataset(dataset, status string, d time.Duration) {
	lbls := Labels{
		"dataset": dataset,
		"status":  status,
	}
	backend.IncCounter(DatasetsTotal, 1, lbls)
	backend.ObserveHistogram(DatasetDurationSeconds, d.Seconds(), lbls)
}
