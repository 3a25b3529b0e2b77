// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package.
//
// It maps the loader's metric names onto client_golang CounterVec and
// SummaryVec collectors in a private registry, and pushes that registry to a
// Pushgateway on Flush instead of exposing a scrape endpoint.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"dsload/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend.
type Backend struct {
	gatewayURL string // e.g. http://pushgateway:9091
	jobName    string // Pushgateway "job" group
	grouping   map[string]string
	reg        *prometheus.Registry

	chunkCounter    *prometheus.CounterVec // dsload_chunks_total
	rowCounter      *prometheus.CounterVec // dsload_rows_total
	datasetCounter  *prometheus.CounterVec // dsload_datasets_total
	chunkDuration   *prometheus.SummaryVec // dsload_chunk_duration_seconds
	datasetDuration *prometheus.SummaryVec // dsload_dataset_duration_seconds
}

var objectives = map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001}

// NewBackend constructs a Prometheus Pushgateway backend.
// jobName: the Pushgateway "job" name; defaults to "dsload".
// gatewayURL: base URL of the Pushgateway server.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "dsload"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		grouping:   map[string]string{},
		reg:        prometheus.NewRegistry(),

		chunkCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.ChunksTotal,
				Help: "Chunks processed, partitioned by dataset, status and failure category.",
			},
			[]string{"dataset", "status", "category"},
		),
		rowCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.RowsTotal,
				Help: "Rows written to the destination, per dataset.",
			},
			[]string{"dataset"},
		),
		datasetCounter: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metrics.DatasetsTotal,
				Help: "Datasets finished, partitioned by terminal status.",
			},
			[]string{"dataset", "status"},
		),
		chunkDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       metrics.ChunkDurationSeconds,
				Help:       "Time to bind and write one chunk.",
				Objectives: objectives,
			},
			[]string{"dataset", "status"},
		),
		datasetDuration: prometheus.NewSummaryVec(
			prometheus.SummaryOpts{
				Name:       metrics.DatasetDurationSeconds,
				Help:       "Time to load one dataset.",
				Objectives: objectives,
			},
			[]string{"dataset", "status"},
		),
	}

	for name, c := range map[string]prometheus.Collector{
		"chunk counter":   b.chunkCounter,
		"row counter":     b.rowCounter,
		"dataset counter": b.datasetCounter,
		"chunk summary":   b.chunkDuration,
		"dataset summary": b.datasetDuration,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

// Grouping adds a Pushgateway grouping label (e.g. run_id) and returns b.
func (b *Backend) Grouping(name, value string) *Backend {
	b.grouping[name] = value
	return b
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.ChunksTotal:
		if b.chunkCounter == nil {
			return
		}
		b.chunkCounter.WithLabelValues(labels["dataset"], labels["status"], labels["category"]).Add(delta)

	case metrics.RowsTotal:
		if b.rowCounter == nil {
			return
		}
		b.rowCounter.WithLabelValues(labels["dataset"]).Add(delta)

	case metrics.DatasetsTotal:
		if b.datasetCounter == nil {
			return
		}
		b.datasetCounter.WithLabelValues(labels["dataset"], labels["status"]).Add(delta)

	default:
		// unknown metric name: ignore
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	var v *prometheus.SummaryVec
	switch name {
	case metrics.ChunkDurationSeconds:
		v = b.chunkDuration
	case metrics.DatasetDurationSeconds:
		v = b.datasetDuration
	}
	if v == nil {
		return
	}
	v.WithLabelValues(labels["dataset"], labels["status"]).Observe(value)
}

// Flush pushes the current registry to the Pushgateway.
func (b *Backend) Flush() error {
	p := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg)
	for k, v := range b.grouping {
		p = p.Grouping(k, v)
	}
	return p.Push()
}
