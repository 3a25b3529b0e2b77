// Package datadog sends loader metrics to a DogStatsD agent.
package datadog

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/DataDog/datadog-go/v5/statsd"

	"dsload/internal/metrics"
)

// Config selects the agent and the tags every metric carries.
type Config struct {
	// Addr is host:port (UDP) or unix:///path/to/socket.
	Addr string
	// Namespace prefixes every metric name, e.g. "dsload.".
	Namespace string
	// GlobalTags are added to every metric, e.g. "run_id:<uuid>".
	GlobalTags []string
}

// Backend implements metrics.Backend over a statsd client. A zero Backend
// drops everything.
type Backend struct {
	client statsd.ClientInterface
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend dials the agent described by cfg.
func NewBackend(cfg Config) (*Backend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("datadog: Addr is required")
	}

	opts := []statsd.Option{statsd.WithoutTelemetry()}
	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}
	if len(cfg.GlobalTags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.GlobalTags))
	}

	c, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("datadog: dial %s: %w", cfg.Addr, err)
	}
	return &Backend{client: c}, nil
}

// IncCounter sends a count. DogStatsD counts are integers; delta is rounded.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Count(name, int64(math.Round(delta)), labelsToTags(labels), 1)
}

// ObserveHistogram sends one histogram sample.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if b.client == nil {
		return
	}
	_ = b.client.Histogram(name, value, labelsToTags(labels), 1)
}

// Flush drains buffered metrics and closes the client; the backend drops
// everything afterwards.
func (b *Backend) Flush() error {
	if b.client == nil {
		return nil
	}
	c := b.client
	b.client = nil
	if err := c.Flush(); err != nil {
		_ = c.Close()
		return fmt.Errorf("datadog: flush: %w", err)
	}
	return c.Close()
}

// labelsToTags renders labels as sorted key:value tags, skipping empty values.
func labelsToTags(lbls metrics.Labels) []string {
	if len(lbls) == 0 {
		return nil
	}
	out := make([]string, 0, len(lbls))
	for k, v := range lbls {
		if v == "" {
			continue
		}
		out = append(out, k+":"+v)
	}
	sort.Strings(out)
	return out
}
