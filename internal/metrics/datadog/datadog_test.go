package datadog

import (
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"dsload/internal/metrics"
)

func TestNewBackend_RequiresAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewBackend(Config{}); err == nil {
		t.Fatalf("NewBackend without Addr succeeded")
	}
}

func TestLabelsToTags(t *testing.T) {
	t.Parallel()

	got := labelsToTags(metrics.Labels{"status": "failure", "dataset": "orders", "category": ""})
	if want := []string{"dataset:orders", "status:failure"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("labelsToTags = %v, want %v", got, want)
	}
	if labelsToTags(nil) != nil {
		t.Fatalf("labelsToTags(nil) != nil")
	}
}

func TestZeroBackendIsNoop(t *testing.T) {
	t.Parallel()

	b := &Backend{}
	b.IncCounter(metrics.RowsTotal, 1, nil)
	b.ObserveHistogram(metrics.ChunkDurationSeconds, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

// TestFlushSendsToAgent points the client at a local UDP socket standing in
// for the DogStatsD agent.
func TestFlushSendsToAgent(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp listen unavailable: %v", err)
	}
	defer pc.Close()

	b, err := NewBackend(Config{
		Addr:       pc.LocalAddr().String(),
		Namespace:  "dsload.",
		GlobalTags: []string{"run_id:r-1"},
	})
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	b.IncCounter(metrics.RowsTotal, 5, metrics.Labels{"dataset": "orders"})
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	var received strings.Builder
	buf := make([]byte, 64*1024)
	deadline := time.Now().Add(3 * time.Second)
	want := "dsload." + metrics.RowsTotal + ":5|c"
	for !strings.Contains(received.String(), want) {
		_ = pc.SetReadDeadline(deadline)
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			t.Fatalf("no %s packet before deadline; got %q (%v)", want, received.String(), err)
		}
		received.Write(buf[:n])
	}
	for _, tag := range []string{"dataset:orders", "run_id:r-1"} {
		if !strings.Contains(received.String(), tag) {
			t.Fatalf("packet %q lacks tag %s", received.String(), tag)
		}
	}

	// A flushed backend is closed and drops further metrics.
	b.IncCounter(metrics.RowsTotal, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush: %v", err)
	}
}
