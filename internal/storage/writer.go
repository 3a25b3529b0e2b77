package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"syscall"
	"time"

	"dsload/internal/transformer"
)

// ErrorCategory classifies a failed write.
type ErrorCategory string

const (
	// CategoryData covers constraint violations, type errors and anything
	// else the destination rejected.
	CategoryData ErrorCategory = "data"
	// CategoryConnectivity means the connection was lost mid-write.
	CategoryConnectivity ErrorCategory = "connectivity"
)

// SinkWriteError reports a chunk the destination did not accept.
type SinkWriteError struct {
	Table    string
	Category ErrorCategory
	Err      error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("write %s (%s): %v", e.Table, e.Category, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// IsConnectivityError reports whether err means the connection behind repo
// is gone. The backend's own classifier is consulted first, then generic
// network and database/sql signals.
func IsConnectivityError(repo Repository, err error) bool {
	if err == nil {
		return false
	}
	if c, ok := repo.(ConnectivityClassifier); ok && c.IsConnectivityError(err) {
		return true
	}
	var ne net.Error
	switch {
	case errors.As(err, &ne):
		return true
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return true
	}
	return false
}

// Writer appends bound chunks to destination tables over one Repository and
// logs running totals after each successful write.
type Writer struct {
	repo Repository

	writes    int64
	total     int64
	start     time.Time
	lastWrite time.Time
	lastTotal int64
}

// NewWriter returns a Writer over repo. The caller keeps ownership of repo.
func NewWriter(repo Repository) *Writer {
	now := time.Now()
	return &Writer{repo: repo, start: now, lastWrite: now}
}

// Write appends chunk to table and returns the number of rows written. An
// empty chunk is a no-op. Failures are returned as *SinkWriteError.
func (w *Writer) Write(ctx context.Context, table string, chunk transformer.NamedChunk) (int64, error) {
	if chunk.Len() == 0 {
		return 0, nil
	}

	n, err := w.repo.CopyFrom(ctx, table, chunk.Columns, chunk.Rows)
	if err != nil {
		cat := CategoryData
		if IsConnectivityError(w.repo, err) {
			cat = CategoryConnectivity
		}
		log.Printf("writer: COPY failed table=%s chunk=%d category=%s err=%v", table, chunk.Index, cat, err)
		return 0, &SinkWriteError{Table: table, Category: cat, Err: err}
	}

	w.writes++
	w.total += n
	now := time.Now()
	sinceLast := now.Sub(w.lastWrite)
	rps := float64(0)
	if sinceLast > 0 {
		rps = float64(w.total-w.lastTotal) / sinceLast.Seconds()
	}
	log.Printf(
		"writer: write #%d table=%s rps=%.0f inserted=%d total_inserted=%d elapsed=%s",
		w.writes,
		table,
		rps,
		n,
		w.total,
		now.Sub(w.start).Truncate(time.Millisecond),
	)
	w.lastWrite = now
	w.lastTotal = w.total

	return n, nil
}

// Ping checks that the destination is still reachable before a dataset
// starts. Failures wrap ErrConnect.
func (w *Writer) Ping(ctx context.Context) error {
	if err := w.repo.Ping(ctx); err != nil {
		log.Printf("writer: ping failed err=%v", err)
		return fmt.Errorf("%w: ping: %w", ErrConnect, err)
	}
	return nil
}

// Total returns the number of rows written so far.
func (w *Writer) Total() int64 { return w.total }
