package loader

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
)

// Status is the terminal state of a dataset.
type Status string

const (
	StatusCompleted Status = "Completed"
	StatusAborted   Status = "Aborted"
)

// Category classifies a chunk or file failure.
type Category string

const (
	CategoryParse          Category = "parse"
	CategoryColumnMismatch Category = "column_mismatch"
	CategoryData           Category = "data"
	CategoryConnectivity   Category = "connectivity"
	CategoryRead           Category = "read"
)

// Exit codes returned by Summary.ExitCode.
const (
	ExitOK      = 0
	ExitAborted = 1
	ExitConfig  = 2
)

// ErrorSample counts failures of one category and keeps the first few
// messages.
type ErrorSample struct {
	Count int
	First []string
}

func (s *ErrorSample) add(msg string, limit int) {
	if s.Count < limit {
		s.First = append(s.First, msg)
	}
	s.Count++
}

// DatasetSummary is the outcome of one requested dataset.
type DatasetSummary struct {
	Dataset string
	Table   string
	Status  Status
	// AbortErr is set when Status is StatusAborted.
	AbortErr error

	Files       int
	FilesFailed int

	ChunksAttempted int
	ChunksSucceeded int
	ChunksFailed    int
	RowsWritten     int64

	Failures map[Category]*ErrorSample
	Duration time.Duration
}

func (d *DatasetSummary) recordFailure(cat Category, msg string, limit int) {
	if d.Failures == nil {
		d.Failures = make(map[Category]*ErrorSample)
	}
	s, ok := d.Failures[cat]
	if !ok {
		s = &ErrorSample{}
		d.Failures[cat] = s
	}
	s.add(msg, limit)
}

func (d *DatasetSummary) abort(err error) {
	d.Status = StatusAborted
	d.AbortErr = err
}

// FailureCount returns how many failures of cat were recorded.
func (d DatasetSummary) FailureCount(cat Category) int {
	if s, ok := d.Failures[cat]; ok {
		return s.Count
	}
	return 0
}

// Summary is the outcome of a run.
type Summary struct {
	RunID    string
	Datasets []DatasetSummary
	// Err is set when the run stopped before processing any dataset.
	Err error
}

// ExitCode is ExitConfig for a rejected run configuration, ExitAborted when
// the run failed or any dataset aborted, and ExitOK otherwise. Chunk failures
// alone do not change the exit code.
func (s Summary) ExitCode() int {
	if s.Err != nil {
		if errors.Is(s.Err, ErrInvalidOptions) {
			return ExitConfig
		}
		return ExitAborted
	}
	for _, d := range s.Datasets {
		if d.Status == StatusAborted {
			return ExitAborted
		}
	}
	return ExitOK
}

// Dataset returns the first summary for name.
func (s Summary) Dataset(name string) (DatasetSummary, bool) {
	for _, d := range s.Datasets {
		if d.Dataset == name {
			return d, true
		}
	}
	return DatasetSummary{}, false
}

// AbortAll builds a Summary in which every dataset aborted with err, for
// failures that happen before the loader runs (schema document, connection).
func AbortAll(runID string, datasets []string, tableFor func(string) string, err error) Summary {
	if tableFor == nil {
		tableFor = identity
	}
	s := Summary{RunID: runID}
	for _, ds := range datasets {
		s.Datasets = append(s.Datasets, DatasetSummary{
			Dataset:  ds,
			Table:    tableFor(ds),
			Status:   StatusAborted,
			AbortErr: err,
		})
	}
	return s
}

// Print writes a human-readable report.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "run %s\n", s.RunID)
	if s.Err != nil {
		fmt.Fprintf(w, "run failed: %v\n", s.Err)
	}
	for _, d := range s.Datasets {
		fmt.Fprintf(w,
			"dataset=%s table=%s status=%s files=%d files_failed=%d chunks=%d succeeded=%d failed=%d rows=%d duration=%s\n",
			d.Dataset, d.Table, d.Status, d.Files, d.FilesFailed,
			d.ChunksAttempted, d.ChunksSucceeded, d.ChunksFailed, d.RowsWritten,
			d.Duration.Truncate(time.Millisecond),
		)
		if d.AbortErr != nil {
			fmt.Fprintf(w, "  aborted: %v\n", d.AbortErr)
		}

		cats := make([]string, 0, len(d.Failures))
		for c := range d.Failures {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		for _, c := range cats {
			sample := d.Failures[Category(c)]
			fmt.Fprintf(w, "  %s: %d (showing first %d)\n", c, sample.Count, len(sample.First))
			for i, msg := range sample.First {
				fmt.Fprintf(w, "    #%03d: %s\n", i+1, msg)
			}
		}
	}
	fmt.Fprintf(w, "exit=%d\n", s.ExitCode())
}
