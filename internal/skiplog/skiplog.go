// Package skiplog records chunks the loader skipped to a CSV file, one row
// per failed chunk, so they can be inspected or replayed after a run.
package skiplog

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Header is the first row of every skip log.
var Header = []string{"run_id", "dataset", "file", "chunk_index", "first_record", "records", "category", "error"}

// Entry describes one skipped chunk.
type Entry struct {
	RunID       string
	Dataset     string
	File        string
	Chunk       int
	FirstRecord int
	Records     int
	Category    string
	Err         string
}

// Log appends entries to a CSV file and keeps per-category counts.
type Log struct {
	mu      sync.Mutex
	reasons map[string]int
	dropped int
	f       *os.File
	w       *csv.Writer
}

// Open creates path (and its parent directories), truncating any previous
// file, and writes the header row.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	w.Flush()
	return &Log{reasons: make(map[string]int), f: f, w: w}, nil
}

// Add records e. Rows are flushed immediately so a crash keeps what was
// written.
func (s *Log) Add(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons[e.Category]++
	err := s.w.Write([]string{
		e.RunID,
		e.Dataset,
		e.File,
		strconv.Itoa(e.Chunk),
		strconv.Itoa(e.FirstRecord),
		strconv.Itoa(e.Records),
		e.Category,
		e.Err,
	})
	if err == nil {
		s.w.Flush()
		err = s.w.Error()
	}
	if err != nil {
		s.dropped++
		log.Printf("skiplog: write failed file=%s dataset=%s source=%s chunk=%d category=%s err=%v",
			s.f.Name(), e.Dataset, e.File, e.Chunk, e.Category, err)
	}
}

// Dropped returns how many entries could not be written to the file.
func (s *Log) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Counts returns a copy of the per-category entry counts.
func (s *Log) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.reasons))
	for k, v := range s.reasons {
		out[k] = v
	}
	return out
}

// Close flushes and closes the file.
func (s *Log) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	werr := s.w.Error()
	if err := s.f.Close(); err != nil {
		return err
	}
	return werr
}
