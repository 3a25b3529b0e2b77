// Package csv reads headerless delimited files in fixed-size chunks.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"dsload/internal/transformer"
)

var (
	// ErrInvalidChunkSize is returned when Options.ChunkSize is not positive.
	ErrInvalidChunkSize = errors.New("chunk size must be a positive integer")
	// ErrMalformedRecord is wrapped by RawChunk.Err when a record in the chunk
	// could not be parsed.
	ErrMalformedRecord = errors.New("malformed record")
)

// Options configure a ChunkReader.
type Options struct {
	// ChunkSize is the number of records per chunk. Required, > 0.
	ChunkSize int
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// TrimSpace trims leading and trailing whitespace from every field.
	TrimSpace bool
	// KeepEmpty keeps empty fields as "" instead of reading them as NULL.
	KeepEmpty bool
	// LazyQuotes is passed through to encoding/csv.
	LazyQuotes bool
}

// ChunkReader yields consecutive chunks of at most ChunkSize records from a
// single file. Every record is data; there is no header row.
type ChunkReader struct {
	rc   io.ReadCloser
	r    *csv.Reader
	opts Options

	index   int
	records int
	done    bool
	closed  bool
}

// NewChunkReader wraps rc. It validates opts before reading anything; on error
// rc is closed. A leading UTF-8 BOM is dropped.
func NewChunkReader(rc io.ReadCloser, opts Options) (*ChunkReader, error) {
	if opts.ChunkSize <= 0 {
		_ = rc.Close()
		return nil, fmt.Errorf("%w, got %d", ErrInvalidChunkSize, opts.ChunkSize)
	}
	if opts.Comma == 0 {
		opts.Comma = ','
	}
	if err := validComma(opts.Comma); err != nil {
		_ = rc.Close()
		return nil, err
	}

	r := csv.NewReader(transform.NewReader(rc, unicode.BOMOverride(transform.Nop)))
	r.Comma = opts.Comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = opts.LazyQuotes

	return &ChunkReader{rc: rc, r: r, opts: opts}, nil
}

func validComma(c rune) error {
	switch c {
	case '"', '\r', '\n', 0xFFFD:
		return fmt.Errorf("invalid delimiter %q", c)
	}
	return nil
}

// Next returns the next chunk, or io.EOF once the file is exhausted. A file
// with no records yields io.EOF on the first call.
//
// Records that fail to parse are counted toward the chunk but not included in
// Rows; the first such failure is reported in RawChunk.Err. Any other read
// error ends iteration and is returned directly.
func (c *ChunkReader) Next() (transformer.RawChunk, error) {
	if c.done || c.closed {
		return transformer.RawChunk{}, io.EOF
	}

	chunk := transformer.RawChunk{
		Index:       c.index,
		FirstRecord: c.records + 1,
		Rows:        make([][]any, 0, min(c.opts.ChunkSize, 4096)),
	}
	var (
		firstBad error
		bad      int
	)

	for chunk.Records < c.opts.ChunkSize {
		rec, err := c.r.Read()
		if err == io.EOF {
			c.done = true
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				c.done = true
				return transformer.RawChunk{}, fmt.Errorf("read record %d: %w", c.records+1, err)
			}
			c.records++
			chunk.Records++
			bad++
			if firstBad == nil {
				firstBad = fmt.Errorf("record %d: %w", c.records, pe)
			}
			continue
		}
		c.records++
		chunk.Records++
		chunk.Rows = append(chunk.Rows, c.convert(rec))
	}

	if chunk.Records == 0 {
		return transformer.RawChunk{}, io.EOF
	}
	if firstBad != nil {
		chunk.Err = fmt.Errorf("%w: %d of %d records in chunk %d, first at %w",
			ErrMalformedRecord, bad, chunk.Records, chunk.Index, firstBad)
	}
	c.index++
	return chunk, nil
}

func (c *ChunkReader) convert(rec []string) []any {
	row := make([]any, len(rec))
	for i, f := range rec {
		if c.opts.TrimSpace {
			f = strings.TrimSpace(f)
		}
		if f == "" && !c.opts.KeepEmpty {
			continue
		}
		row[i] = f
	}
	return row
}

// Records returns the number of records consumed so far.
func (c *ChunkReader) Records() int { return c.records }

// Close releases the underlying reader. It is safe to call more than once.
func (c *ChunkReader) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.rc.Close()
}

// All iterates over the remaining chunks. The reader is closed when the
// sequence ends, including on early break. A read error is yielded once and
// ends the sequence.
func (c *ChunkReader) All() iter.Seq2[transformer.RawChunk, error] {
	return func(yield func(transformer.RawChunk, error) bool) {
		defer c.Close()
		for {
			chunk, err := c.Next()
			if err == io.EOF {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}
