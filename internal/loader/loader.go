// Package loader drives the per-dataset load: resolve the column order,
// enumerate the dataset's files, and for each file read, bind and write
// chunks in sequence.
//
// Failures are contained at the smallest scope that makes sense. A dataset
// that cannot be resolved or enumerated is Aborted and the run moves to the
// next dataset. A file that cannot be opened or read is recorded and the
// dataset moves to the next file. A chunk that cannot be bound or written is
// recorded, reported and skipped.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"dsload/internal/datasource"
	"dsload/internal/metrics"
	csvparser "dsload/internal/parser/csv"
	"dsload/internal/skiplog"
	"dsload/internal/storage"
	"dsload/internal/transformer"
)

// ErrInvalidOptions wraps every Options validation failure.
var ErrInvalidOptions = errors.New("invalid loader options")

// DefaultMaxErrorsPerCategory is the number of messages kept per failure
// category in each DatasetSummary.
const DefaultMaxErrorsPerCategory = 3

// Catalog resolves a dataset to its ordered column names.
type Catalog interface {
	Resolve(dataset string) ([]string, error)
}

// ChunkWriter appends a bound chunk to a table.
type ChunkWriter interface {
	Write(ctx context.Context, table string, chunk transformer.NamedChunk) (int64, error)
}

// Pinger is implemented by writers that can check the destination before a
// dataset starts writing.
type Pinger interface {
	Ping(ctx context.Context) error
}

// FailureSink receives one entry per skipped chunk or failed file.
type FailureSink interface {
	Add(e skiplog.Entry)
}

// Deps are the collaborators of a Loader. Failures may be nil.
type Deps struct {
	Catalog  Catalog
	Source   datasource.Source
	Writer   ChunkWriter
	Failures FailureSink
}

// Options tune a Loader.
type Options struct {
	RunID string

	// ChunkSize is the number of records per chunk. Required, > 0.
	ChunkSize int
	// Reader carries delimiter and field handling; its ChunkSize is ignored.
	Reader csvparser.Options

	// TableFor maps a dataset to its destination table. nil means the
	// dataset name itself.
	TableFor func(dataset string) string

	// MaxErrorsPerCategory caps the messages kept per category. Zero means
	// DefaultMaxErrorsPerCategory.
	MaxErrorsPerCategory int
}

func (o Options) validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("%w: %w, got %d", ErrInvalidOptions, csvparser.ErrInvalidChunkSize, o.ChunkSize)
	}
	if o.MaxErrorsPerCategory < 0 {
		return fmt.Errorf("%w: max errors per category must be >= 0, got %d", ErrInvalidOptions, o.MaxErrorsPerCategory)
	}
	return nil
}

func identity(s string) string { return s }

// Loader runs datasets one at a time.
type Loader struct {
	deps Deps
	opts Options
}

// New returns a Loader. Options are checked by Run.
func New(deps Deps, opts Options) *Loader {
	if opts.TableFor == nil {
		opts.TableFor = identity
	}
	if opts.MaxErrorsPerCategory == 0 {
		opts.MaxErrorsPerCategory = DefaultMaxErrorsPerCategory
	}
	return &Loader{deps: deps, opts: opts}
}

// Run processes datasets in order; a name given twice is loaded twice. Invalid
// options stop the run before any dataset is touched. Once ctx is done the
// dataset in progress and all remaining ones are Aborted.
func (l *Loader) Run(ctx context.Context, datasets []string) Summary {
	sum := Summary{RunID: l.opts.RunID}
	if err := l.opts.validate(); err != nil {
		log.Printf("loader: run=%s refused: %v", l.opts.RunID, err)
		sum.Err = err
		return sum
	}

	log.Printf("loader: run=%s start datasets=%d chunk_size=%d", l.opts.RunID, len(datasets), l.opts.ChunkSize)
	for _, ds := range datasets {
		sum.Datasets = append(sum.Datasets, l.runDataset(ctx, ds))
	}
	return sum
}

func (l *Loader) runDataset(ctx context.Context, dataset string) DatasetSummary {
	start := time.Now()
	d := DatasetSummary{
		Dataset: dataset,
		Table:   l.opts.TableFor(dataset),
		Status:  StatusCompleted,
	}
	defer func() {
		d.Duration = time.Since(start)
		metrics.RecordDataset(dataset, string(d.Status), d.Duration)
	}()

	if err := ctx.Err(); err != nil {
		d.abort(fmt.Errorf("interrupted: %w", err))
		log.Printf("loader: dataset=%s status=%s err=%v", dataset, d.Status, d.AbortErr)
		return d
	}

	columns, err := l.deps.Catalog.Resolve(dataset)
	if err != nil {
		d.abort(fmt.Errorf("resolve schema: %w", err))
		log.Printf("loader: dataset=%s status=%s err=%v", dataset, d.Status, d.AbortErr)
		return d
	}

	files, err := l.deps.Source.List(ctx, dataset)
	if err != nil {
		d.abort(fmt.Errorf("enumerate files: %w", err))
		log.Printf("loader: dataset=%s status=%s err=%v", dataset, d.Status, d.AbortErr)
		return d
	}
	d.Files = len(files)

	if p, ok := l.deps.Writer.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			d.abort(fmt.Errorf("destination unreachable: %w", err))
			log.Printf("loader: dataset=%s status=%s err=%v", dataset, d.Status, d.AbortErr)
			return d
		}
	}
	log.Printf("loader: dataset=%s table=%s columns=%d files=%d", dataset, d.Table, len(columns), len(files))

	for _, path := range files {
		l.loadFile(ctx, &d, path, columns)
		if err := ctx.Err(); err != nil {
			d.abort(fmt.Errorf("interrupted during %s: %w", path, err))
			break
		}
	}

	log.Printf(
		"loader: dataset=%s status=%s files=%d chunks=%d succeeded=%d failed=%d rows=%d",
		dataset, d.Status, d.Files, d.ChunksAttempted, d.ChunksSucceeded, d.ChunksFailed, d.RowsWritten,
	)
	return d
}

func (l *Loader) loadFile(ctx context.Context, d *DatasetSummary, path string, columns []string) {
	rc, err := l.deps.Source.Open(ctx, path)
	if err != nil {
		l.fileFailed(d, path, 0, 0, fmt.Errorf("open: %w", err))
		return
	}

	ropts := l.opts.Reader
	ropts.ChunkSize = l.opts.ChunkSize
	cr, err := csvparser.NewChunkReader(rc, ropts)
	if err != nil {
		l.fileFailed(d, path, 0, 0, err)
		return
	}
	defer cr.Close()

	next := 0
	for raw, err := range cr.All() {
		if err != nil {
			l.fileFailed(d, path, next, cr.Records()+1, err)
			return
		}
		next = raw.Index + 1
		l.loadChunk(ctx, d, path, columns, raw)
		if ctx.Err() != nil {
			return
		}
	}
}

func (l *Loader) loadChunk(ctx context.Context, d *DatasetSummary, path string, columns []string, raw transformer.RawChunk) {
	start := time.Now()
	d.ChunksAttempted++

	var (
		n  int64
		fp uint64
	)
	named, err := transformer.Bind(raw, columns)
	if err == nil {
		fp = fingerprint(named)
		n, err = l.deps.Writer.Write(ctx, d.Table, named)
	}

	if err != nil {
		cat := categorize(err)
		d.ChunksFailed++
		msg := fmt.Sprintf("%s chunk=%d first_record=%d: %v", path, raw.Index, raw.FirstRecord, err)
		d.recordFailure(cat, msg, l.opts.MaxErrorsPerCategory)
		metrics.RecordChunk(d.Dataset, string(cat), time.Since(start))
		log.Printf("loader: dataset=%s file=%s chunk=%d first_record=%d records=%d category=%s err=%v",
			d.Dataset, path, raw.Index, raw.FirstRecord, raw.Records, cat, err)
		l.report(skiplog.Entry{
			RunID:       l.opts.RunID,
			Dataset:     d.Dataset,
			File:        path,
			Chunk:       raw.Index,
			FirstRecord: raw.FirstRecord,
			Records:     raw.Records,
			Category:    string(cat),
			Err:         err.Error(),
		})
		return
	}

	d.ChunksSucceeded++
	d.RowsWritten += n
	metrics.RecordChunk(d.Dataset, "", time.Since(start))
	metrics.RecordRows(d.Dataset, n)
	log.Printf("loader: dataset=%s file=%s chunk=%d first_record=%d rows=%d xxh3=%016x",
		d.Dataset, path, raw.Index, raw.FirstRecord, n, fp)
}

// fileFailed records a file that could not be opened or finished reading.
// Chunks already written from it stay written.
func (l *Loader) fileFailed(d *DatasetSummary, path string, chunk, record int, err error) {
	d.FilesFailed++
	msg := fmt.Sprintf("%s: %v", path, err)
	d.recordFailure(CategoryRead, msg, l.opts.MaxErrorsPerCategory)
	log.Printf("loader: dataset=%s file=%s category=%s err=%v", d.Dataset, path, CategoryRead, err)
	l.report(skiplog.Entry{
		RunID:       l.opts.RunID,
		Dataset:     d.Dataset,
		File:        path,
		Chunk:       chunk,
		FirstRecord: record,
		Category:    string(CategoryRead),
		Err:         err.Error(),
	})
}

func (l *Loader) report(e skiplog.Entry) {
	if l.deps.Failures != nil {
		l.deps.Failures.Add(e)
	}
}

// categorize maps a chunk error onto its Category.
func categorize(err error) Category {
	var se *storage.SinkWriteError
	switch {
	case errors.Is(err, csvparser.ErrMalformedRecord):
		return CategoryParse
	case errors.Is(err, transformer.ErrColumnCountMismatch):
		return CategoryColumnMismatch
	case errors.As(err, &se):
		if se.Category == storage.CategoryConnectivity {
			return CategoryConnectivity
		}
		return CategoryData
	default:
		return CategoryData
	}
}
