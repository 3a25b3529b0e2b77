package loader

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"dsload/internal/datasource"
	"dsload/internal/datasource/file"
	"dsload/internal/schema"
	"dsload/internal/skiplog"
	"dsload/internal/storage"
	_ "dsload/internal/storage/sqlite"
	"dsload/internal/transformer"
)

type mapCatalog map[string][]string

func (m mapCatalog) Resolve(dataset string) ([]string, error) {
	cols, ok := m[dataset]
	if !ok {
		return nil, fmt.Errorf("%w: %q", schema.ErrUnknownDataset, dataset)
	}
	return cols, nil
}

// memSource serves datasets from memory. Paths are "<dataset>/<name>".
type memSource struct {
	files   map[string]map[string]string
	openErr map[string]error
}

func (s *memSource) List(_ context.Context, dataset string) ([]string, error) {
	names, ok := s.files[dataset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", datasource.ErrDatasetDirNotFound, dataset)
	}
	var out []string
	for n := range names {
		out = append(out, dataset+"/"+n)
	}
	sort.Strings(out)
	return out, nil
}

func (s *memSource) Open(_ context.Context, path string) (io.ReadCloser, error) {
	if err := s.openErr[path]; err != nil {
		return nil, err
	}
	ds, name, _ := strings.Cut(path, "/")
	return io.NopCloser(strings.NewReader(s.files[ds][name])), nil
}

// recWriter records every chunk and fails the ones listed in fail, keyed by
// call number starting at 1.
type recWriter struct {
	mu     sync.Mutex
	calls  int
	fail   map[int]error
	tables []string
	rows   [][]any
	after  func(call int)
}

func (w *recWriter) Write(_ context.Context, table string, c transformer.NamedChunk) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	call := w.calls
	if w.after != nil {
		defer w.after(call)
	}
	if err := w.fail[call]; err != nil {
		return 0, err
	}
	w.tables = append(w.tables, table)
	w.rows = append(w.rows, c.Rows...)
	return int64(c.Len()), nil
}

// pingingWriter adds a Ping whose result is taken from pingErr by call
// number starting at 1.
type pingingWriter struct {
	recWriter
	pings   int
	pingErr map[int]error
}

func (w *pingingWriter) Ping(context.Context) error {
	w.pings++
	return w.pingErr[w.pings]
}

type recFailures struct{ entries []skiplog.Entry }

func (r *recFailures) Add(e skiplog.Entry) { r.entries = append(r.entries, e) }

func makeRows(from, to int) string {
	var b strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, "%d,2013-07-25 00:00:00.0,%d,CLOSED\n", i, 100+i)
	}
	return b.String()
}

var ordersColumns = []string{"order_id", "order_date", "order_customer_id", "order_status"}

func TestRun_LoadsOrdersIntoSQLite(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "orders")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "part-00000"), []byte(makeRows(1, 15)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "part-00001"), []byte(makeRows(16, 25)), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cat, err := schema.Parse(strings.NewReader(`{"orders":[
	  {"column_name":"order_status","column_position":4},
	  {"column_name":"order_id","column_position":1},
	  {"column_name":"order_date","column_position":2},
	  {"column_name":"order_customer_id","column_position":3}
	]}`), schema.FormatJSON)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}

	dbPath := filepath.Join(base, "retail.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE orders (
		order_id INTEGER, order_date TEXT, order_customer_id INTEGER, order_status TEXT)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", Database: dbPath})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	defer repo.Close()

	l := New(Deps{
		Catalog: cat,
		Source:  file.NewDir(base, "part-*"),
		Writer:  storage.NewWriter(repo),
	}, Options{RunID: "r1", ChunkSize: 10})

	sum := l.Run(context.Background(), []string{"orders"})
	if sum.ExitCode() != ExitOK {
		t.Fatalf("ExitCode = %d, summary %+v", sum.ExitCode(), sum)
	}
	d, _ := sum.Dataset("orders")
	// 15 rows -> 2 chunks, 10 rows -> 1 chunk.
	if d.Files != 2 || d.ChunksAttempted != 3 || d.ChunksSucceeded != 3 || d.RowsWritten != 25 {
		t.Fatalf("summary = %+v", d)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 25 {
		t.Fatalf("rows in table = %d, want 25", n)
	}
	var status string
	if err := db.QueryRow(`SELECT order_status FROM orders WHERE order_id = 25`).Scan(&status); err != nil {
		t.Fatalf("select: %v", err)
	}
	if status != "CLOSED" {
		t.Fatalf("order_status = %q, want CLOSED", status)
	}
}

func TestRun_ChunkCounts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rows, chunk, want int
	}{
		{68883, 10000, 7},
		{10000, 10000, 1},
		{10001, 10000, 2},
		{1, 10000, 1},
		{5, 1, 5},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(fmt.Sprintf("%d_by_%d", tc.rows, tc.chunk), func(t *testing.T) {
			t.Parallel()

			src := &memSource{files: map[string]map[string]string{
				"orders": {"part-00000": makeRows(1, tc.rows)},
			}}
			w := &recWriter{}
			sum := New(Deps{Catalog: mapCatalog{"orders": ordersColumns}, Source: src, Writer: w},
				Options{ChunkSize: tc.chunk}).Run(context.Background(), []string{"orders"})

			d, _ := sum.Dataset("orders")
			if d.ChunksAttempted != tc.want || w.calls != tc.want {
				t.Fatalf("chunks = %d (writes %d), want %d", d.ChunksAttempted, w.calls, tc.want)
			}
			if d.RowsWritten != int64(tc.rows) {
				t.Fatalf("rows = %d, want %d", d.RowsWritten, tc.rows)
			}
		})
	}
}

func TestRun_MissingDatasetAbortsOnlyThatDataset(t *testing.T) {
	t.Parallel()

	src := &memSource{files: map[string]map[string]string{
		"orders": {"part-00000": makeRows(1, 3)},
	}}
	w := &recWriter{}
	sum := New(Deps{Catalog: mapCatalog{"orders": ordersColumns}, Source: src, Writer: w},
		Options{ChunkSize: 10}).Run(context.Background(), []string{"missing_dataset", "orders"})

	if len(sum.Datasets) != 2 {
		t.Fatalf("datasets = %d, want 2", len(sum.Datasets))
	}
	missing := sum.Datasets[0]
	if missing.Status != StatusAborted || !errors.Is(missing.AbortErr, schema.ErrUnknownDataset) {
		t.Fatalf("missing_dataset = %+v", missing)
	}
	if missing.ChunksAttempted != 0 {
		t.Fatalf("aborted dataset attempted %d chunks", missing.ChunksAttempted)
	}
	orders := sum.Datasets[1]
	if orders.Status != StatusCompleted || orders.RowsWritten != 3 {
		t.Fatalf("orders = %+v", orders)
	}
	if sum.ExitCode() != ExitAborted {
		t.Fatalf("ExitCode = %d, want %d", sum.ExitCode(), ExitAborted)
	}
}

func TestRun_EnumerationFailureAborts(t *testing.T) {
	t.Parallel()

	src := &memSource{files: map[string]map[string]string{}}
	sum := New(Deps{Catalog: mapCatalog{"orders": ordersColumns}, Source: src, Writer: &recWriter{}},
		Options{ChunkSize: 10}).Run(context.Background(), []string{"orders"})

	d := sum.Datasets[0]
	if d.Status != StatusAborted || !errors.Is(d.AbortErr, datasource.ErrDatasetDirNotFound) {
		t.Fatalf("orders = %+v", d)
	}
}

func TestRun_ChunkFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	// Chunk 1 is short a column, chunk 2 has a broken quote, chunk 3 is fine.
	body := "1,a,1,X\n2,b,2\n" +
		"3,c,3,X\n4,\"d\"x,4,X\n" +
		"5,e,5,X\n6,f,6,X\n"
	src := &memSource{files: map[string]map[string]string{
		"orders": {"part-00000": body, "part-00001": makeRows(7, 8)},
	}}
	w := &recWriter{}
	fails := &recFailures{}
	sum := New(Deps{Catalog: mapCatalog{"orders": ordersColumns}, Source: src, Writer: w, Failures: fails},
		Options{RunID: "r", ChunkSize: 2}).Run(context.Background(), []string{"orders"})

	d, _ := sum.Dataset("orders")
	if d.Status != StatusCompleted {
		t.Fatalf("status = %s, err %v", d.Status, d.AbortErr)
	}
	if d.ChunksAttempted != 4 || d.ChunksSucceeded != 2 || d.ChunksFailed != 2 {
		t.Fatalf("chunks = %+v", d)
	}
	if d.RowsWritten != 4 {
		t.Fatalf("rows = %d, want 4", d.RowsWritten)
	}
	if d.FailureCount(CategoryColumnMismatch) != 1 || d.FailureCount(CategoryParse) != 1 {
		t.Fatalf("failures = %+v", d.Failures)
	}
	if sum.ExitCode() != ExitOK {
		t.Fatalf("ExitCode = %d, chunk failures must not fail the run", sum.ExitCode())
	}

	if len(fails.entries) != 2 {
		t.Fatalf("failure entries = %+v", fails.entries)
	}
	first := fails.entries[0]
	if first.File != "orders/part-00000" || first.Chunk != 0 || first.FirstRecord != 1 || first.Category != "column_mismatch" || first.RunID != "r" {
		t.Fatalf("first entry = %+v", first)
	}
	if second := fails.entries[1]; second.Chunk != 1 || second.FirstRecord != 3 || second.Category != "parse" {
		t.Fatalf("second entry = %+v", second)
	}

	// Writes happen in file order: rows 5,6 then 7,8.
	if len(w.rows) != 4 || w.rows[0][0] != "5" || w.rows[3][0] != "8" {
		t.Fatalf("written rows = %v", w.rows)
	}
}

func TestRun_SinkFailuresKeepGoing(t *testing.T) {
	t.Parallel()

	src := &memSource{files: map[string]map[string]string{
		"orders": {"part-00000": makeRows(1, 6)},
	}}
	w := &recWriter{fail: map[int]error{
		1: &storage.SinkWriteError{Table: "orders", Category: storage.CategoryConnectivity, Err: io.ErrUnexpectedEOF},
		2: &storage.SinkWriteError{Table: "orders", Category: storage.CategoryData, Err: errors.New("value too long")},
	}}
	sum := New(Deps{Catalog: mapCatalog{"orders": ordersColumns}, Source: src, Writer: w},
		Options{ChunkSize: 2}).Run(context.Background(), []string{"orders"})

	d, _ := sum.Dataset("orders")
	if d.Status != StatusCompleted || d.ChunksFailed != 2 || d.ChunksSucceeded != 1 || d.RowsWritten != 2 {
		t.Fatalf("summary = %+v", d)
	}
	if d.FailureCount(CategoryConnectivity) != 1 || d.FailureCount(CategoryData) != 1 {
		t.Fatalf("failures = %+v", d.Failures)
	}
}

func TestRun_OpenFailureSkipsFile(t *testing.T) {
	t.Parallel()

	src := &memSource{
		files: map[string]map[string]string{
			"orders": {"part-00000": makeRows(1, 2), "part-00001": makeRows(3, 4)},
		},
		openErr: map[string]error{"orders/part-00000": os.ErrPermission},
	}
	fails := &recFailures{}
	sum := New(Deps{Catalog: mapCatalog{"orders": ordersColumns}, Source: src, Writer: &recWriter{}, Failures: fails},
		Options{ChunkSize: 10}).Run(context.Background(), []string{"orders"})

	d, _ := sum.Dataset("orders")
	if d.Status != StatusCompleted || d.FilesFailed != 1 || d.RowsWritten != 2 {
		t.Fatalf("summary = %+v", d)
	}
	if d.FailureCount(CategoryRead) != 1 || len(fails.entries) != 1 || fails.entries[0].Category != "read" {
		t.Fatalf("failures = %+v entries %+v", d.Failures, fails.entries)
	}
}

func TestRun_InvalidChunkSizeTouchesNothing(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, -1} {
		called := false
		cat := catalogFunc(func(string) ([]string, error) { called = true; return nil, nil })
		sum := New(Deps{Catalog: cat, Source: &memSource{}, Writer: &recWriter{}},
			Options{ChunkSize: size}).Run(context.Background(), []string{"orders"})

		if !errors.Is(sum.Err, ErrInvalidOptions) {
			t.Fatalf("size %d: Err = %v, want ErrInvalidOptions", size, sum.Err)
		}
		if called || len(sum.Datasets) != 0 {
			t.Fatalf("size %d: datasets were processed", size)
		}
		if sum.ExitCode() != ExitConfig {
			t.Fatalf("size %d: ExitCode = %d, want %d", size, sum.ExitCode(), ExitConfig)
		}
	}
}

type catalogFunc func(string) ([]string, error)

func (f catalogFunc) Resolve(d string) ([]string, error) { return f(d) }

func TestRun_DuplicateDatasetLoadsTwice(t *testing.T) {
	t.Parallel()

	src := &memSource{files: map[string]map[string]string{
		"orders": {"part-00000": makeRows(1, 3)},
	}}
	w := &recWriter{}
	sum := New(Deps{Catalog: mapCatalog{"orders": ordersColumns}, Source: src, Writer: w},
		Options{ChunkSize: 10, TableFor: func(d string) string { return "stg_" + d }}).
		Run(context.Background(), []string{"orders", "orders"})

	if len(sum.Datasets) != 2 || len(w.rows) != 6 {
		t.Fatalf("datasets = %d, rows = %d", len(sum.Datasets), len(w.rows))
	}
	for _, tbl := range w.tables {
		if tbl != "stg_orders" {
			t.Fatalf("table = %q, want stg_orders", tbl)
		}
	}
}

func TestRun_CancelStopsBetweenChunks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &memSource{files: map[string]map[string]string{
		"orders":    {"part-00000": makeRows(1, 10)},
		"customers": {"part-00000": makeRows(1, 10)},
	}}
	w := &recWriter{after: func(call int) {
		if call == 2 {
			cancel()
		}
	}}
	cat := mapCatalog{"orders": ordersColumns, "customers": ordersColumns}
	sum := New(Deps{Catalog: cat, Source: src, Writer: w}, Options{ChunkSize: 2}).
		Run(ctx, []string{"orders", "customers"})

	if w.calls != 2 {
		t.Fatalf("writes = %d, want 2", w.calls)
	}
	for _, d := range sum.Datasets {
		if d.Status != StatusAborted || !errors.Is(d.AbortErr, context.Canceled) {
			t.Fatalf("%s = %+v", d.Dataset, d)
		}
	}
	if d, _ := sum.Dataset("orders"); d.RowsWritten != 4 {
		t.Fatalf("orders rows = %d, want 4", d.RowsWritten)
	}
}

func TestRun_ErrorSamplesCapped(t *testing.T) {
	t.Parallel()

	var body strings.Builder
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(&body, "%d,short\n", i)
	}
	src := &memSource{files: map[string]map[string]string{
		"orders": {"part-00000": body.String()},
	}}
	sum := New(Deps{Catalog: mapCatalog{"orders": ordersColumns}, Source: src, Writer: &recWriter{}},
		Options{ChunkSize: 1, MaxErrorsPerCategory: 2}).Run(context.Background(), []string{"orders"})

	d, _ := sum.Dataset("orders")
	s := d.Failures[CategoryColumnMismatch]
	if s == nil || s.Count != 5 || len(s.First) != 2 {
		t.Fatalf("sample = %+v", s)
	}
	if !strings.Contains(s.First[0], "orders/part-00000 chunk=0 first_record=1") {
		t.Fatalf("first message = %q", s.First[0])
	}
}

func TestSummary_Print(t *testing.T) {
	t.Parallel()

	sum := Summary{RunID: "r-9", Datasets: []DatasetSummary{
		{Dataset: "orders", Table: "orders", Status: StatusCompleted, Files: 1, ChunksAttempted: 7, ChunksSucceeded: 6, ChunksFailed: 1, RowsWritten: 60000,
			Failures: map[Category]*ErrorSample{CategoryData: {Count: 1, First: []string{"part-00000 chunk=3: boom"}}}},
		{Dataset: "missing_dataset", Table: "missing_dataset", Status: StatusAborted, AbortErr: schema.ErrUnknownDataset},
	}}
	var buf bytes.Buffer
	sum.Print(&buf)
	out := buf.String()

	for _, want := range []string{
		"run r-9",
		"dataset=orders table=orders status=Completed files=1 files_failed=0 chunks=7 succeeded=6 failed=1 rows=60000",
		"  data: 1 (showing first 1)",
		"    #001: part-00000 chunk=3: boom",
		"dataset=missing_dataset",
		"  aborted: unknown dataset",
		"exit=1",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output lacks %q:\n%s", want, out)
		}
	}
}

func TestAbortAll(t *testing.T) {
	t.Parallel()

	cause := errors.New("connect refused")
	sum := AbortAll("r", []string{"orders", "customers"}, func(d string) string { return d + "_x" }, cause)
	if len(sum.Datasets) != 2 || sum.ExitCode() != ExitAborted {
		t.Fatalf("summary = %+v", sum)
	}
	for _, d := range sum.Datasets {
		if d.Status != StatusAborted || !errors.Is(d.AbortErr, cause) || !strings.HasSuffix(d.Table, "_x") {
			t.Fatalf("dataset = %+v", d)
		}
	}
}

func TestCategorize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want Category
	}{
		{&transformer.ColumnCountMismatchError{Row: 0, Record: 1, Got: 2, Want: 4}, CategoryColumnMismatch},
		{&storage.SinkWriteError{Category: storage.CategoryConnectivity, Err: io.EOF}, CategoryConnectivity},
		{&storage.SinkWriteError{Category: storage.CategoryData, Err: io.EOF}, CategoryData},
		{errors.New("other"), CategoryData},
	}
	for _, tc := range cases {
		if got := categorize(tc.err); got != tc.want {
			t.Errorf("categorize(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	cols := []string{"a", "b"}
	fp := func(rows ...[]any) uint64 {
		return fingerprint(transformer.NamedChunk{Columns: cols, Rows: rows})
	}

	if fp([]any{"x", "y"}) != fp([]any{"x", "y"}) {
		t.Fatalf("identical chunks hash differently")
	}
	if fp([]any{"ab", "c"}) == fp([]any{"a", "bc"}) {
		t.Fatalf("field boundaries ignored")
	}
	if fp([]any{nil, "c"}) == fp([]any{"", "c"}) {
		t.Fatalf("NULL and empty string collide")
	}
	if fp([]any{"1", "2"}, []any{"3", "4"}) == fp([]any{"1", "2", "3", "4"}) {
		t.Fatalf("row boundaries ignored")
	}
}

func TestRun_ChunkFailureDoesNotStopLaterDatasets(t *testing.T) {
	t.Parallel()

	src := &memSource{files: map[string]map[string]string{
		"orders":    {"part-00000": makeRows(1, 4)},
		"customers": {"part-00000": makeRows(1, 3)},
	}}
	w := &recWriter{fail: map[int]error{
		1: &storage.SinkWriteError{Table: "orders", Category: storage.CategoryData, Err: errors.New("duplicate key")},
	}}
	cat := mapCatalog{"orders": ordersColumns, "customers": ordersColumns}
	sum := New(Deps{Catalog: cat, Source: src, Writer: w}, Options{ChunkSize: 2}).
		Run(context.Background(), []string{"orders", "customers"})

	orders, _ := sum.Dataset("orders")
	if orders.Status != StatusCompleted || orders.ChunksFailed != 1 || orders.RowsWritten != 2 {
		t.Fatalf("orders = %+v", orders)
	}
	customers, _ := sum.Dataset("customers")
	if customers.Status != StatusCompleted || customers.ChunksSucceeded != 2 || customers.RowsWritten != 3 {
		t.Fatalf("customers = %+v", customers)
	}
	var customerWrites int
	for _, tbl := range w.tables {
		if tbl == "customers" {
			customerWrites++
		}
	}
	if customerWrites != 2 {
		t.Fatalf("customers writes = %d, want 2 (tables %v)", customerWrites, w.tables)
	}
	if sum.ExitCode() != ExitOK {
		t.Fatalf("ExitCode = %d, want %d", sum.ExitCode(), ExitOK)
	}
}

func TestRun_PingFailureAbortsDataset(t *testing.T) {
	t.Parallel()

	src := &memSource{files: map[string]map[string]string{
		"orders":    {"part-00000": makeRows(1, 2)},
		"customers": {"part-00000": makeRows(1, 2)},
	}}
	w := &pingingWriter{pingErr: map[int]error{1: fmt.Errorf("%w: ping: connection reset", storage.ErrConnect)}}
	cat := mapCatalog{"orders": ordersColumns, "customers": ordersColumns}
	sum := New(Deps{Catalog: cat, Source: src, Writer: w}, Options{ChunkSize: 10}).
		Run(context.Background(), []string{"orders", "customers"})

	orders, _ := sum.Dataset("orders")
	if orders.Status != StatusAborted || !errors.Is(orders.AbortErr, storage.ErrConnect) || orders.ChunksAttempted != 0 {
		t.Fatalf("orders = %+v", orders)
	}
	customers, _ := sum.Dataset("customers")
	if customers.Status != StatusCompleted || customers.RowsWritten != 2 {
		t.Fatalf("customers = %+v", customers)
	}
	if w.pings != 2 || w.calls != 1 {
		t.Fatalf("pings = %d writes = %d, want 2 and 1", w.pings, w.calls)
	}
	if sum.ExitCode() != ExitAborted {
		t.Fatalf("ExitCode = %d, want %d", sum.ExitCode(), ExitAborted)
	}
}
