package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"dsload/internal/config"
	"dsload/internal/datasource"
	"dsload/internal/datasource/file"
	"dsload/internal/datasource/objstore"
	"dsload/internal/loader"
	"dsload/internal/metrics"
	"dsload/internal/metrics/datadog"
	"dsload/internal/metrics/prompush"
	csvparser "dsload/internal/parser/csv"
	"dsload/internal/schema"
	"dsload/internal/skiplog"
	"dsload/internal/storage"
)

// Test seams.
var (
	loadCatalog = defaultLoadCatalog
	openSource  = defaultOpenSource
	openStorage = storage.New
)

const defaultPushgatewayURL = "http://localhost:9091"

// runLoad performs one run and returns the process exit code.
func runLoad(ctx context.Context, o *options, datasets []string, lookup config.LookupFunc, stdout, stderr io.Writer) int {
	env, err := config.FromEnv(lookup)
	if err != nil {
		var ie *config.IssuesError
		if errors.As(err, &ie) {
			printIssues(stderr, ie.Issues)
		} else {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
		log.Printf("dsload: configuration is invalid: %v", err)
		return loader.ExitConfig
	}

	issues := config.ValidateRun(config.Run{Datasets: datasets, All: o.all, ChunkSize: o.chunkSize})
	comma, err := parseDelimiter(o.delimiter)
	if err != nil {
		issues = append(issues, config.Issue{Severity: config.SeverityError, Path: "delimiter", Message: err.Error()})
	}
	printIssues(stderr, issues)
	if config.HasErrors(issues) {
		log.Printf("dsload: configuration is invalid")
		return loader.ExitConfig
	}

	// No file I/O before the configuration has been validated.
	restore := setupLogging(o.logFile, stderr)
	defer restore()

	runID := uuid.NewString()
	start := time.Now()
	log.Printf("dsload: run=%s db=%s source=%s pattern=%s chunk_size=%d",
		runID, env.DB, env.SourceBaseDir, env.FilePattern, o.chunkSize)

	var client *minio.Client
	if env.UsesObjectStore() {
		client, err = objstore.NewClient(objstore.Config{
			Endpoint:  env.ObjectStore.Endpoint,
			AccessKey: env.ObjectStore.AccessKey,
			SecretKey: env.ObjectStore.SecretKey,
			Region:    env.ObjectStore.Region,
			UseSSL:    env.ObjectStore.UseSSL,
		})
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return loader.ExitConfig
		}
	}

	schemaPath := o.schemaPath
	if schemaPath == "" {
		schemaPath = env.SchemaPath
	}
	cat, err := loadCatalog(ctx, schemaPath, client)
	switch {
	case err != nil && (schemaMissing(err) || o.all):
		// No catalog means no dataset list for --all either.
		fmt.Fprintf(stderr, "error: %v\n", err)
		log.Printf("dsload: schema: %v", err)
		return loader.ExitConfig
	case err != nil:
		log.Printf("dsload: schema: %v", err)
		return finish(stdout, loader.AbortAll(runID, datasets, env.DB.TableFor, err))
	}
	if o.all {
		datasets = cat.Datasets()
	}
	if o.verbose {
		log.Printf("dsload: schema=%s datasets=%d requested=%s", schemaPath, cat.Len(), strings.Join(datasets, ","))
	}

	src, err := openSource(env, client)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return loader.ExitConfig
	}

	if flush := setupMetrics(o, env, runID); flush != nil {
		defer flush()
	}

	var failures loader.FailureSink
	if o.failuresFile != "" {
		sl, err := skiplog.Open(o.failuresFile)
		if err != nil {
			fmt.Fprintf(stderr, "error: failures file: %v\n", err)
			return loader.ExitConfig
		}
		defer func() {
			for c, n := range sl.Counts() {
				log.Printf("dsload: failures file=%s category=%s count=%d", o.failuresFile, c, n)
			}
			if n := sl.Dropped(); n > 0 {
				log.Printf("dsload: failures file=%s lost=%d entries", o.failuresFile, n)
			}
			if err := sl.Close(); err != nil {
				log.Printf("dsload: close failures file: %v", err)
			}
		}()
		failures = sl
	}

	repo, err := openStorage(ctx, storage.Config{
		Kind:     env.DB.Kind,
		Host:     env.DB.Host,
		Port:     env.DB.Port,
		Database: env.DB.Name,
		User:     env.DB.User,
		Password: env.DB.Password,
	})
	if err != nil {
		log.Printf("dsload: storage: %v", err)
		return finish(stdout, loader.AbortAll(runID, datasets, env.DB.TableFor, err))
	}
	defer repo.Close()

	w := storage.NewWriter(repo)
	l := loader.New(loader.Deps{
		Catalog:  cat,
		Source:   src,
		Writer:   w,
		Failures: failures,
	}, loader.Options{
		RunID:     runID,
		ChunkSize: o.chunkSize,
		Reader: csvparser.Options{
			Comma:     comma,
			TrimSpace: o.trimSpace,
			KeepEmpty: o.keepEmpty,
		},
		TableFor: env.DB.TableFor,
	})

	sum := l.Run(ctx, datasets)
	log.Printf("dsload: run=%s rows=%d elapsed=%s", runID, w.Total(), time.Since(start).Truncate(time.Millisecond))
	return finish(stdout, sum)
}

func finish(stdout io.Writer, sum loader.Summary) int {
	sum.Print(stdout)
	return sum.ExitCode()
}

// parseDelimiter accepts a single character; "\t" spells a tab.
func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	r := []rune(s)
	if len(r) != 1 {
		return 0, fmt.Errorf("delimiter must be a single character, got %q", s)
	}
	if r[0] == '"' || r[0] == '\r' || r[0] == '\n' {
		return 0, fmt.Errorf("delimiter %q is not allowed", s)
	}
	return r[0], nil
}

func printIssues(w io.Writer, issues []config.Issue) {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
}

// setupLogging tees the standard logger to path. The returned func restores
// the previous output and closes the file.
func setupLogging(path string, stderr io.Writer) func() {
	prev := log.Writer()
	if path == "" {
		log.SetOutput(stderr)
		return func() { log.SetOutput(prev) }
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.SetOutput(stderr)
		log.Printf("dsload: log file disabled: %v", err)
		return func() { log.SetOutput(prev) }
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.SetOutput(stderr)
		log.Printf("dsload: log file disabled: %v", err)
		return func() { log.SetOutput(prev) }
	}
	log.SetOutput(io.MultiWriter(stderr, f))
	return func() {
		log.SetOutput(prev)
		_ = f.Close()
	}
}

func defaultLoadCatalog(ctx context.Context, path string, client *minio.Client) (*schema.Catalog, error) {
	if !strings.HasPrefix(path, "s3://") {
		return schema.Load(path)
	}
	if client == nil {
		return nil, fmt.Errorf("schema %s: object store is not configured", path)
	}
	rc, err := objstore.OpenURL(ctx, client, path)
	if err != nil {
		return nil, &schema.LoadError{Path: path, Err: err}
	}
	defer rc.Close()

	c, err := schema.Parse(rc, schema.FormatFromPath(path))
	if err != nil {
		var le *schema.LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return c, nil
}

// schemaMissing reports whether err means the schema document does not
// exist, as opposed to existing with invalid content.
func schemaMissing(err error) bool {
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	var er minio.ErrorResponse
	return errors.As(err, &er) && er.Code == "NoSuchKey"
}

func defaultOpenSource(env config.Env, client *minio.Client) (datasource.Source, error) {
	if env.UsesObjectStore() {
		return objstore.New(client, env.SourceBaseDir, env.FilePattern)
	}
	return file.NewDir(env.SourceBaseDir, env.FilePattern), nil
}

// setupMetrics installs the selected backend and returns its flush func, or
// nil when metrics are disabled. Selection order: flag, env, none.
func setupMetrics(o *options, env config.Env, runID string) func() {
	backendName := o.metricsBackend
	if backendName == "" {
		backendName = env.Metrics.Backend
	}

	flush := func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}

	switch backendName {
	case "pushgateway":
		gwURL := o.pushgatewayURL
		if gwURL == "" {
			gwURL = env.Metrics.PushgatewayURL
		}
		if gwURL == "" {
			gwURL = defaultPushgatewayURL
		}
		b, err := prompush.NewBackend("dsload", gwURL)
		if err != nil {
			log.Printf("metrics: failed to init prom push backend: %v; using nop", err)
			return nil
		}
		log.Printf("metrics: url=%v, backend=%v, run_id=%v", gwURL, backendName, runID)
		metrics.SetBackend(b.Grouping("run_id", runID))
		return flush

	case "datadog":
		addr := o.dogstatsdAddr
		if addr == "" {
			addr = env.Metrics.DogStatsDAddr
		}
		b, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  "dsload.",
			GlobalTags: []string{"run_id:" + runID},
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return nil
		}
		log.Printf("metrics: addr=%v, backend=%v", addr, backendName)
		metrics.SetBackend(b)
		return flush

	case "", "none":
		if o.verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}
		return nil

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
		return nil
	}
}
