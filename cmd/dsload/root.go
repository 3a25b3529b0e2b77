package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/spf13/cobra"

	"dsload/internal/config"
	"dsload/internal/loader"
)

const defaultLogFile = "logs/application.log"

// options are the command-line flags.
type options struct {
	chunkSize    int
	schemaPath   string
	logFile      string
	verbose      bool
	failuresFile string
	all          bool

	delimiter string
	trimSpace bool
	keepEmpty bool

	metricsBackend string
	pushgatewayURL string
	dogstatsdAddr  string
}

// exitError carries a process exit code out of cobra's RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func newRootCommand(lookup config.LookupFunc, stdout, stderr io.Writer) *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "dsload [flags] DATASET...",
		Short: "Load delimited part files into database tables in chunks",
		Long: `
Loads every part file of each named dataset into the table of the same name.
Column order comes from the schema document; rows are read, bound and written
one chunk at a time. A failed chunk is reported and skipped.
`,
		Args: func(c *cobra.Command, args []string) error {
			if !o.all && len(args) == 0 {
				return errors.New("at least one dataset name is required (or --all)")
			}
			return nil
		},
		RunE: func(c *cobra.Command, args []string) error {
			code := runLoad(c.Context(), o, args, lookup, stdout, stderr)
			if code != loader.ExitOK {
				return &exitError{code: code}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.IntVarP(&o.chunkSize, "chunk-size", "c", config.DefaultChunkSize, "records per chunk (alias -cs)")
	flags.StringVar(&o.schemaPath, "schema", "", "schema document path or s3:// URL (default $SCHEMA_PATH or $SRC_BASE_DIR/schemas.json)")
	flags.StringVar(&o.logFile, "log-file", defaultLogFile, "also write logs to this file; empty disables")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "enable verbose logs")
	flags.StringVar(&o.failuresFile, "failures-file", "", "write a CSV row for every skipped chunk or failed file")
	flags.BoolVar(&o.all, "all", false, "load every dataset of the schema document, in document order")
	flags.StringVar(&o.delimiter, "delimiter", ",", "field delimiter (one character)")
	flags.BoolVar(&o.trimSpace, "trim-space", false, "trim whitespace around fields")
	flags.BoolVar(&o.keepEmpty, "keep-empty", false, "load empty fields as empty strings instead of NULL")
	flags.StringVar(&o.metricsBackend, "metrics-backend", "", "metrics backend: none, pushgateway, datadog (overrides env METRICS_BACKEND)")
	flags.StringVar(&o.pushgatewayURL, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flags.StringVar(&o.dogstatsdAddr, "dogstatsd-addr", "", "DogStatsD address (overrides env DOGSTATSD_ADDR)")
	return cmd
}

// execute runs the command and maps the outcome to an exit code.
func execute(ctx context.Context, args []string, lookup config.LookupFunc, stdout, stderr io.Writer) int {
	cmd := newRootCommand(lookup, stdout, stderr)
	cmd.SetArgs(normalizeArgs(args))
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return loader.ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	log.Printf("dsload: %v", err)
	return loader.ExitConfig
}

// normalizeArgs accepts the single-dash "-cs" spelling of --chunk-size, which
// pflag would otherwise read as -c with value "s".
func normalizeArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, a := range args {
		if a == "--" {
			return append(out, args[i:]...)
		}
		switch {
		case a == "-cs":
			out = append(out, "--chunk-size")
		case strings.HasPrefix(a, "-cs="):
			out = append(out, "--chunk-size="+strings.TrimPrefix(a, "-cs="))
		default:
			out = append(out, a)
		}
	}
	return out
}
