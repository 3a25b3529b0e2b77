// Command dsload loads the part files of one or more datasets into database
// tables, chunk by chunk, using a schema document for column order.
//
//	dsload [flags] DATASET...
//	dsload --all
//
// Connection and source settings come from the environment (see package
// config). Exit status is 0 when every dataset completed, 1 when any dataset
// aborted, and 2 for configuration errors found before loading started.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// register all backends with the storage factory; DB_KIND picks one.
	_ "dsload/internal/storage/all"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
