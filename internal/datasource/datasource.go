// Package datasource defines how the loader discovers and opens the source
// files of a dataset. Implementations live in subpackages: file (local
// directories) and objstore (S3-compatible buckets).
package datasource

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrDatasetDirNotFound means <base>/<dataset> does not exist.
	ErrDatasetDirNotFound = errors.New("dataset directory not found")

	// ErrNoFiles means the dataset directory exists but holds no file matching
	// the configured pattern.
	ErrNoFiles = errors.New("no source files found")
)

// Source lists and opens the files of a dataset.
//
// List returns paths in a deterministic order (lexicographic by name) so that
// repeated runs over unchanged input process files in the same sequence.
// Paths returned by List are accepted by Open.
type Source interface {
	List(ctx context.Context, dataset string) ([]string, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}
