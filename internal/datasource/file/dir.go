package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"dsload/internal/datasource"
)

// Dir is a datasource.Source rooted at a local base directory. Each dataset
// is a subdirectory of the base holding one or more source files.
type Dir struct {
	base    string
	pattern string
}

var _ datasource.Source = (*Dir)(nil)

// NewDir returns a Dir listing files under base/<dataset> whose names match
// pattern (filepath.Match syntax). An empty pattern matches every file.
func NewDir(base, pattern string) *Dir {
	if pattern == "" {
		pattern = "*"
	}
	return &Dir{base: base, pattern: pattern}
}

// List returns the matching regular files of dataset in lexicographic order.
//
// Errors:
//   - datasource.ErrDatasetDirNotFound when base/<dataset> is missing or is
//     not a directory.
//   - datasource.ErrNoFiles when nothing in the directory matches.
func (d *Dir) List(ctx context.Context, dataset string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := filepath.Join(d.base, dataset)
	fi, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", datasource.ErrDatasetDirNotFound, root)
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", datasource.ErrDatasetDirNotFound, root)
	}

	// os.ReadDir sorts entries by filename.
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", root, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(d.pattern, e.Name())
		if err != nil {
			return nil, fmt.Errorf("match %q: %w", d.pattern, err)
		}
		if ok {
			out = append(out, filepath.Join(root, e.Name()))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s has no files matching %q", datasource.ErrNoFiles, root, d.pattern)
	}
	return out, nil
}

// Open opens a path previously returned by List.
func (d *Dir) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return NewLocal(path).Open(ctx)
}
