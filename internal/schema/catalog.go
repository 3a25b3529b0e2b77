// Package schema loads the declarative schema document that maps dataset names
// to positional column declarations, and resolves the column order used to
// label headerless source files.
//
// The document is a JSON (or YAML) object keyed by dataset name:
//
//	{
//	  "orders": [
//	    { "column_name": "order_id",   "column_position": 1 },
//	    { "column_name": "order_date", "column_position": 2 }
//	  ]
//	}
//
// A Catalog is immutable once loaded. Loading is all-or-nothing: a single
// invalid dataset declaration fails the whole document.
package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrSchemaLoad is wrapped by every document-level failure.
	ErrSchemaLoad = errors.New("schema load failed")

	// ErrUnknownDataset is returned by Resolve for names absent from the document.
	ErrUnknownDataset = errors.New("unknown dataset")
)

// Format selects the document decoder.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Column is a single column declaration.
type Column struct {
	Name     string
	Position int
}

// LoadError describes why a schema document could not be loaded. Problems
// lists every validation finding, not just the first one.
type LoadError struct {
	Path     string
	Problems []string
	Err      error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("schema: load ")
	if e.Path != "" {
		b.WriteString(e.Path)
	} else {
		b.WriteString("document")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Problems) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Problems, "; "))
	}
	return b.String()
}

// Is lets callers test any load failure with errors.Is(err, ErrSchemaLoad).
func (e *LoadError) Is(target error) bool { return target == ErrSchemaLoad }

func (e *LoadError) Unwrap() error { return e.Err }

// Catalog is the validated, read-only view of a schema document.
type Catalog struct {
	order    []string
	datasets map[string][]Column
}

// Load reads and validates the document at path. The format is chosen from
// the file extension (.yaml/.yml → YAML, anything else → JSON).
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer f.Close()

	c, err := Parse(f, FormatFromPath(path))
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
			return nil, le
		}
		return nil, &LoadError{Path: path, Err: err}
	}
	return c, nil
}

// FormatFromPath maps a file extension to a document format.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Resolve returns the column names of dataset sorted by ascending position.
// The returned slice is a fresh copy.
func (c *Catalog) Resolve(dataset string) ([]string, error) {
	cols, ok := c.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, dataset)
	}
	out := make([]string, len(cols))
	for i, col := range cols {
		out[i] = col.Name
	}
	return out, nil
}

// Columns returns the full declarations of dataset in position order.
func (c *Catalog) Columns(dataset string) ([]Column, error) {
	cols, ok := c.datasets[dataset]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDataset, dataset)
	}
	return append([]Column(nil), cols...), nil
}

// Datasets returns dataset names in document order.
func (c *Catalog) Datasets() []string {
	return append([]string(nil), c.order...)
}

// Len reports the number of datasets in the catalog.
func (c *Catalog) Len() int { return len(c.order) }

// build validates the decoded entries and produces a Catalog. It never returns
// a partially populated catalog.
func build(entries []datasetEntry) (*Catalog, error) {
	var problems []string
	c := &Catalog{datasets: make(map[string][]Column, len(entries))}

	for _, e := range entries {
		name := strings.TrimSpace(e.name)
		if name == "" {
			problems = append(problems, "dataset name must not be empty")
			continue
		}
		if _, dup := c.datasets[name]; dup {
			problems = append(problems, fmt.Sprintf("dataset %q declared more than once", name))
			continue
		}
		cols, errs := validateColumns(name, e.columns)
		if len(errs) > 0 {
			problems = append(problems, errs...)
			continue
		}
		c.order = append(c.order, name)
		c.datasets[name] = cols
	}

	if len(problems) > 0 {
		return nil, &LoadError{Problems: problems}
	}
	return c, nil
}

func validateColumns(dataset string, raw []rawColumn) ([]Column, []string) {
	var problems []string
	if len(raw) == 0 {
		return nil, []string{fmt.Sprintf("dataset %q: no columns declared", dataset)}
	}

	cols := make([]Column, 0, len(raw))
	byPos := make(map[int]string, len(raw))
	byName := make(map[string]int, len(raw))

	for i, rc := range raw {
		at := fmt.Sprintf("dataset %q column #%d", dataset, i+1)

		switch {
		case rc.badName:
			problems = append(problems, at+": column_name must be a string")
		case rc.name == nil:
			problems = append(problems, at+": missing column_name")
		}
		if !rc.hasPosition {
			problems = append(problems, at+": missing column_position")
		}
		if rc.name == nil || !rc.hasPosition {
			continue
		}

		name := normalizeName(*rc.name)
		if name == "" {
			problems = append(problems, at+": column_name must not be empty")
			continue
		}
		pos, err := positionValue(rc.position)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s (%s): %v", at, name, err))
			continue
		}
		if prev, dup := byPos[pos]; dup {
			problems = append(problems, fmt.Sprintf("dataset %q: column_position %d used by both %q and %q", dataset, pos, prev, name))
			continue
		}
		if prev, dup := byName[name]; dup {
			problems = append(problems, fmt.Sprintf("dataset %q: column_name %q declared at positions %d and %d", dataset, name, prev, pos))
			continue
		}
		byPos[pos] = name
		byName[name] = pos
		cols = append(cols, Column{Name: name, Position: pos})
	}

	if len(problems) > 0 {
		return nil, problems
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })
	return cols, nil
}
