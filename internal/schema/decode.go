package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// datasetEntry is one top-level key of the document, kept in document order.
type datasetEntry struct {
	name    string
	columns []rawColumn
}

// rawColumn is a column declaration before validation. Fields are loosely
// typed so that every problem can be reported instead of failing on the first
// decode mismatch.
type rawColumn struct {
	name        *string
	badName     bool
	position    any
	hasPosition bool
}

// Parse decodes and validates a schema document from r.
func Parse(r io.Reader, format Format) (*Catalog, error) {
	var (
		entries []datasetEntry
		err     error
	)
	switch format {
	case FormatYAML:
		entries, err = decodeYAML(r)
	case FormatJSON, "":
		entries, err = decodeJSON(r)
	default:
		err = fmt.Errorf("unsupported schema format %q", format)
	}
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	return build(entries)
}

func decodeJSON(r io.Reader) ([]datasetEntry, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("decode json: top level must be an object mapping dataset names to column lists")
	}

	var entries []datasetEntry
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		name, _ := tok.(string)

		var cols []map[string]any
		if err := dec.Decode(&cols); err != nil {
			return nil, fmt.Errorf("decode json: dataset %q: %w", name, err)
		}
		entries = append(entries, datasetEntry{name: name, columns: columnsFromMaps(cols)})
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode json: trailing data after the top-level object at offset %d", dec.InputOffset())
	}
	return entries, nil
}

func decodeYAML(r io.Reader) ([]datasetEntry, error) {
	yd := yaml.NewDecoder(r)
	var doc yaml.Node
	if err := yd.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	var extra yaml.Node
	if err := yd.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode yaml: more than one document in stream")
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("decode yaml: top level must be a mapping of dataset names to column lists")
	}

	entries := make([]datasetEntry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var cols []map[string]any
		if err := root.Content[i+1].Decode(&cols); err != nil {
			return nil, fmt.Errorf("decode yaml: dataset %q: %w", name, err)
		}
		entries = append(entries, datasetEntry{name: name, columns: columnsFromMaps(cols)})
	}
	return entries, nil
}

func columnsFromMaps(ms []map[string]any) []rawColumn {
	out := make([]rawColumn, 0, len(ms))
	for _, m := range ms {
		var rc rawColumn
		if v, ok := m["column_name"]; ok && v != nil {
			if s, ok := v.(string); ok {
				rc.name = &s
			} else {
				rc.badName = true
			}
		}
		if v, ok := m["column_position"]; ok && v != nil {
			rc.position = v
			rc.hasPosition = true
		}
		out = append(out, rc)
	}
	return out
}

// positionValue accepts integral JSON numbers and YAML ints only. Floats and
// numeric strings are rejected rather than truncated.
func positionValue(v any) (int, error) {
	var n int64
	switch t := v.(type) {
	case json.Number:
		i, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("column_position must be an integer, got %s", t.String())
		}
		n = i
	case int:
		n = int64(t)
	case int64:
		n = t
	case uint64:
		if t > uint64(^uint32(0)>>1) {
			return 0, fmt.Errorf("column_position %d out of range", t)
		}
		n = int64(t)
	default:
		return 0, fmt.Errorf("column_position must be an integer, got %v (%T)", v, v)
	}
	if n < 1 {
		return 0, fmt.Errorf("column_position must be >= 1, got %d", n)
	}
	if n > int64(^uint32(0)>>1) {
		return 0, fmt.Errorf("column_position %d out of range", n)
	}
	return int(n), nil
}

// normalizeName trims the name and folds it to NFC so that canonically
// equivalent spellings collide in duplicate detection.
func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
