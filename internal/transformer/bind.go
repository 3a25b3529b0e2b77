package transformer

import (
	"errors"
	"fmt"
)

// ErrColumnCountMismatch is wrapped by every *ColumnCountMismatchError.
var ErrColumnCountMismatch = errors.New("column count mismatch")

// ColumnCountMismatchError reports the first row whose width differs from the
// resolved column list.
type ColumnCountMismatchError struct {
	// Row is the 0-based offset of the row within its chunk.
	Row int
	// Record is the 1-based record number within the file.
	Record int
	Got    int
	Want   int
}

func (e *ColumnCountMismatchError) Error() string {
	return fmt.Sprintf("record %d (chunk row %d) has %d fields, expected %d columns",
		e.Record, e.Row, e.Got, e.Want)
}

func (e *ColumnCountMismatchError) Unwrap() error { return ErrColumnCountMismatch }

// Bind checks every row of raw against columns and returns the chunk with the
// column list attached. It is all-or-nothing: on error the returned chunk is
// empty. A raw chunk carrying a parse error fails with that error.
func Bind(raw RawChunk, columns []string) (NamedChunk, error) {
	if raw.Err != nil {
		return NamedChunk{}, raw.Err
	}
	if len(columns) == 0 {
		return NamedChunk{}, fmt.Errorf("bind chunk %d: %w: no columns", raw.Index, ErrColumnCountMismatch)
	}
	want := len(columns)
	for i, row := range raw.Rows {
		if len(row) != want {
			return NamedChunk{}, &ColumnCountMismatchError{
				Row:    i,
				Record: raw.FirstRecord + i,
				Got:    len(row),
				Want:   want,
			}
		}
	}
	return NamedChunk{
		Index:       raw.Index,
		FirstRecord: raw.FirstRecord,
		Columns:     columns,
		Rows:        raw.Rows,
	}, nil
}
