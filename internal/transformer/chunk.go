// Package transformer turns raw parsed rows into rows the storage layer can
// write. Binding attaches the dataset's resolved column order to each row;
// nothing is renamed, reordered or coerced.
package transformer

// RawChunk is a contiguous run of records from one source file.
type RawChunk struct {
	// Index is the 0-based position of the chunk within its file.
	Index int
	// FirstRecord is the 1-based record number of the chunk's first record
	// within its file. Blank lines are not records.
	FirstRecord int
	// Records counts every record consumed for this chunk, malformed ones
	// included. Records == len(Rows) unless Err is set.
	Records int
	// Rows hold one []any per well-formed record. Fields are string, or nil
	// for an empty field read as NULL.
	Rows [][]any
	// Err is set when one or more records in the chunk failed to parse.
	Err error
}

// NamedChunk is a RawChunk whose rows have been checked against the
// dataset's column list. Columns is shared and must not be modified.
type NamedChunk struct {
	Index       int
	FirstRecord int
	Columns     []string
	Rows        [][]any
}

// Len returns the number of rows in the chunk.
func (c NamedChunk) Len() int { return len(c.Rows) }
