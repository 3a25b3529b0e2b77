package loader

import (
	"fmt"

	"github.com/zeebo/xxh3"

	"dsload/internal/transformer"
)

// Field, row and NULL markers keep ("a","bc") distinct from ("ab","c") and
// NULL distinct from "".
const (
	fieldSep  = "\x1f"
	rowSep    = "\x1e"
	nullValue = "\x00"
)

// fingerprint hashes a chunk's columns and rows. Identical chunks written by
// separate runs share a fingerprint, which makes duplicates visible in logs.
func fingerprint(c transformer.NamedChunk) uint64 {
	h := xxh3.New()
	for _, col := range c.Columns {
		_, _ = h.WriteString(col)
		_, _ = h.WriteString(fieldSep)
	}
	_, _ = h.WriteString(rowSep)
	for _, row := range c.Rows {
		for _, v := range row {
			switch t := v.(type) {
			case nil:
				_, _ = h.WriteString(nullValue)
			case string:
				_, _ = h.WriteString(t)
			default:
				_, _ = h.WriteString(fmt.Sprint(t))
			}
			_, _ = h.WriteString(fieldSep)
		}
		_, _ = h.WriteString(rowSep)
	}
	return h.Sum64()
}
