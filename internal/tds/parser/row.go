package parser

import (
	"github.com/hugr-lab/mssql-tds/internal/tds"
	"github.com/hugr-lab/mssql-tds/internal/tds/rowvalue"
)

// RowToken is a decoded ROW token: one value per column, in column
// order, decoded according to the most recent ColMetadataToken.
type RowToken struct {
	Values []any
}

// parseRow decodes an ordinary ROW token: every column's value is
// present on the wire, nullable-fixed types carrying their own
// 1-byte length prefix (0 meaning NULL).
func parseRow(r *reader, cols []tds.Column) (*RowToken, error) {
	values := make([]any, len(cols))
	for i, col := range cols {
		v, err := rowvalue.Decode(r, col, true)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &RowToken{Values: values}, nil
}

// parseNBCRow decodes an NBCROW token: a null bitmap ((len(cols)+7)/8
// bytes, bit i set means column i is NULL) precedes the values, and
// columns marked NULL in the bitmap are omitted entirely from the
// value stream -- including the 1-byte length prefix that an
// ordinary ROW would carry for a nullable-fixed type. This follows
// MS-TDS 2.2.7.17 rather than mirroring a shortcut retained in some
// server-side encoders that always emit the length byte; see
// DESIGN.md.
func parseNBCRow(r *reader, cols []tds.Column) (*RowToken, error) {
	bitmapLen := (len(cols) + 7) / 8
	bitmap, err := r.Bytes(bitmapLen)
	if err != nil {
		return nil, err
	}

	values := make([]any, len(cols))
	for i, col := range cols {
		isNull := bitmap[i/8]&(1<<uint(i%8)) != 0
		v, err := rowvalue.Decode(r, col, !isNull)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &RowToken{Values: values}, nil
}
