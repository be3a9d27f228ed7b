package tables

import (
	"fmt"

	"github.com/pmikstacki/bsharp-sub005/internal/format"
)

// Row holds the column values of one table row in schema order. Every value
// is widened to uint32 regardless of its on-disk width.
type Row []uint32

// Clone returns a copy of r.
func (r Row) Clone() Row {
	return append(Row(nil), r...)
}

// DecodeRow reads one row of table id from b using the widths in info.
func (in Info) DecodeRow(id TableID, b []byte) (Row, error) {
	cols := Schema(id)
	if cols == nil {
		return nil, fmt.Errorf("tables: unknown table %s", id)
	}
	size := in.RowSize(id)
	if len(b) < size {
		return nil, fmt.Errorf("tables: %s row needs %d bytes, have %d: %w", id, size, len(b), format.ErrTruncated)
	}
	row := make(Row, len(cols))
	off := 0
	for i, c := range cols {
		switch in.ColumnSize(c) {
		case 2:
			row[i] = uint32(format.ReadU16(b, off))
			off += 2
		default:
			row[i] = format.ReadU32(b, off)
			off += 4
		}
	}
	return row, nil
}

// EncodeRow writes r into dst using the widths in info. dst must hold RowSize bytes.
// A value that does not fit a 2-byte column is an error.
func (in Info) EncodeRow(id TableID, r Row, dst []byte) error {
	cols := Schema(id)
	if cols == nil {
		return fmt.Errorf("tables: unknown table %s", id)
	}
	if len(r) != len(cols) {
		return fmt.Errorf("tables: %s row has %d values, schema has %d columns", id, len(r), len(cols))
	}
	if len(dst) < in.RowSize(id) {
		return fmt.Errorf("tables: %s row buffer too small: %w", id, format.ErrTruncated)
	}
	off := 0
	for i, c := range cols {
		switch in.ColumnSize(c) {
		case 2:
			if r[i] > 0xFFFF {
				return fmt.Errorf("tables: %s.%s value 0x%X does not fit 2 bytes", id, c.Name, r[i])
			}
			format.PutU16(dst, off, uint16(r[i]))
			off += 2
		default:
			format.PutU32(dst, off, r[i])
			off += 4
		}
	}
	return nil
}
