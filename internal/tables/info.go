package tables

import "github.com/pmikstacki/bsharp-sub005/internal/format"

// Info carries everything that determines the binary width of table rows:
// the row count of every table and whether each heap uses 4-byte indices.
type Info struct {
	Rows        [Count]uint32
	WideStrings bool
	WideGUIDs   bool
	WideBlobs   bool
}

// NewInfo builds an Info from row counts and the tables-header HeapSizes byte.
func NewInfo(rows [Count]uint32, heapSizes uint8) Info {
	return Info{
		Rows:        rows,
		WideStrings: heapSizes&format.HeapSizeWideStrings != 0,
		WideGUIDs:   heapSizes&format.HeapSizeWideGUIDs != 0,
		WideBlobs:   heapSizes&format.HeapSizeWideBlobs != 0,
	}
}

// HeapSizes returns the HeapSizes flag byte matching the wide settings.
func (in Info) HeapSizes() uint8 {
	var flags uint8
	if in.WideStrings {
		flags |= format.HeapSizeWideStrings
	}
	if in.WideGUIDs {
		flags |= format.HeapSizeWideGUIDs
	}
	if in.WideBlobs {
		flags |= format.HeapSizeWideBlobs
	}
	return flags
}

// RowCount returns the number of rows in a table, 0 for unknown ids.
func (in Info) RowCount(id TableID) uint32 {
	if !id.Valid() {
		return 0
	}
	return in.Rows[id]
}

// IndexSize returns the width of a simple index into table t.
func (in Info) IndexSize(t TableID) int {
	if in.RowCount(t) < 1<<16 {
		return 2
	}
	return 4
}

// CodedSize returns the width of a coded index of kind k.
func (in Info) CodedSize(k CodedKind) int {
	limit := uint32(1) << (16 - k.TagBits())
	for _, t := range k.Tables() {
		if t == unused {
			continue
		}
		if in.RowCount(t) >= limit {
			return 4
		}
	}
	return 2
}

// ColumnSize returns the width of one column.
func (in Info) ColumnSize(c Column) int {
	switch c.Kind {
	case ColU16:
		return 2
	case ColU32, ColRVA:
		return 4
	case ColString:
		return wide(in.WideStrings)
	case ColGUID:
		return wide(in.WideGUIDs)
	case ColBlob:
		return wide(in.WideBlobs)
	case ColTable:
		return in.IndexSize(c.Target)
	case ColCoded:
		return in.CodedSize(c.Coded)
	default:
		return 0
	}
}

func wide(w bool) int {
	if w {
		return 4
	}
	return 2
}

// RowSize returns the byte size of one row of table id.
func (in Info) RowSize(id TableID) int {
	size := 0
	for _, c := range Schema(id) {
		size += in.ColumnSize(c)
	}
	return size
}

// ColumnOffsets returns the byte offset of every column within a row.
func (in Info) ColumnOffsets(id TableID) []int {
	cols := Schema(id)
	offsets := make([]int, len(cols))
	off := 0
	for i, c := range cols {
		offsets[i] = off
		off += in.ColumnSize(c)
	}
	return offsets
}

// HeapField locates a heap index inside an encoded row.
type HeapField struct {
	Column int
	Offset int
	Width  int
	Kind   ColumnKind
}

// HeapFields returns the heap-index fields of table id with their byte offsets.
// These are the fields rewritten when heap indices move.
func (in Info) HeapFields(id TableID) []HeapField {
	var fields []HeapField
	off := 0
	for i, c := range Schema(id) {
		w := in.ColumnSize(c)
		if c.IsHeap() {
			fields = append(fields, HeapField{Column: i, Offset: off, Width: w, Kind: c.Kind})
		}
		off += w
	}
	return fields
}

// DataSize returns the total size of all row data.
func (in Info) DataSize() uint64 {
	var total uint64
	for _, id := range All() {
		total += uint64(in.Rows[id]) * uint64(in.RowSize(id))
	}
	return total
}

// PresentCount returns the number of tables with at least one row.
func (in Info) PresentCount() int {
	n := 0
	for _, rows := range in.Rows {
		if rows > 0 {
			n++
		}
	}
	return n
}

// ValidMask returns the 64-bit mask of non-empty tables.
func (in Info) ValidMask() uint64 {
	var mask uint64
	for id, rows := range in.Rows {
		if rows > 0 {
			mask |= 1 << uint(id)
		}
	}
	return mask
}
