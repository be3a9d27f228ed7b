package tables

import (
	"fmt"

	"github.com/pmikstacki/bsharp-sub005/internal/buf"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
)

// Header is the decoded #~ stream header (ECMA-335 II.24.2.6).
//
// Layout:
//
//	0x00  Reserved (4)
//	0x04  MajorVersion, MinorVersion (1+1)
//	0x06  HeapSizes (1)
//	0x07  Reserved (1, always 1)
//	0x08  Valid (8)
//	0x10  Sorted (8)
//	0x18  Rows[popcount(Valid)] (4 each)
//	      [4 bytes extra data when HeapSizes&0x40]
type Header struct {
	MajorVersion uint8
	MinorVersion uint8
	HeapSizes    uint8
	Valid        uint64
	Sorted       uint64
	Info         Info
	Size         int // bytes up to the first row
}

// ParseHeader decodes the tables stream header from b.
func ParseHeader(b []byte) (Header, error) {
	c := buf.NewCursor(b)
	c.Skip(4)
	h := Header{
		MajorVersion: c.U8(),
		MinorVersion: c.U8(),
		HeapSizes:    c.U8(),
	}
	c.Skip(1)
	h.Valid = c.U64()
	h.Sorted = c.U64()
	if err := c.Err(); err != nil {
		return Header{}, fmt.Errorf("tables header: %w", format.ErrTruncated)
	}

	var rows [Count]uint32
	for bit := 0; bit <= MaxID; bit++ {
		if h.Valid&(1<<uint(bit)) == 0 {
			continue
		}
		n := c.U32()
		if bit >= Count {
			if n != 0 {
				return Header{}, fmt.Errorf("tables header: table 0x%02X: %w", bit, format.ErrUnsupported)
			}
			continue
		}
		rows[bit] = n
	}
	if h.HeapSizes&format.HeapSizeExtraData != 0 {
		c.Skip(4)
	}
	if err := c.Err(); err != nil {
		return Header{}, fmt.Errorf("tables header row counts: %w", format.ErrTruncated)
	}
	h.Info = NewInfo(rows, h.HeapSizes)
	h.Size = c.Offset()
	return h, nil
}

// HeaderSize returns the encoded header size for a set of present tables.
func HeaderSize(present int) int {
	return format.TablesHeaderFixedSize + 4*present
}

// EncodeHeader writes a header for info. Only non-empty tables are marked valid;
// the sorted mask is carried from the source and restricted to valid tables.
func EncodeHeader(major, minor uint8, sorted uint64, info Info) []byte {
	valid := info.ValidMask()
	b := make([]byte, HeaderSize(info.PresentCount()))
	b[4] = major
	b[5] = minor
	b[6] = info.HeapSizes()
	b[7] = 1
	format.PutU64(b, 8, valid)
	format.PutU64(b, 16, sorted&valid)
	off := format.TablesHeaderFixedSize
	for _, id := range All() {
		if n := info.Rows[id]; n > 0 {
			format.PutU32(b, off, n)
			off += 4
		}
	}
	return b
}

// Offsets returns the byte offset of each table's first row relative to the
// start of the tables stream, given the header size.
func (in Info) Offsets(headerSize int) [Count]uint64 {
	var offs [Count]uint64
	off := uint64(headerSize)
	for _, id := range All() {
		offs[id] = off
		off += uint64(in.Rows[id]) * uint64(in.RowSize(id))
	}
	return offs
}
