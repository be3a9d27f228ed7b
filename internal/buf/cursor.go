package buf

import (
	"encoding/binary"
	"fmt"
)

// Cursor reads little-endian values sequentially from a byte slice.
// The first out-of-bounds read latches an error; later reads return zero.
type Cursor struct {
	b   []byte
	off int
	err error
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{b: b}
}

// Offset returns the current read position.
func (c *Cursor) Offset() int { return c.off }

// Err returns the first bounds error, if any.
func (c *Cursor) Err() error { return c.err }

func (c *Cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.off+n > len(c.b) {
		c.err = &ShortReadError{Offset: c.off, Want: n, Have: len(c.b) - c.off}
		return nil
	}
	p := c.b[c.off : c.off+n]
	c.off += n
	return p
}

// U8 reads one byte.
func (c *Cursor) U8() uint8 {
	p := c.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

// U16 reads a little-endian uint16.
func (c *Cursor) U16() uint16 {
	p := c.take(2)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(p)
}

// U32 reads a little-endian uint32.
func (c *Cursor) U32() uint32 {
	p := c.take(4)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(p)
}

// U64 reads a little-endian uint64.
func (c *Cursor) U64() uint64 {
	p := c.take(8)
	if p == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(p)
}

// Skip advances n bytes.
func (c *Cursor) Skip(n int) {
	c.take(n)
}

// ShortReadError reports a read past the end of the cursor's buffer.
type ShortReadError struct {
	Offset int
	Want   int
	Have   int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("buf: short read at %d: want %d bytes, have %d", e.Offset, e.Want, e.Have)
}
