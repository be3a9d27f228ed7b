// Package buf contains bounds-checked helpers for decoding and for narrowing
// the 64-bit offsets used while planning into on-disk field widths.
package buf

import (
	"fmt"
	"math"
)

// AddU64 adds a and b, returning ok = false when the result would overflow.
func AddU64(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// MulU64 multiplies a and b, returning ok = false when the result would overflow.
// Used for count * rowSize calculations on table data.
func MulU64(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxUint64/b {
		return 0, false
	}
	return a * b, true
}

// CheckRange validates that size bytes starting at off fit in a buffer of
// bufLen bytes. It returns the end offset or an error naming the failure.
//
//	end, err := buf.CheckRange(uint64(len(data)), off, rows*rowSize)
//	if err != nil {
//	    return fmt.Errorf("table: %w", err)
//	}
func CheckRange(bufLen, off, size uint64) (uint64, error) {
	end, ok := AddU64(off, size)
	if !ok {
		return 0, fmt.Errorf("overflow: offset=%d + size=%d", off, size)
	}
	if end > bufLen {
		return 0, fmt.Errorf("bounds: end=%d > len=%d", end, bufLen)
	}
	return end, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n uint64) ([]byte, bool) {
	end, err := CheckRange(uint64(len(b)), off, n)
	if err != nil {
		return nil, false
	}
	return b[off:end], true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n uint64) bool {
	_, ok := Slice(b, off, n)
	return ok
}
