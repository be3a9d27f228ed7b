package format

import "encoding/binary"

// Binary encoding utilities for the little-endian PE/CLI structures and the
// ECMA-335 compressed unsigned integer used by the #Blob and #US heaps.

// PutU16 writes a uint16 value to the buffer at the specified offset in little-endian format.
func PutU16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:off+2], v)
}

// PutU32 writes a uint32 value to the buffer at the specified offset in little-endian format.
func PutU32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:off+4], v)
}

// PutU64 writes a uint64 value to the buffer at the specified offset in little-endian format.
func PutU64(b []byte, off int, v uint64) {
	binary.LittleEndian.PutUint64(b[off:off+8], v)
}

// ReadU16 reads a uint16 value from the buffer at the specified offset in little-endian format.
func ReadU16(b []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(b[off : off+2])
}

// ReadU32 reads a uint32 value from the buffer at the specified offset in little-endian format.
func ReadU32(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off : off+4])
}

// ReadU64 reads a uint64 value from the buffer at the specified offset in little-endian format.
func ReadU64(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off : off+8])
}

// MaxCompressedUint is the largest value representable as a compressed integer.
const MaxCompressedUint = 0x1FFFFFFF

// ReadCompressedUint decodes a compressed unsigned integer (ECMA-335 II.23.2)
// from the start of b. It returns the value and the number of bytes consumed.
//
// Encodings:
//
//	0xxxxxxx                              1 byte, 7 bits
//	10xxxxxx xxxxxxxx                     2 bytes, 14 bits
//	110xxxxx xxxxxxxx xxxxxxxx xxxxxxxx   4 bytes, 29 bits
func ReadCompressedUint(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, ErrTruncated
	}
	first := b[0]
	switch {
	case first&0x80 == 0:
		return uint32(first), 1, nil
	case first&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, ErrTruncated
		}
		return uint32(first&0x3F)<<8 | uint32(b[1]), 2, nil
	case first&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, ErrTruncated
		}
		return uint32(first&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	default:
		return 0, 0, ErrBadCompressed
	}
}

// CompressedUintSize returns the encoded length of v, or 0 when v is too large.
func CompressedUintSize(v uint32) int {
	switch {
	case v <= 0x7F:
		return 1
	case v <= 0x3FFF:
		return 2
	case v <= MaxCompressedUint:
		return 4
	default:
		return 0
	}
}

// AppendCompressedUint appends the compressed encoding of v to dst.
func AppendCompressedUint(dst []byte, v uint32) ([]byte, error) {
	switch CompressedUintSize(v) {
	case 1:
		return append(dst, byte(v)), nil
	case 2:
		return append(dst, byte(v>>8)|0x80, byte(v)), nil
	case 4:
		return append(dst, byte(v>>24)|0xC0, byte(v>>16), byte(v>>8), byte(v)), nil
	default:
		return dst, ErrValueTooLarge
	}
}
