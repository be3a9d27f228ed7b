package format

// Alignment utilities for PE and metadata structures.
// Alignments are always powers of two; callers validate values read from the image.

// Align4 returns n aligned up to the next 4-byte boundary.
// Used for metadata streams, stream names and method bodies.
//
// Example:
//
//	Align4(0) = 0
//	Align4(1) = 4
//	Align4(4) = 4
//	Align4(5) = 8
func Align4(n uint64) uint64 {
	return (n + 3) &^ 3
}

// AlignTo returns n aligned up to the next multiple of alignment.
// An alignment of 0 or 1 returns n unchanged.
//
// Example:
//
//	AlignTo(0x201, 0x200)   = 0x400
//	AlignTo(0x1000, 0x1000) = 0x1000
func AlignTo(n, alignment uint64) uint64 {
	if alignment <= 1 {
		return n
	}
	rem := n % alignment
	if rem == 0 {
		return n
	}
	return n + alignment - rem
}

// IsPowerOfTwo reports whether v is a non-zero power of two.
func IsPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}
