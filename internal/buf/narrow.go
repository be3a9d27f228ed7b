package buf

import "math"

// ToU32 narrows v to uint32. ok is false when bits would be lost.
func ToU32(v uint64) (uint32, bool) {
	if v > math.MaxUint32 {
		return 0, false
	}
	return uint32(v), true
}

// ToU16 narrows v to uint16. ok is false when bits would be lost.
func ToU16(v uint64) (uint16, bool) {
	if v > math.MaxUint16 {
		return 0, false
	}
	return uint16(v), true
}

// ToInt narrows v to int. ok is false when v exceeds math.MaxInt.
func ToInt(v uint64) (int, bool) {
	if v > math.MaxInt {
		return 0, false
	}
	return int(v), true
}
