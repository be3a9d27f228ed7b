package buf

import (
	"errors"
	"math"
	"testing"
)

func TestAddMulU64(t *testing.T) {
	if sum, ok := AddU64(10, 5); !ok || sum != 15 {
		t.Fatalf("AddU64(10,5)=%d,%v want 15,true", sum, ok)
	}
	if _, ok := AddU64(math.MaxUint64, 1); ok {
		t.Fatalf("expected overflow when adding to MaxUint64")
	}
	if p, ok := MulU64(40, 3); !ok || p != 120 {
		t.Fatalf("MulU64(40,3)=%d,%v", p, ok)
	}
	if _, ok := MulU64(math.MaxUint64/2, 3); ok {
		t.Fatalf("expected multiplication overflow")
	}
}

func TestCheckRange(t *testing.T) {
	end, err := CheckRange(100, 10, 90)
	if err != nil || end != 100 {
		t.Fatalf("CheckRange(100,10,90)=%d,%v", end, err)
	}
	if _, err := CheckRange(100, 10, 91); err == nil {
		t.Fatalf("expected bounds error")
	}
	if _, err := CheckRange(100, math.MaxUint64, 2); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestSliceAndHas(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4}
	if got, ok := Slice(data, 1, 3); !ok || len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("Slice returned unexpected result: %v, %v", got, ok)
	}
	if _, ok := Slice(data, 4, 2); ok {
		t.Fatalf("Slice should fail when extending beyond len")
	}
	if Has(data, 2, 4) {
		t.Fatalf("Has should be false for out-of-bounds range")
	}
	if !Has(data, 2, 1) {
		t.Fatalf("Has should be true for valid range")
	}
}

func TestNarrowing(t *testing.T) {
	if v, ok := ToU32(math.MaxUint32); !ok || v != math.MaxUint32 {
		t.Fatalf("ToU32(MaxUint32)=%d,%v", v, ok)
	}
	if _, ok := ToU32(math.MaxUint32 + 1); ok {
		t.Fatalf("ToU32 should reject values above MaxUint32")
	}
	if _, ok := ToU16(0x10000); ok {
		t.Fatalf("ToU16 should reject 0x10000")
	}
	if v, ok := ToU16(0xFFFF); !ok || v != 0xFFFF {
		t.Fatalf("ToU16(0xFFFF)=%d,%v", v, ok)
	}
	if _, ok := ToInt(math.MaxUint64); ok {
		t.Fatalf("ToInt should reject MaxUint64")
	}
}

func TestCursor(t *testing.T) {
	data := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xab, 0xcd, 0xef, 0x10}
	c := NewCursor(data)
	if got := c.U16(); got != 0x2301 {
		t.Fatalf("U16 = 0x%x, want 0x2301", got)
	}
	if got := c.U16(); got != 0x6745 {
		t.Fatalf("U16 = 0x%x, want 0x6745", got)
	}
	c.Skip(4)
	if got := c.U8(); got != 0x10 {
		t.Fatalf("U8 = 0x%x", got)
	}
	if c.Offset() != 9 || c.Err() != nil {
		t.Fatalf("offset=%d err=%v", c.Offset(), c.Err())
	}
	if got := c.U32(); got != 0 {
		t.Fatalf("short read should return 0, got %d", got)
	}
	var sre *ShortReadError
	if !errors.As(c.Err(), &sre) || sre.Offset != 9 || sre.Want != 4 {
		t.Fatalf("expected ShortReadError, got %v", c.Err())
	}
	if got := c.U8(); got != 0 {
		t.Fatalf("reads after error should return 0")
	}

	c = NewCursor(data)
	if got := c.U64(); got != 0xefcdab8967452301 {
		t.Fatalf("U64 = 0x%x", got)
	}
}
