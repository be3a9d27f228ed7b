package heaps

import (
	"golang.org/x/text/encoding/unicode"

	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
)

// UserStringBuilder rebuilds #US: UTF-16LE strings framed by a compressed
// length that counts the trailing terminal byte.
type UserStringBuilder struct {
	lazy
	orig []byte
	ch   *changes.HeapChanges[string]
}

// NewUserStringBuilder returns a builder over the source #US bytes.
func NewUserStringBuilder(orig []byte, ch *changes.HeapChanges[string]) *UserStringBuilder {
	b := &UserStringBuilder{orig: orig, ch: ch}
	b.lazy.build = func() ([]byte, map[uint32]uint32, error) {
		src := base(b.orig, b.ch)
		if !b.ch.HasChanges() {
			return src, nil, nil
		}
		return rebuildFramed(src, b.ch, EncodeUserString)
	}
	return b
}

// Kind returns changes.HeapUserStrings.
func (b *UserStringBuilder) Kind() changes.HeapKind { return changes.HeapUserStrings }

// EncodeUserString returns the complete #US entry for s.
func EncodeUserString(s string) ([]byte, error) {
	utf16 := changes.EncodeUTF16(s)
	payload := make([]byte, len(utf16), len(utf16)+1)
	copy(payload, utf16)
	payload = append(payload, terminalByte(utf16))
	return framedEntry(changes.HeapUserStrings, payload)
}

// terminalByte is 1 when any code unit needs more than 8 bits or falls in
// the ranges ECMA-335 II.24.2.4 lists as special.
func terminalByte(utf16 []byte) byte {
	for i := 0; i+1 < len(utf16); i += 2 {
		lo, hi := utf16[i], utf16[i+1]
		if hi != 0 {
			return 1
		}
		switch {
		case lo >= 0x01 && lo <= 0x08,
			lo >= 0x0E && lo <= 0x1F,
			lo == 0x27, lo == 0x2D, lo == 0x7F:
			return 1
		}
	}
	return 0
}

// DecodeUserString returns the string stored at idx in a #US heap.
func DecodeUserString(heap []byte, idx uint32) (string, error) {
	if int(idx) >= len(heap) {
		return "", format.ErrTruncated
	}
	n, w, err := format.ReadCompressedUint(heap[idx:])
	if err != nil {
		return "", err
	}
	start := int(idx) + w
	if start+int(n) > len(heap) {
		return "", format.ErrTruncated
	}
	if n == 0 {
		return "", nil
	}
	return decodeUTF16(heap[start : start+int(n)-1])
}

func decodeUTF16(b []byte) (string, error) {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
