package changes

import (
	"sort"

	"golang.org/x/text/encoding/unicode"

	"github.com/pmikstacki/bsharp-sub005/internal/format"
)

// HeapKind names one of the four metadata heaps.
type HeapKind int

const (
	HeapStrings HeapKind = iota
	HeapBlob
	HeapGUID
	HeapUserStrings
)

// StreamName returns the metadata stream that stores the heap.
func (k HeapKind) StreamName() string {
	switch k {
	case HeapStrings:
		return format.StreamStrings
	case HeapBlob:
		return format.StreamBlob
	case HeapGUID:
		return format.StreamGUID
	default:
		return format.StreamUserStrings
	}
}

func (k HeapKind) String() string { return k.StreamName() }

// HeapChanges tracks additions, in-place modifications and removals against
// one heap, or a complete replacement of its bytes.
//
// Indices are heap addresses: byte offsets for #Strings, #Blob and #US and
// 1-based entry numbers for #GUID. Appended items receive provisional indices
// continuing after the base heap; the heap builder maps them to final ones.
type HeapChanges[T any] struct {
	kind HeapKind
	size func(T) uint32

	appended    []T
	appendedIdx []uint32
	modified    map[uint32]T
	removed     map[uint32]struct{}

	replacement    []byte
	hasReplacement bool

	next uint32
}

func newHeapChanges[T any](kind HeapKind, next uint32, size func(T) uint32) *HeapChanges[T] {
	return &HeapChanges[T]{
		kind:     kind,
		size:     size,
		modified: make(map[uint32]T),
		removed:  make(map[uint32]struct{}),
		next:     next,
	}
}

// NewStringChanges tracks #Strings edits. base is the byte size of the heap.
func NewStringChanges(base uint32) *HeapChanges[string] {
	return newHeapChanges(HeapStrings, max(base, 1), StringEntrySize)
}

// NewBlobChanges tracks #Blob edits. base is the byte size of the heap.
func NewBlobChanges(base uint32) *HeapChanges[[]byte] {
	return newHeapChanges(HeapBlob, max(base, 1), BlobEntrySize)
}

// NewGUIDChanges tracks #GUID edits. base is the byte size of the heap.
func NewGUIDChanges(base uint32) *HeapChanges[[16]byte] {
	return newHeapChanges(HeapGUID, base/format.GUIDSize+1, func([16]byte) uint32 { return 1 })
}

// NewUserStringChanges tracks #US edits. base is the byte size of the heap.
func NewUserStringChanges(base uint32) *HeapChanges[string] {
	return newHeapChanges(HeapUserStrings, max(base, 1), UserStringEntrySize)
}

// Kind reports which heap the changes apply to.
func (h *HeapChanges[T]) Kind() HeapKind { return h.kind }

// Append queues v at the end of the heap and returns its provisional index.
func (h *HeapChanges[T]) Append(v T) uint32 {
	idx := h.next
	h.appended = append(h.appended, v)
	h.appendedIdx = append(h.appendedIdx, idx)
	h.next += h.size(v)
	return idx
}

// Modify replaces the entry at idx. Modifying an entry clears a pending removal.
func (h *HeapChanges[T]) Modify(idx uint32, v T) {
	delete(h.removed, idx)
	h.modified[idx] = v
}

// Remove drops the entry at idx. References to it remap to 0.
func (h *HeapChanges[T]) Remove(idx uint32) {
	delete(h.modified, idx)
	h.removed[idx] = struct{}{}
}

// Replace substitutes the whole heap. Subsequent appends continue after data.
func (h *HeapChanges[T]) Replace(data []byte) {
	h.replacement = append([]byte(nil), data...)
	h.hasReplacement = true
	h.appended, h.appendedIdx = nil, nil
	h.modified = make(map[uint32]T)
	h.removed = make(map[uint32]struct{})
	n := uint32(len(data))
	if h.kind == HeapGUID {
		h.next = n/format.GUIDSize + 1
	} else {
		h.next = max(n, 1)
	}
}

// Replacement returns the replacement heap, if any.
func (h *HeapChanges[T]) Replacement() ([]byte, bool) {
	return h.replacement, h.hasReplacement
}

// Appended returns queued items paired with their provisional indices.
func (h *HeapChanges[T]) Appended() ([]T, []uint32) { return h.appended, h.appendedIdx }

// Modified returns the modification for idx.
func (h *HeapChanges[T]) Modified(idx uint32) (T, bool) {
	v, ok := h.modified[idx]
	return v, ok
}

// IsRemoved reports whether idx is queued for removal.
func (h *HeapChanges[T]) IsRemoved(idx uint32) bool {
	_, ok := h.removed[idx]
	return ok
}

// ModifiedIndices returns modified indices in ascending order.
func (h *HeapChanges[T]) ModifiedIndices() []uint32 { return sortedKeys(h.modified) }

// RemovedIndices returns removed indices in ascending order.
func (h *HeapChanges[T]) RemovedIndices() []uint32 { return sortedKeys(h.removed) }

// NextIndex returns the provisional index the next appended item will get.
func (h *HeapChanges[T]) NextIndex() uint32 { return h.next }

// HasChanges reports whether the heap differs from its base.
func (h *HeapChanges[T]) HasChanges() bool {
	return h.hasReplacement || len(h.appended) > 0 || len(h.modified) > 0 || len(h.removed) > 0
}

// AppendedSize returns the encoded byte size of the queued items.
func (h *HeapChanges[T]) AppendedSize() uint64 {
	var n uint64
	for _, v := range h.appended {
		if h.kind == HeapGUID {
			n += format.GUIDSize
			continue
		}
		n += uint64(h.size(v))
	}
	return n
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// StringEntrySize is the #Strings footprint of s: UTF-8 bytes plus NUL.
func StringEntrySize(s string) uint32 { return uint32(len(s)) + 1 }

// BlobEntrySize is the #Blob footprint of b: compressed length plus data.
func BlobEntrySize(b []byte) uint32 {
	return uint32(format.CompressedUintSize(uint32(len(b)))) + uint32(len(b))
}

// UserStringEntrySize is the #US footprint of s: compressed length, UTF-16LE
// code units and the terminal byte.
func UserStringEntrySize(s string) uint32 {
	n := uint32(len(EncodeUTF16(s))) + 1
	return uint32(format.CompressedUintSize(n)) + n
}

// EncodeUTF16 returns s as UTF-16LE without a byte order mark. Invalid UTF-8
// is replaced with U+FFFD.
func EncodeUTF16(s string) []byte {
	out, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	return out
}
