// Package heaps rebuilds the #Strings, #Blob, #GUID and #US heaps from their
// source bytes and a set of pending changes.
//
// Every builder walks the base heap in its native framing, drops removed
// entries, rewrites modified entries in place and appends new items last.
// Entries after a changed one shift, so each builder also reports the
// old-to-new index of every entry it emitted. An unchanged heap is returned
// verbatim with an empty mapping.
package heaps

import (
	"github.com/pmikstacki/bsharp-sub005/internal/buf"
	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/pkg/types"
)

// Builder is implemented by every heap builder.
type Builder interface {
	// CalculateSize returns the exact unpadded size Build will produce.
	CalculateSize() (uint64, error)
	// Build returns the heap bytes.
	Build() ([]byte, error)
	// IndexMappings maps source and provisional indices to final indices.
	// Removed entries map to 0. Empty when the heap is unchanged.
	IndexMappings() map[uint32]uint32
	// Kind identifies the heap.
	Kind() changes.HeapKind
}

// result caches one build.
type result struct {
	data     []byte
	mappings map[uint32]uint32
	err      error
}

// lazy runs build at most once.
type lazy struct {
	build func() ([]byte, map[uint32]uint32, error)
	res   *result
}

func (l *lazy) get() *result {
	if l.res == nil {
		data, m, err := l.build()
		l.res = &result{data: data, mappings: m, err: err}
	}
	return l.res
}

func (l *lazy) CalculateSize() (uint64, error) {
	r := l.get()
	if r.err != nil {
		return 0, r.err
	}
	return uint64(len(r.data)), nil
}

func (l *lazy) Build() ([]byte, error) {
	r := l.get()
	return r.data, r.err
}

func (l *lazy) IndexMappings() map[uint32]uint32 {
	r := l.get()
	if r.mappings == nil {
		return map[uint32]uint32{}
	}
	return r.mappings
}

// base picks the replacement heap when one is queued.
func base[T any](orig []byte, ch *changes.HeapChanges[T]) []byte {
	if data, ok := ch.Replacement(); ok {
		return data
	}
	return orig
}

// heapIndex narrows a heap offset, failing once the heap outgrows 32-bit indices.
func heapIndex(kind changes.HeapKind, n int) (uint32, error) {
	v, ok := buf.ToU32(uint64(n))
	if !ok {
		return 0, types.Overflow(types.StageComponentSizing, kind.StreamName()+" heap size", uint64(n))
	}
	return v, nil
}

// emitAppended writes queued items after the base entries, honouring
// modifications and removals addressed to their provisional indices.
func emitAppended[T any](ch *changes.HeapChanges[T], out []byte, m map[uint32]uint32, encode func(T) ([]byte, error)) ([]byte, error) {
	items, idx := ch.Appended()
	for i, v := range items {
		prov := idx[i]
		if ch.IsRemoved(prov) {
			m[prov] = 0
			continue
		}
		if mod, ok := ch.Modified(prov); ok {
			v = mod
		}
		enc, err := encode(v)
		if err != nil {
			return nil, err
		}
		at, err := heapIndex(ch.Kind(), len(out))
		if err != nil {
			return nil, err
		}
		m[prov] = at
		out = append(out, enc...)
	}
	if _, err := heapIndex(ch.Kind(), len(out)); err != nil {
		return nil, err
	}
	return out, nil
}

// NewBuilders returns builders for all four heaps of a change set.
func NewBuilders(set *changes.Set, strings, blobs, guids, us []byte) (Builder, Builder, Builder, Builder) {
	return NewStringBuilder(strings, set.Strings),
		NewBlobBuilder(blobs, set.Blobs),
		NewGUIDBuilder(guids, set.GUIDs),
		NewUserStringBuilder(us, set.UserStrings)
}
