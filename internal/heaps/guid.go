package heaps

import (
	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
)

// GUIDBuilder rebuilds #GUID: 16-byte records addressed by 1-based index.
type GUIDBuilder struct {
	lazy
	orig []byte
	ch   *changes.HeapChanges[[16]byte]
}

// NewGUIDBuilder returns a builder over the source #GUID bytes.
func NewGUIDBuilder(orig []byte, ch *changes.HeapChanges[[16]byte]) *GUIDBuilder {
	b := &GUIDBuilder{orig: orig, ch: ch}
	b.lazy.build = b.build
	return b
}

// Kind returns changes.HeapGUID.
func (b *GUIDBuilder) Kind() changes.HeapKind { return changes.HeapGUID }

func (b *GUIDBuilder) build() ([]byte, map[uint32]uint32, error) {
	src := base(b.orig, b.ch)
	if !b.ch.HasChanges() {
		return src, nil, nil
	}
	count := len(src) / format.GUIDSize
	out := make([]byte, 0, len(src)+int(b.ch.AppendedSize()))
	m := make(map[uint32]uint32)
	var next uint32 = 1
	for i := 0; i < count; i++ {
		idx := uint32(i + 1)
		if b.ch.IsRemoved(idx) {
			m[idx] = 0
			continue
		}
		m[idx] = next
		next++
		if g, ok := b.ch.Modified(idx); ok {
			out = append(out, g[:]...)
			continue
		}
		out = append(out, src[i*format.GUIDSize:(i+1)*format.GUIDSize]...)
	}

	items, prov := b.ch.Appended()
	for i, g := range items {
		if b.ch.IsRemoved(prov[i]) {
			m[prov[i]] = 0
			continue
		}
		if mod, ok := b.ch.Modified(prov[i]); ok {
			g = mod
		}
		m[prov[i]] = next
		next++
		out = append(out, g[:]...)
	}
	// Trailing bytes that do not form a whole record are kept after the records.
	out = append(out, src[count*format.GUIDSize:]...)
	if _, err := heapIndex(changes.HeapGUID, len(out)); err != nil {
		return nil, nil, err
	}
	return out, m, nil
}
