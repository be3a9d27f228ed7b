package heaps

import (
	"fmt"

	"github.com/pmikstacki/bsharp-sub005/internal/changes"
	"github.com/pmikstacki/bsharp-sub005/internal/format"
)

// walkFramed visits each length-prefixed entry of a #Blob or #US heap.
// Bytes that do not decode as an entry are passed once as an opaque tail
// with ok=false.
func walkFramed(src []byte, visit func(idx uint32, entry []byte, ok bool) error) error {
	for off := 0; off < len(src); {
		n, w, err := format.ReadCompressedUint(src[off:])
		if err != nil || off+w+int(n) > len(src) {
			return visit(uint32(off), src[off:], false)
		}
		end := off + w + int(n)
		if err := visit(uint32(off), src[off:end], true); err != nil {
			return err
		}
		off = end
	}
	return nil
}

// framedEntry encodes a length prefix followed by payload.
func framedEntry(kind changes.HeapKind, payload []byte) ([]byte, error) {
	out, err := format.AppendCompressedUint(make([]byte, 0, len(payload)+4), uint32(len(payload)))
	if err != nil {
		return nil, fmt.Errorf("%s entry of %d bytes: %w", kind, len(payload), err)
	}
	return append(out, payload...), nil
}

// rebuildFramed is shared by the blob and user-string builders.
func rebuildFramed[T any](src []byte, ch *changes.HeapChanges[T], encode func(T) ([]byte, error)) ([]byte, map[uint32]uint32, error) {
	if len(src) == 0 {
		src = []byte{0}
	}
	out := make([]byte, 0, len(src)+int(ch.AppendedSize()))
	m := make(map[uint32]uint32)
	err := walkFramed(src, func(idx uint32, entry []byte, ok bool) error {
		if idx != 0 && ok && ch.IsRemoved(idx) {
			m[idx] = 0
			return nil
		}
		at, err := heapIndex(ch.Kind(), len(out))
		if err != nil {
			return err
		}
		m[idx] = at
		if v, mod := ch.Modified(idx); mod && ok && idx != 0 {
			enc, err := encode(v)
			if err != nil {
				return err
			}
			out = append(out, enc...)
			return nil
		}
		out = append(out, entry...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	out, err = emitAppended(ch, out, m, encode)
	if err != nil {
		return nil, nil, err
	}
	return out, m, nil
}

// BlobBuilder rebuilds #Blob: entries framed by a compressed length.
type BlobBuilder struct {
	lazy
	orig []byte
	ch   *changes.HeapChanges[[]byte]
}

// NewBlobBuilder returns a builder over the source #Blob bytes.
func NewBlobBuilder(orig []byte, ch *changes.HeapChanges[[]byte]) *BlobBuilder {
	b := &BlobBuilder{orig: orig, ch: ch}
	b.lazy.build = func() ([]byte, map[uint32]uint32, error) {
		src := base(b.orig, b.ch)
		if !b.ch.HasChanges() {
			return src, nil, nil
		}
		return rebuildFramed(src, b.ch, func(v []byte) ([]byte, error) {
			return framedEntry(changes.HeapBlob, v)
		})
	}
	return b
}

// Kind returns changes.HeapBlob.
func (b *BlobBuilder) Kind() changes.HeapKind { return changes.HeapBlob }
