package heaps

import (
	"bytes"

	"github.com/pmikstacki/bsharp-sub005/internal/changes"
)

// StringBuilder rebuilds #Strings: UTF-8 entries terminated by NUL.
type StringBuilder struct {
	lazy
	orig []byte
	ch   *changes.HeapChanges[string]
}

// NewStringBuilder returns a builder over the source #Strings bytes.
func NewStringBuilder(orig []byte, ch *changes.HeapChanges[string]) *StringBuilder {
	b := &StringBuilder{orig: orig, ch: ch}
	b.lazy.build = b.build
	return b
}

// Kind returns changes.HeapStrings.
func (b *StringBuilder) Kind() changes.HeapKind { return changes.HeapStrings }

func (b *StringBuilder) build() ([]byte, map[uint32]uint32, error) {
	src := base(b.orig, b.ch)
	if !b.ch.HasChanges() {
		return src, nil, nil
	}
	if len(src) == 0 {
		src = []byte{0}
	}

	out := make([]byte, 0, len(src)+int(b.ch.AppendedSize()))
	m := make(map[uint32]uint32)
	for off := 0; off < len(src); {
		end := len(src)
		if i := bytes.IndexByte(src[off:], 0); i >= 0 {
			end = off + i + 1
		}
		idx := uint32(off)
		entry := src[off:end]
		off = end

		// Index 0 is the empty string and never moves.
		if idx != 0 && b.ch.IsRemoved(idx) {
			m[idx] = 0
			continue
		}
		at, err := heapIndex(changes.HeapStrings, len(out))
		if err != nil {
			return nil, nil, err
		}
		m[idx] = at
		if s, ok := b.ch.Modified(idx); ok && idx != 0 {
			out = append(append(out, s...), 0)
			continue
		}
		out = append(out, entry...)
		if entry[len(entry)-1] != 0 {
			out = append(out, 0)
		}
	}

	out, err := emitAppended(b.ch, out, m, func(s string) ([]byte, error) {
		return append([]byte(s), 0), nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, m, nil
}
