// Package layout plans the byte layout of a rewritten CLI image.
//
// A Planner reads an immutable view of the source assembly together with its
// pending changes and produces a WriteLayout: the position of every header,
// section and metadata stream in the new file, plus the copy, zero and write
// operations an executor applies to produce it. Planning performs no I/O and
// never touches the source bytes beyond reading them.
package layout

import "fmt"

// FileRegion is a half-open byte range [Offset, Offset+Size) in a file.
type FileRegion struct {
	Offset uint64
	Size   uint64
}

// End returns the first offset past the region.
func (r FileRegion) End() uint64 { return r.Offset + r.Size }

// IsEmpty reports whether the region covers no bytes.
func (r FileRegion) IsEmpty() bool { return r.Size == 0 }

// Contains reports whether off lies inside the region.
func (r FileRegion) Contains(off uint64) bool {
	return off >= r.Offset && off < r.End()
}

// ContainsRegion reports whether o lies entirely inside r.
func (r FileRegion) ContainsRegion(o FileRegion) bool {
	return o.Offset >= r.Offset && o.End() <= r.End()
}

// Overlaps reports whether two non-empty regions share at least one byte.
func (r FileRegion) Overlaps(o FileRegion) bool {
	if r.IsEmpty() || o.IsEmpty() {
		return false
	}
	return r.Offset < o.End() && o.Offset < r.End()
}

func (r FileRegion) String() string {
	return fmt.Sprintf("[0x%X, 0x%X)", r.Offset, r.End())
}
